package storage

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between backends. The statement
// builders below are pure so each backend's SQL can be unit tested without a
// database.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// Ident renders a column identifier.
	Ident func(name string) string

	// TextType is the column type used for every bronze column.
	TextType string

	// ClearSQL empties a table inside a transaction.
	ClearSQL func(table string) string

	// IdentitySQL selects server version, current database and current user.
	IdentitySQL string

	// TopGroupsSQL selects the limit most frequent values of column.
	TopGroupsSQL func(table, column string, limit int) string

	// CreateSchemaSQL creates the namespace of a qualified table. Nil means the
	// backend has no schemas to create.
	CreateSchemaSQL func(namespace string) string

	// CreateTableSQL wraps a column list into a create-if-missing statement.
	// Nil means "CREATE TABLE IF NOT EXISTS <table> (<cols>)".
	CreateTableSQL func(table, cols string) string

	// MaxParams caps bind parameters per statement. Zero means no cap.
	MaxParams int

	// MaxRows caps VALUES rows per statement. Zero means no cap.
	MaxRows int
}

// Statement is one SQL text plus its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// QuestionPlaceholder renders "?" for every position.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders "$n".
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// BareIdent leaves identifiers unquoted, so warehouses that upper-case
// unquoted names resolve them case-insensitively.
func BareIdent(name string) string { return name }

// DoubleQuoteIdent quotes an identifier with double quotes.
func DoubleQuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// RowsPerStatement returns how many rows of width cols fit in one statement.
func (d Dialect) RowsPerStatement(cols int) int {
	n := 0
	if d.MaxParams > 0 && cols > 0 {
		n = d.MaxParams / cols
		if n < 1 {
			n = 1
		}
	}
	if d.MaxRows > 0 && (n == 0 || d.MaxRows < n) {
		n = d.MaxRows
	}
	return n
}

// BuildInsert renders rows as multi-row INSERT statements, splitting only
// when the dialect's limits require it. Placeholder numbering restarts in
// each statement.
//
// Constraints:
//   - columns must be non-empty.
//   - every row must have len(columns) values.
func (d Dialect) BuildInsert(table string, columns []string, rows [][]any) ([]Statement, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%s: insert into %s: no columns", d.Name, table)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("%s: insert into %s: row %d has %d values, want %d", d.Name, table, i, len(r), len(columns))
		}
	}

	var prefix strings.Builder
	prefix.WriteString("INSERT INTO ")
	prefix.WriteString(table)
	prefix.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			prefix.WriteString(", ")
		}
		prefix.WriteString(d.Ident(c))
	}
	prefix.WriteString(") VALUES ")

	per := d.RowsPerStatement(len(columns))
	if per <= 0 {
		per = len(rows)
	}

	out := make([]Statement, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		chunk := rows[start:min(start+per, len(rows))]

		var b strings.Builder
		b.WriteString(prefix.String())
		args := make([]any, 0, len(chunk)*len(columns))
		p := 1
		for i, row := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j := range columns {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(d.Placeholder(p))
				args = append(args, row[j])
				p++
			}
			b.WriteString(")")
		}
		out = append(out, Statement{SQL: b.String(), Args: args})
	}
	return out, nil
}

// BuildCreate renders the statements EnsureTable runs, schema first.
func (d Dialect) BuildCreate(t TableSpec) ([]string, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("%s: create table: empty name", d.Name)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%s: create table %s: no columns", d.Name, t.Name)
	}

	var stmts []string
	if ns, _ := SplitQualified(t.Name); ns != "" && d.CreateSchemaSQL != nil {
		stmts = append(stmts, d.CreateSchemaSQL(ns))
	}

	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = d.Ident(c) + " " + d.TextType
	}
	cols := strings.Join(defs, ", ")

	if d.CreateTableSQL != nil {
		stmts = append(stmts, d.CreateTableSQL(t.Name, cols))
	} else {
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, cols))
	}
	return stmts, nil
}

// CountSQL selects the row count of table.
func (d Dialect) CountSQL(table string) string {
	return "SELECT COUNT(*) FROM " + table
}

// LimitTopGroups is the TopGroupsSQL shape for dialects that support LIMIT.
func LimitTopGroups(ident func(string) string) func(table, column string, limit int) string {
	return func(table, column string, limit int) string {
		c := ident(column)
		return fmt.Sprintf(
			"SELECT %s, COUNT(*) AS cnt FROM %s GROUP BY %s ORDER BY cnt DESC, %s ASC LIMIT %d",
			c, table, c, c, limit,
		)
	}
}
