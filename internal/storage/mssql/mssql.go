// Package mssql is the SQL Server backend, using the go-mssqldb "sqlserver"
// driver.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"ctingest/internal/storage"
)

// Dialect is the SQL Server dialect. Statements are capped by the 2100
// parameter limit and the 1000-row table value constructor limit.
var Dialect = storage.Dialect{
	Name:         "mssql",
	Placeholder:  func(n int) string { return fmt.Sprintf("@p%d", n) },
	Ident:        bracketIdent,
	TextType:     "NVARCHAR(MAX)",
	ClearSQL:     func(table string) string { return "TRUNCATE TABLE " + table },
	IdentitySQL:  "SELECT @@VERSION, DB_NAME(), SUSER_SNAME()",
	TopGroupsSQL: topGroups,
	CreateSchemaSQL: func(ns string) string {
		return fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC(N'CREATE SCHEMA %s')", quoteLiteral(ns), bracketIdent(ns))
	},
	CreateTableSQL: func(table, cols string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", quoteLiteral(table), table, cols)
	},
	// Stay below the 2100 parameter limit.
	MaxParams: 2099,
	MaxRows:   1000,
}

func init() {
	storage.Register("mssql", Open)
}

// Open connects with a sqlserver:// URL DSN.
func Open(ctx context.Context, cfg storage.Config) (storage.Session, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mssql: DSN is required")
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage.NewSQLSession(db, Dialect), nil
}

func bracketIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func topGroups(table, column string, limit int) string {
	c := bracketIdent(column)
	return fmt.Sprintf(
		"SELECT TOP (%d) %s, COUNT(*) AS cnt FROM %s GROUP BY %s ORDER BY cnt DESC, %s ASC",
		limit, c, table, c, c,
	)
}
