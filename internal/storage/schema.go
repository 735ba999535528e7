package storage

import (
	"strings"

	"ctingest/internal/sales"
)

// TableSpec describes the bronze table: a possibly qualified name and its
// columns, all text-typed.
type TableSpec struct {
	Name    string
	Columns []string
}

// BronzeSales returns the fixed 14-column sales table under name.
func BronzeSales(name string) TableSpec {
	return TableSpec{Name: name, Columns: sales.ColumnNames()}
}

// SplitQualified splits "db.schema.table" into its namespace ("db.schema")
// and the bare table name. An unqualified name has an empty namespace.
func SplitQualified(name string) (namespace, table string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
