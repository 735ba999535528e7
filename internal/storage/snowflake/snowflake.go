// Package snowflake is the production warehouse backend.
//
// Column identifiers are left unquoted so they resolve against the
// upper-cased names Snowflake stores for unquoted DDL.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sf "github.com/snowflakedb/gosnowflake"

	"ctingest/internal/storage"
)

// maxRows is Snowflake's limit on rows in one VALUES clause.
const maxRows = 16384

// Dialect is the Snowflake SQL dialect. The clear step is a DELETE because
// TRUNCATE would not roll back with the load.
var Dialect = storage.Dialect{
	Name:         "snowflake",
	Placeholder:  storage.QuestionPlaceholder,
	Ident:        storage.BareIdent,
	TextType:     "VARCHAR",
	ClearSQL:     func(table string) string { return "DELETE FROM " + table },
	IdentitySQL:  "SELECT CURRENT_VERSION(), CURRENT_DATABASE(), CURRENT_USER()",
	TopGroupsSQL: storage.LimitTopGroups(storage.BareIdent),
	CreateSchemaSQL: func(ns string) string {
		return "CREATE SCHEMA IF NOT EXISTS " + ns
	},
	MaxRows: maxRows,
}

func init() {
	storage.Register("snowflake", Open)
}

// DSN renders the driver DSN for the discrete connection settings.
func DSN(p storage.Params) (string, error) {
	cfg := &sf.Config{
		Account:   p.Account,
		User:      p.User,
		Password:  p.Password,
		Warehouse: p.Warehouse,
		Database:  p.Database,
		Schema:    p.Schema,
		Role:      p.Role,
	}
	dsn, err := sf.DSN(cfg)
	if err != nil {
		return "", fmt.Errorf("snowflake: build dsn: %w", err)
	}
	return dsn, nil
}

// Open connects using cfg.DSN when set, otherwise cfg.Params.
func Open(ctx context.Context, cfg storage.Config) (storage.Session, error) {
	dsn := cfg.DSN
	if dsn == "" {
		var err error
		if dsn, err = DSN(cfg.Params); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("snowflake: open: %w", err)
	}
	// One load runs in one transaction on one connection.
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snowflake: ping: %w", err)
	}
	return newSession(db), nil
}

func newSession(db storage.DB) *storage.SQLSession {
	return storage.NewSQLSession(db, Dialect)
}
