// Package sqlite is the embedded backend used for local runs and
// integration tests. It uses the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"

	"ctingest/internal/storage"
)

// Dialect is the SQLite SQL dialect. SQLite has no TRUNCATE and no schemas to
// create, so tables are unqualified.
var Dialect = storage.Dialect{
	Name:         "sqlite",
	Placeholder:  storage.QuestionPlaceholder,
	Ident:        storage.DoubleQuoteIdent,
	TextType:     "TEXT",
	ClearSQL:     func(table string) string { return "DELETE FROM " + table },
	IdentitySQL:  "SELECT sqlite_version(), 'main', 'local'",
	TopGroupsSQL: storage.LimitTopGroups(storage.DoubleQuoteIdent),
	MaxParams:    32766,
}

func init() {
	storage.Register("sqlite", Open)
}

// Open opens cfg.DSN, a file path or ":memory:".
func Open(ctx context.Context, cfg storage.Config) (storage.Session, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sqlite: DSN is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" is a fresh database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage.NewSQLSession(db, Dialect), nil
}
