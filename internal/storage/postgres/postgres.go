// Package postgres is the Postgres backend. It talks to the server through a
// pgx connection pool rather than database/sql.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ctingest/internal/storage"
)

// maxParams is the wire protocol's bind parameter limit (int16 count).
const maxParams = 65535

// Dialect is the Postgres SQL dialect.
var Dialect = storage.Dialect{
	Name:         "postgres",
	Placeholder:  storage.DollarPlaceholder,
	Ident:        storage.DoubleQuoteIdent,
	TextType:     "TEXT",
	ClearSQL:     func(table string) string { return "TRUNCATE TABLE " + table },
	IdentitySQL:  "SELECT version(), current_database(), current_user",
	TopGroupsSQL: storage.LimitTopGroups(storage.DoubleQuoteIdent),
	CreateSchemaSQL: func(ns string) string {
		return "CREATE SCHEMA IF NOT EXISTS " + ns
	},
	MaxParams: maxParams,
}

func init() {
	storage.Register("postgres", Open)
}

// pool is the subset of *pgxpool.Pool the session uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Session implements storage.Session for Postgres.
type Session struct {
	pool pool
}

// Open connects with cfg.DSN (a postgres:// URL or key=value string) and
// pings the server.
func Open(ctx context.Context, cfg storage.Config) (storage.Session, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: DSN is required")
	}
	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return &Session{pool: p}, nil
}

func (s *Session) Identity(ctx context.Context) (storage.Identity, error) {
	var id storage.Identity
	if err := s.pool.QueryRow(ctx, Dialect.IdentitySQL).Scan(&id.Version, &id.Database, &id.User); err != nil {
		return storage.Identity{}, fmt.Errorf("postgres: identity query: %w", err)
	}
	return id, nil
}

func (s *Session) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	stmts, err := Dialect.BuildCreate(t)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: create %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Session) BeginLoad(ctx context.Context) (storage.LoadTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &loadTx{tx: tx}, nil
}

func (s *Session) CountRows(ctx context.Context, table string) (int64, error) {
	return countRows(ctx, s.pool, table)
}

func (s *Session) TopGroups(ctx context.Context, table, column string, limit int) ([]storage.GroupCount, error) {
	rows, err := s.pool.Query(ctx, Dialect.TopGroupsSQL(table, column, limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: top %s: %w", column, err)
	}
	defer rows.Close()

	var out []storage.GroupCount
	for rows.Next() {
		var key *string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("postgres: top %s: scan: %w", column, err)
		}
		g := storage.GroupCount{Count: n}
		if key != nil {
			g.Key = *key
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: top %s: %w", column, err)
	}
	return out, nil
}

func (s *Session) Close() error {
	s.pool.Close()
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countRows(ctx context.Context, q rowQuerier, table string) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, Dialect.CountSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

type loadTx struct {
	tx pgx.Tx
}

func (t *loadTx) Clear(ctx context.Context, table string) error {
	if _, err := t.tx.Exec(ctx, Dialect.ClearSQL(table)); err != nil {
		return fmt.Errorf("postgres: clear %s: %w", table, err)
	}
	return nil
}

// InsertRows sends one multi-row INSERT per statement the dialect splits
// rows into. With 14 columns that is 4681 rows per statement.
func (t *loadTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	stmts, err := Dialect.BuildInsert(table, columns, rows)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, st := range stmts {
		tag, err := t.tx.Exec(ctx, st.SQL, st.Args...)
		if err != nil {
			return total, fmt.Errorf("postgres: insert into %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (t *loadTx) CountRows(ctx context.Context, table string) (int64, error) {
	return countRows(ctx, t.tx, table)
}

func (t *loadTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *loadTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}
