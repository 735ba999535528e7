package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DB is the subset of *sql.DB a SQLSession needs.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// SQLSession implements Session over database/sql for any Dialect.
type SQLSession struct {
	db DB
	d  Dialect
}

// NewSQLSession wraps an open database handle. The session takes ownership
// of db and closes it on Close.
func NewSQLSession(db DB, d Dialect) *SQLSession {
	return &SQLSession{db: db, d: d}
}

// Dialect returns the session's dialect.
func (s *SQLSession) Dialect() Dialect { return s.d }

func (s *SQLSession) Identity(ctx context.Context) (Identity, error) {
	var id Identity
	var version, database, user sql.NullString
	if err := s.db.QueryRowContext(ctx, s.d.IdentitySQL).Scan(&version, &database, &user); err != nil {
		return id, fmt.Errorf("%s: identity query: %w", s.d.Name, err)
	}
	id.Version, id.Database, id.User = version.String, database.String, user.String
	return id, nil
}

func (s *SQLSession) EnsureTable(ctx context.Context, t TableSpec) error {
	stmts, err := s.d.BuildCreate(t)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s: create %s: %w", s.d.Name, t.Name, err)
		}
	}
	return nil
}

func (s *SQLSession) BeginLoad(ctx context.Context) (LoadTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", s.d.Name, err)
	}
	return &sqlLoadTx{tx: tx, d: s.d}, nil
}

func (s *SQLSession) CountRows(ctx context.Context, table string) (int64, error) {
	return countRows(ctx, s.db, s.d, table)
}

func (s *SQLSession) TopGroups(ctx context.Context, table, column string, limit int) ([]GroupCount, error) {
	rows, err := s.db.QueryContext(ctx, s.d.TopGroupsSQL(table, column, limit))
	if err != nil {
		return nil, fmt.Errorf("%s: top %s: %w", s.d.Name, column, err)
	}
	defer rows.Close()

	var out []GroupCount
	for rows.Next() {
		var key sql.NullString
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("%s: top %s: scan: %w", s.d.Name, column, err)
		}
		out = append(out, GroupCount{Key: key.String, Count: n})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: top %s: %w", s.d.Name, column, err)
	}
	return out, nil
}

func (s *SQLSession) Close() error {
	return s.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countRows(ctx context.Context, q queryRower, d Dialect, table string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, d.CountSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", d.Name, table, err)
	}
	return n, nil
}

type sqlLoadTx struct {
	tx *sql.Tx
	d  Dialect
}

func (t *sqlLoadTx) Clear(ctx context.Context, table string) error {
	if _, err := t.tx.ExecContext(ctx, t.d.ClearSQL(table)); err != nil {
		return fmt.Errorf("%s: clear %s: %w", t.d.Name, table, err)
	}
	return nil
}

func (t *sqlLoadTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	stmts, err := t.d.BuildInsert(table, columns, rows)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, st := range stmts {
		res, err := t.tx.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return total, fmt.Errorf("%s: insert into %s: %w", t.d.Name, table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			// Not every driver reports it; the statement succeeded.
			n = int64(len(st.Args) / len(columns))
		}
		total += n
	}
	return total, nil
}

func (t *sqlLoadTx) CountRows(ctx context.Context, table string) (int64, error) {
	return countRows(ctx, t.tx, t.d, table)
}

func (t *sqlLoadTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", t.d.Name, err)
	}
	return nil
}

func (t *sqlLoadTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%s: rollback: %w", t.d.Name, err)
	}
	return nil
}
