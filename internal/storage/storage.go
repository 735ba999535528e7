// Package storage opens warehouse sessions for the bronze load.
//
// Backends live in sub-packages and register themselves from init(); import
// internal/storage/all to link every backend into a binary. Config.Kind picks
// one at runtime.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ctingest/internal/errs"
)

// Params are the discrete connection settings used when Config.DSN is empty.
// Only the snowflake backend consumes them today.
type Params struct {
	Account   string
	User      string
	Password  string
	Warehouse string
	Database  string
	Schema    string
	Role      string
}

// Config selects and configures a backend.
type Config struct {
	// Kind must match a registered backend ("snowflake", "postgres", "sqlite", "mssql").
	Kind string

	// DSN is passed to the driver as-is when set.
	DSN string

	Params Params
}

// Identity is what the connectivity check reports about the session.
type Identity struct {
	Version  string
	Database string
	User     string
}

// GroupCount is one row of a grouped count.
type GroupCount struct {
	Key   string
	Count int64
}

// Session is one open warehouse connection, owned by a single caller.
//
// Sessions are not safe for concurrent use. Close must be called exactly once
// on every exit path.
type Session interface {
	// Identity returns server version, active database and active user.
	Identity(ctx context.Context) (Identity, error)

	// EnsureTable creates the table (and its schema, where the backend has
	// one) if it does not exist.
	EnsureTable(ctx context.Context, t TableSpec) error

	// BeginLoad starts the single transaction a load runs in.
	BeginLoad(ctx context.Context) (LoadTx, error)

	// CountRows returns SELECT COUNT(*) for table.
	CountRows(ctx context.Context, table string) (int64, error)

	// TopGroups returns the limit most frequent values of column, by count
	// descending and then by value ascending.
	TopGroups(ctx context.Context, table, column string, limit int) ([]GroupCount, error)

	Close() error
}

// LoadTx is the load transaction. Nothing it writes is visible to other
// sessions until Commit. After Commit or Rollback it must not be used, except
// that Rollback after Commit is a harmless no-op.
type LoadTx interface {
	// Clear removes every row of table inside the transaction.
	Clear(ctx context.Context, table string) error

	// InsertRows inserts rows as one logical multi-row insert. Backends split
	// it into several statements only where driver parameter limits require.
	// Each row must have len(columns) values.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// CountRows counts table as seen from inside the transaction.
	CountRows(ctx context.Context, table string) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory opens a session for a backend.
type Factory func(ctx context.Context, cfg Config) (Session, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is meant to be called
// from a backend package's init().
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists registered backends in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open connects to the configured backend. Every failure wraps
// errs.ErrConnection.
func Open(ctx context.Context, cfg Config) (Session, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("%w: storage: missing kind", errs.ErrConnection)
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: storage: unsupported kind=%s (registered: %v)", errs.ErrConnection, cfg.Kind, Kinds())
	}

	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", errs.ErrConnection, cfg.Kind, err)
	}
	return s, nil
}
