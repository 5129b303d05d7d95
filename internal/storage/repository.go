package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ErrConnection marks failures where the database connection itself broke
// (dropped socket, timeout, bad pooled conn). Loaders may retry these; every
// other error is a data or statement error.
var ErrConnection = errors.New("storage: connection failure")

// Repository is the backend-agnostic surface the loader and query layers use.
//
// Each backend implements these semantics in its own idiomatic way (pgx pool
// for Postgres, database/sql for SQLite and SQL Server).
type Repository interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// Dialect describes placeholder and identifier syntax for hand-built SQL.
	Dialect() Dialect

	// ResetTables drops and recreates every table in order. Existing rows are
	// discarded. Any DDL failure is returned immediately.
	ResetTables(ctx context.Context, tables []TableSpec) error

	// InsertRows writes rows inside a single transaction, chunked into
	// multi-row INSERT statements of at most batchSize rows. On any error the
	// transaction is rolled back and no row from this call is visible.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) (int64, error)

	// Query runs a read-only statement and calls fn once per result row.
	Query(ctx context.Context, query string, args []any, fn func(RowScanner) error) error
}

// RowScanner is satisfied by both pgx.Rows and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering the
// same kind more than once panics so backend selection is never ambiguous.
func Register(kind string, f factory) {
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

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, unsorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
