package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulse/internal/storage"
)

// maxParams is the bind-parameter limit of one Postgres statement.
const maxParams = 65535

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres on a pgx pool.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a pool and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", classify(err))
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) Dialect() storage.Dialect { return Dialect{} }

// ResetTables drops each table with CASCADE and recreates it.
func (r *Repo) ResetTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		dropSQL, createSQL, err := buildResetSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, dropSQL); err != nil {
			return fmt.Errorf("postgres: drop table %s: %w", t.Name, classify(err))
		}
		if _, err := r.pool.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, classify(err))
		}
	}
	return nil
}

// InsertRows writes all rows in one transaction using multi-row INSERTs.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", classify(err))
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, chunk := range storage.Chunks(rows, effectiveBatchSize(batchSize, len(columns))) {
		sql, args, err := buildInsertSQL(table, columns, chunk)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("postgres: insert %s: %w", table, classify(err))
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit %s: %w", table, classify(err))
	}
	return total, nil
}

// effectiveBatchSize caps requested so one INSERT stays under maxParams.
// A requested size of 0 or less means as many rows as fit.
func effectiveBatchSize(requested, columns int) int {
	if columns <= 0 {
		return requested
	}
	limit := maxParams / columns
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// Query runs a read-only statement and streams rows to fn.
func (r *Repo) Query(ctx context.Context, query string, args []any, fn func(storage.RowScanner) error) error {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: query: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: query rows: %w", classify(err))
	}
	return nil
}

// Dialect renders $n placeholders and double-quoted identifiers.
type Dialect struct{}

func (Dialect) Name() string             { return "postgres" }
func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Dialect) Ident(name string) string { return pgIdent(name) }
func (Dialect) Limit(n int) string       { return fmt.Sprintf("LIMIT %d", n) }

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Pure and deterministic so placeholder numbering can be tested without a
// database. Every row must have len(columns) values.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("postgres: insert %s: no columns", table)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("postgres: insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args, nil
}

// buildResetSQL returns the DROP ... CASCADE and CREATE TABLE statements.
func buildResetSQL(t storage.TableSpec) (dropSQL, createSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("postgres: table name is empty")
	}

	defs, err := buildColumnDefs(t)
	if err != nil {
		return "", "", err
	}

	dropSQL = fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE;`, pgTableIdent(t.Name))
	createSQL = fmt.Sprintf(`CREATE TABLE %s (%s);`, pgTableIdent(t.Name), strings.Join(defs, ", "))
	return dropSQL, createSQL, nil
}

// buildColumnDefs returns "<col> <type> ..." definitions with the primary key first.
func buildColumnDefs(t storage.TableSpec) ([]string, error) {
	cols := make([]string, 0, len(t.Columns)+1)

	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		pkType := strings.TrimSpace(t.PrimaryKey.Type)
		if pk == "" || pkType == "" {
			return nil, fmt.Errorf("postgres: table %s: primary_key.name and primary_key.type are required", t.Name)
		}
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), strings.ToUpper(pkType)))
	}

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		typ := strings.TrimSpace(c.Type)
		if name == "" || typ == "" {
			return nil, fmt.Errorf("postgres: table %s: column name/type must be set", t.Name)
		}
		def := pgIdent(name) + " " + typ
		if !c.IsNullable() {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("postgres: table %s: no columns", t.Name)
	}
	return cols, nil
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a possibly schema-qualified name.
//
//	"public.map_user" -> "public"."map_user"
func pgTableIdent(name string) string {
	return pgx.Identifier(strings.Split(strings.TrimSpace(name), ".")).Sanitize()
}

// classify marks connection-class failures with storage.ErrConnection.
//
// Server-reported errors are statement errors unless their SQLSTATE is in
// class 08 (connection exception) or 57P (operator intervention).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
			return fmt.Errorf("%w: %w", storage.ErrConnection, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", storage.ErrConnection, err)
	}
	return err
}
