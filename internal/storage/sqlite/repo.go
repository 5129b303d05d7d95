package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"pulse/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.Repository for SQLite (pure-Go modernc driver).
//
// SQLite allows one writer at a time, so the pool is pinned to a single
// connection. This also keeps ":memory:" databases alive across calls.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", classify(err))
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Dialect() storage.Dialect { return Dialect{} }

// ResetTables drops and recreates every table. SQLite has no CASCADE; the
// schema carries no foreign keys so plain DROP is equivalent.
func (r *Repo) ResetTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		dropSQL, createSQL, err := buildResetSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, dropSQL); err != nil {
			return fmt.Errorf("sqlite: drop table %s: %w", t.Name, classify(err))
		}
		if _, err := r.db.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, classify(err))
		}
	}
	return nil
}

// InsertRows performs chunked multi-row inserts inside one transaction.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range storage.Chunks(rows, effectiveBatchSize(batchSize, len(columns))) {
		q, args, err := buildInsertSQL(table, columns, chunk)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert %s: %w", table, classify(err))
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit %s: %w", table, classify(err))
	}
	return total, nil
}

func (r *Repo) Query(ctx context.Context, query string, args []any, fn func(storage.RowScanner) error) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: query: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: query rows: %w", classify(err))
	}
	return nil
}

// Dialect renders ? placeholders and double-quoted identifiers.
type Dialect struct{}

func (Dialect) Name() string             { return "sqlite" }
func (Dialect) Placeholder(int) string   { return "?" }
func (Dialect) Ident(name string) string { return sqlIdent(name) }
func (Dialect) Limit(n int) string       { return fmt.Sprintf("LIMIT %d", n) }

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildResetSQL translates the shared table spec into SQLite DDL.
//
// "serial"/"bigserial" become INTEGER PRIMARY KEY AUTOINCREMENT, which is the
// rowid alias and auto-generates values.
func buildResetSQL(t storage.TableSpec) (dropSQL, createSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("sqlite: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return "", "", fmt.Errorf("sqlite: table %s: primary key name is empty", t.Name)
		}
		if serial, _ := t.PrimaryKey.SerialType(); serial {
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		} else {
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
		}
	}

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return "", "", fmt.Errorf("sqlite: table %s: column name/type must be set", t.Name)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type)
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	if len(parts) == 0 {
		return "", "", fmt.Errorf("sqlite: table %s: no columns", t.Name)
	}

	dropSQL = fmt.Sprintf("DROP TABLE IF EXISTS %s;", sqlIdent(t.Name))
	createSQL = fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  "))
	return dropSQL, createSQL, nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("sqlite: insert %s: no columns", table)
	}

	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("sqlite: insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}

// classify marks broken pooled connections. An embedded database has no
// network, so everything else is a statement error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", storage.ErrConnection, err)
	}
	return err
}

// maxVariables is SQLITE_MAX_VARIABLE_NUMBER in the bundled SQLite build.
const maxVariables = 32766

// effectiveBatchSize caps requested so one INSERT stays under maxVariables.
func effectiveBatchSize(requested, columns int) int {
	if columns <= 0 {
		return requested
	}
	limit := maxVariables / columns
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}
