package storage

// Dialect is the small set of syntax differences hand-built SQL needs.
type Dialect interface {
	// Name is the backend kind ("postgres", "sqlite", "mssql").
	Name() string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	// Ident quotes a single identifier.
	Ident(name string) string

	// Limit returns the clause that restricts an ORDER BY query to n rows.
	// It is appended after the ORDER BY clause.
	Limit(n int) string
}

// Chunks splits rows into consecutive slices of at most size rows.
// A non-positive size yields a single chunk.
func Chunks(rows [][]any, size int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 || size >= len(rows) {
		return [][][]any{rows}
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
