package query

import (
	"strings"

	"pulse/internal/storage"
)

// Filter narrows an aggregate. An empty slice means no restriction on that
// dimension; several values are OR-ed with IN.
type Filter struct {
	Years            []int
	Quarters         []int
	States           []string
	TransactionTypes []string
}

// dims selects which Filter fields a query honours.
type dims uint8

const (
	byYear dims = 1 << iota
	byQuarter
	byState
	byType
)

// stmt accumulates bind arguments while a statement is rendered.
type stmt struct {
	d    storage.Dialect
	args []any
}

func (s *stmt) bind(v any) string {
	s.args = append(s.args, v)
	return s.d.Placeholder(len(s.args))
}

func (s *stmt) col(name string) string { return s.d.Ident(name) }

func (s *stmt) member(col string, vals []any) string {
	if len(vals) == 1 {
		return s.col(col) + " = " + s.bind(vals[0])
	}
	marks := make([]string, len(vals))
	for i, v := range vals {
		marks[i] = s.bind(v)
	}
	return s.col(col) + " IN (" + strings.Join(marks, ", ") + ")"
}

// where renders the WHERE clause for the dimensions in use, or "" when the
// filter does not restrict any of them.
func (s *stmt) where(f Filter, use dims) string {
	var conds []string
	if use&byYear != 0 && len(f.Years) > 0 {
		conds = append(conds, s.member("year", ints(f.Years)))
	}
	if use&byQuarter != 0 && len(f.Quarters) > 0 {
		conds = append(conds, s.member("quarter", ints(f.Quarters)))
	}
	if use&byState != 0 && len(f.States) > 0 {
		conds = append(conds, s.member("state", strs(f.States)))
	}
	if use&byType != 0 && len(f.TransactionTypes) > 0 {
		conds = append(conds, s.member("transaction_type", strs(f.TransactionTypes)))
	}
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

func ints(v []int) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func strs(v []string) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}
