// Package dataset turns one decoded corpus file into flat table rows.
//
// Every record kind is described by a Descriptor: the target table, the
// ordered insert columns, the corpus sub-path it lives under, and the
// normalizer that maps a payload onto rows.
package dataset

import (
	"fmt"

	"pulse/internal/schema"
)

type Kind int

const (
	AggregatedTransaction Kind = iota
	AggregatedInsurance
	AggregatedUser
	MapTransaction
	MapUser
	TopTransaction
	TopUser
)

// Key is the dimensional key shared by every row of one file.
type Key struct {
	Country string
	State   string
	Year    int
	Quarter int
}

func (k Key) values() []any {
	return []any{k.Country, k.State, k.Year, k.Quarter}
}

// Result is the outcome of normalizing one payload. Skipped is set when a
// required top-level key is missing; Reason then names what was missing.
type Result struct {
	Rows    [][]any
	Skipped bool
	Reason  string
}

func skip(reason string) (Result, error) {
	return Result{Skipped: true, Reason: reason}, nil
}

// Descriptor ties a record kind to its table and normalizer.
type Descriptor struct {
	Kind    Kind
	Table   string
	Columns []string

	// Path is the national root relative to the corpus root. State roots live
	// under Path/state/<name>.
	Path string

	normalize func(key Key, raw []byte) (Result, error)
}

// Normalize maps one payload onto rows for this kind. A nil raw payload is
// a skip, not an error. Errors are returned only when the payload has the
// expected keys but values of the wrong JSON type.
func (d Descriptor) Normalize(key Key, raw []byte) (Result, error) {
	res, err := d.normalize(key, raw)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", d.Table, err)
	}
	return res, nil
}

func (k Kind) String() string {
	if d, ok := Lookup(k); ok {
		return d.Table
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func columns(table string) []string {
	t, ok := schema.Lookup(table)
	if !ok {
		panic("dataset: unknown table " + table)
	}
	return t.ColumnNames()
}

var descriptors = []Descriptor{
	{Kind: AggregatedTransaction, Table: schema.AggregatedTransaction, Path: "data/aggregated/transaction/country/india", normalize: normalizeTransaction},
	{Kind: AggregatedInsurance, Table: schema.AggregatedInsurance, Path: "data/aggregated/insurance/country/india", normalize: normalizeTransaction},
	{Kind: AggregatedUser, Table: schema.AggregatedUser, Path: "data/aggregated/user/country/india", normalize: normalizeUser},
	{Kind: MapTransaction, Table: schema.MapTransaction, Path: "data/map/transaction/hover/country/india", normalize: normalizeMapTransaction},
	{Kind: MapUser, Table: schema.MapUser, Path: "data/map/user/hover/country/india", normalize: normalizeMapUser},
	{Kind: TopTransaction, Table: schema.TopTransaction, Path: "data/top/transaction/country/india", normalize: normalizeTopTransaction},
	{Kind: TopUser, Table: schema.TopUser, Path: "data/top/user/country/india", normalize: normalizeTopUser},
}

func init() {
	for i := range descriptors {
		descriptors[i].Columns = columns(descriptors[i].Table)
	}
}

// All returns the descriptors in load order.
func All() []Descriptor {
	return append([]Descriptor(nil), descriptors...)
}

func Lookup(k Kind) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Kind == k {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ByTable finds a descriptor by its table name (e.g. "map_user").
func ByTable(table string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Table == table {
			return d, true
		}
	}
	return Descriptor{}, false
}
