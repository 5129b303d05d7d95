// TableSpec lives here so the schema package and every backend can share it
// without import cycles.
package storage

import "strings"

type TableSpec struct {
	Name       string          `json:"name"`
	PrimaryKey *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns    []ColumnSpec    `json:"columns"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // serial | bigserial | backend-native type
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable *bool  `json:"nullable,omitempty"`
}

// ColumnNames returns the insertable column names in declaration order.
// The primary key is excluded because every backend generates it.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// IsNullable reports the effective nullability. A nil Nullable means NOT NULL.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable != nil && *c.Nullable
}

// SerialType reports whether a primary key type asks for an auto-increment
// surrogate key, and whether it is the 64-bit variant.
func (pk PrimaryKeySpec) SerialType() (serial bool, big bool) {
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial", "identity", "int identity", "integer identity":
		return true, false
	case "bigserial", "bigint identity":
		return true, true
	default:
		return false, false
	}
}
