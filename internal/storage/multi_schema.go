// Table specs live here so the schema deriver, the staging store and the
// relational backends can share them without importing each other.
package storage

import "strings"

// TableKind tells which role a table plays in the normalized layout.
type TableKind string

const (
	KindPrimary   TableKind = "primary"
	KindConnected TableKind = "connected"
	KindLink      TableKind = "link"
)

// Logical column types. Backends translate them into their own DDL types.
const (
	TypeKey      = "key"
	TypeInteger  = "integer"
	TypeText     = "text"
	TypeNumber   = "number"
	TypeDate     = "date"
	TypeTime     = "time"
	TypeBoolean  = "boolean"
	TypeSequence = "sequence"
)

// SeqColumn is the ordering column every link table carries.
const SeqColumn = "seq"

type TableSpec struct {
	Name     string    `json:"name"`
	Kind     TableKind `json:"kind"`
	Category string    `json:"category"`

	// Connection is set on link tables only.
	Connection string `json:"connection,omitempty"`

	AutoCreateTable bool             `json:"auto_create_table"`
	PrimaryKey      *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns         []ColumnSpec     `json:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty"`
	ForeignKeys     []ForeignKeySpec `json:"foreign_keys,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // TypeKey for externally supplied surrogate keys
}

type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// Source is the field name as the source store spells it. Serializers
	// use it for element names; Name is the sanitized SQL identifier.
	Source   string `json:"source,omitempty"`
	Nullable *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "primary_key" | "unique"
	Columns []string `json:"columns"`
}

type ForeignKeySpec struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// ConflictSpec controls how an insert treats rows whose key already exists.
type ConflictSpec struct {
	TargetColumns []string `json:"target_columns"`
	Action        string   `json:"action"` // "do_nothing" | "merge"
}

const (
	ConflictDoNothing = "do_nothing"
	// ConflictMerge keeps existing non-null values unless the incoming
	// value is non-null.
	ConflictMerge = "merge"
)

// KeyColumn returns the single-column primary key, or "" for link tables.
func (t TableSpec) KeyColumn() string {
	if t.PrimaryKey == nil {
		return ""
	}
	return t.PrimaryKey.Name
}

// ColumnNames lists the key column (if any) followed by the declared columns.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Name)
	}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Column finds a declared column by case-insensitive name.
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnForSource finds the column a source field was stored under.
func (t TableSpec) ColumnForSource(field string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Source, field) {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// CompoundKey returns the columns of a "primary_key" constraint, if declared.
func (t TableSpec) CompoundKey() []string {
	for _, c := range t.Constraints {
		if c.Kind == "primary_key" {
			return c.Columns
		}
	}
	return nil
}

// OrderColumns returns the columns rows of t are naturally ordered by.
func (t TableSpec) OrderColumns() []string {
	if k := t.KeyColumn(); k != "" {
		return []string{k}
	}
	if cols := t.CompoundKey(); len(cols) > 0 {
		out := append([]string(nil), cols...)
		if _, ok := t.Column(SeqColumn); ok {
			out = append(out[:1:1], SeqColumn)
		}
		return out
	}
	return nil
}

func BoolPtr(b bool) *bool { return &b }

// IsNullable reports the effective nullability (nil means nullable).
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}
