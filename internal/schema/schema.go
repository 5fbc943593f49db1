// Package schema derives the normalized table layout of an export from the
// classified columns of its cursor.
//
// The layout is one Primary table (the cursor's category and its direct
// fields), one Connected table per distinct category reached through a
// connection, and one Link table per (connection, category) pair. Tables are
// expressed as storage.TableSpec so the staging store, the relational
// backends and the workbook writer all consume the same description.
package schema

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"itemexport/internal/catalog"
	"itemexport/internal/storage"
)

// Logger is the minimal logging surface used while deriving.
type Logger interface {
	Printf(format string, v ...any)
}

type Options struct {
	// FirstSeenWins keeps the first scalar type when a field of one category
	// is described with two types, instead of failing.
	FirstSeenWins bool
	Logger        Logger
}

// Pair ties a (connection, category) pair to its Link and Connected tables.
type Pair struct {
	Connection string
	Category   string
	Link       string // link table name
	Connected  string // connected table name
	LinkColumn string // link column referencing the connected key
}

// Name is the element name nested children are written under.
func (p Pair) Name() string { return compact(p.Connection) + "." + p.Category }

// Conflict records a field described with incompatible types.
type Conflict struct {
	Table    string
	Field    string
	Kept     catalog.ScalarType
	Rejected catalog.ScalarType
	Ordinal  int
}

// Schema is immutable once Derive returns it.
type Schema struct {
	Primary   storage.TableSpec
	Connected []storage.TableSpec
	Links     []storage.TableSpec
	Pairs     []Pair
	Conflicts []Conflict
}

// Tables lists every table in creation order: primary, connected, link.
func (s *Schema) Tables() []storage.TableSpec {
	out := make([]storage.TableSpec, 0, 1+len(s.Connected)+len(s.Links))
	out = append(out, s.Primary)
	out = append(out, s.Connected...)
	out = append(out, s.Links...)
	return out
}

// Table finds a table by exact name.
func (s *Schema) Table(name string) (storage.TableSpec, bool) {
	for _, t := range s.Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return storage.TableSpec{}, false
}

// ConnectedTable returns the Connected table of category.
func (s *Schema) ConnectedTable(category string) (storage.TableSpec, bool) {
	for _, t := range s.Connected {
		if strings.EqualFold(t.Category, category) {
			return t, true
		}
	}
	return storage.TableSpec{}, false
}

// Pair returns the pair for (connection, category).
func (s *Schema) Pair(connection, category string) (Pair, bool) {
	for _, p := range s.Pairs {
		if p.Connection == connection && p.Category == category {
			return p, true
		}
	}
	return Pair{}, false
}

// ConflictError reports a field of one category described with two types.
type ConflictError struct {
	Table    string
	Field    string
	Ordinal  int
	First    catalog.ScalarType
	Conflict catalog.ScalarType
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schema: table=%s field %q (column %d) declared %s, previously %s",
		e.Table, e.Field, e.Ordinal, e.Conflict, e.First)
}

// NameCollisionError reports two names that differ only by case.
type NameCollisionError struct {
	Scope string // "table" or the table name the columns belong to
	A, B  string
}

func (e *NameCollisionError) Error() string {
	if e.Scope == "table" {
		return fmt.Sprintf("schema: table names %q and %q collide ignoring case", e.A, e.B)
	}
	return fmt.Sprintf("schema: table=%s column names %q and %q collide ignoring case", e.Scope, e.A, e.B)
}

type tableBuilder struct {
	spec   storage.TableSpec
	fields map[string]catalog.ScalarType // folded field -> type
	order  int
}

// Derive builds the Schema for cols. primary is the cursor's category.
func Derive(primary string, cols []catalog.Column, opts Options) (*Schema, error) {
	if strings.TrimSpace(primary) == "" {
		return nil, fmt.Errorf("schema: empty primary category")
	}
	fold := cases.Fold()
	s := &Schema{}

	primaryName := sanitize(primary)
	pt := &tableBuilder{
		spec: storage.TableSpec{
			Name:       primaryName,
			Kind:       storage.KindPrimary,
			Category:   primary,
			PrimaryKey: &storage.PrimaryKeySpec{Name: primaryName + "_ID", Type: storage.TypeKey},
		},
		fields: map[string]catalog.ScalarType{},
	}

	connected := map[string]*tableBuilder{} // folded category -> builder
	var connectedOrder []*tableBuilder
	seenPairs := map[catalog.Connection]bool{}

	for _, c := range cols {
		if !c.IsConnection {
			if err := s.addField(pt, c, fold, opts); err != nil {
				return nil, err
			}
			continue
		}

		key := fold.String(c.Category)
		tb, ok := connected[key]
		if !ok {
			name := sanitize(c.Category)
			if strings.EqualFold(c.Category, primary) {
				name += "_Related"
			}
			tb = &tableBuilder{
				spec: storage.TableSpec{
					Name:       name,
					Kind:       storage.KindConnected,
					Category:   c.Category,
					PrimaryKey: &storage.PrimaryKeySpec{Name: name + "_ID", Type: storage.TypeKey},
				},
				fields: map[string]catalog.ScalarType{},
				order:  len(connectedOrder),
			}
			connected[key] = tb
			connectedOrder = append(connectedOrder, tb)
		}
		if err := s.addField(tb, c, fold, opts); err != nil {
			return nil, err
		}

		pair := c.Pair()
		if seenPairs[pair] {
			continue
		}
		seenPairs[pair] = true

		linkName := primaryName + compact(c.Connection) + sanitize(c.Category)
		linkCol := compact(c.Connection) + sanitize(c.Category) + "_ID"
		s.Links = append(s.Links, storage.TableSpec{
			Name:       linkName,
			Kind:       storage.KindLink,
			Category:   c.Category,
			Connection: c.Connection,
			Columns: []storage.ColumnSpec{
				{Name: pt.spec.KeyColumn(), Type: storage.TypeKey, Nullable: storage.BoolPtr(false)},
				{Name: linkCol, Type: storage.TypeKey, Nullable: storage.BoolPtr(false)},
				{Name: storage.SeqColumn, Type: storage.TypeInteger, Nullable: storage.BoolPtr(false)},
			},
			Constraints: []storage.ConstraintSpec{
				{Kind: "primary_key", Columns: []string{pt.spec.KeyColumn(), linkCol}},
			},
			ForeignKeys: []storage.ForeignKeySpec{
				{Column: pt.spec.KeyColumn(), RefTable: pt.spec.Name, RefColumn: pt.spec.KeyColumn()},
				{Column: linkCol, RefTable: tb.spec.Name, RefColumn: tb.spec.KeyColumn()},
			},
		})
		s.Pairs = append(s.Pairs, Pair{
			Connection: c.Connection,
			Category:   c.Category,
			Link:       linkName,
			Connected:  tb.spec.Name,
			LinkColumn: linkCol,
		})
	}

	s.Primary = pt.spec
	for _, tb := range connectedOrder {
		s.Connected = append(s.Connected, tb.spec)
	}

	if err := checkNames(s.Tables(), fold); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) addField(tb *tableBuilder, c catalog.Column, fold cases.Caser, opts Options) error {
	key := fold.String(c.Field)
	if prev, ok := tb.fields[key]; ok {
		if prev == c.Type {
			return nil
		}
		if !opts.FirstSeenWins {
			return &ConflictError{Table: tb.spec.Name, Field: c.Field, Ordinal: c.Ordinal, First: prev, Conflict: c.Type}
		}
		s.Conflicts = append(s.Conflicts, Conflict{Table: tb.spec.Name, Field: c.Field, Kept: prev, Rejected: c.Type, Ordinal: c.Ordinal})
		if opts.Logger != nil {
			opts.Logger.Printf("stage=schema conflict table=%s field=%q kept=%s rejected=%s column=%d",
				tb.spec.Name, c.Field, prev, c.Type, c.Ordinal)
		}
		return nil
	}
	tb.fields[key] = c.Type
	tb.spec.Columns = append(tb.spec.Columns, storage.ColumnSpec{
		Name:   sanitize(c.Field),
		Type:   c.Type.LogicalType(),
		Source: c.Field,
	})
	return nil
}

func checkNames(tables []storage.TableSpec, fold cases.Caser) error {
	seen := map[string]string{}
	for _, t := range tables {
		k := fold.String(t.Name)
		if prev, ok := seen[k]; ok {
			return &NameCollisionError{Scope: "table", A: prev, B: t.Name}
		}
		seen[k] = t.Name

		cols := map[string]string{}
		for _, c := range t.ColumnNames() {
			ck := fold.String(c)
			if prev, ok := cols[ck]; ok {
				return &NameCollisionError{Scope: t.Name, A: prev, B: c}
			}
			cols[ck] = c
		}
	}
	return nil
}

// compact removes spaces from a connection name and sanitizes the rest.
func compact(s string) string {
	return sanitize(strings.ReplaceAll(s, " ", ""))
}

// sanitize maps s onto [A-Za-z0-9_], never starting with a digit.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}
