// Package catalog classifies the columns of a source cursor.
//
// Every physical column becomes exactly one Column: the optional identifier
// column (always ordinal 0), a direct field of the cursor's category, or a
// connection column naming the connection, the connected category and the
// field read through it.
package catalog

import (
	"fmt"
	"strings"
)

// DefaultViewDelimiter separates connection, category and field in the
// labels of view cursors.
const DefaultViewDelimiter = "%%"

// DefaultIdentifierField is the field name that carries item identifiers.
const DefaultIdentifierField = "ID"

// Connection is a named, directional relationship to a target category.
type Connection struct {
	Name     string
	Category string
}

// Label is the space-delimited prefix a connection column carries.
func (c Connection) Label() string { return c.Name + " " + c.Category }

// Lookup answers the questions Classify needs about the source store.
type Lookup interface {
	PrimaryCategory() string
	Connections() []Connection
	// FieldType reports the scalar type of field in category; ok=false when
	// the field is unknown.
	FieldType(category, field string) (ScalarType, bool)
	// HasIdentifier reports whether column 0 holds item identifiers.
	HasIdentifier() bool
	// IdentifierField names the field that holds identifiers of connected items.
	IdentifierField() string
	ViewDelimiter() string
}

// Column describes one physical cursor column.
type Column struct {
	Ordinal      int
	Label        string
	IsConnection bool
	Category     string
	Field        string
	Connection   string // set iff IsConnection
	Type         ScalarType
	IsIdentifier bool
}

// Pair returns the (connection, category) a connection column belongs to.
func (c Column) Pair() Connection { return Connection{Name: c.Connection, Category: c.Category} }

// ClassificationError reports a label that matches more than one known
// (connection, category) pair.
type ClassificationError struct {
	Cursor     string
	Ordinal    int
	Label      string
	Candidates []Connection
}

func (e *ClassificationError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, fmt.Sprintf("%q", c.Label()))
	}
	return fmt.Sprintf("catalog: cursor=%s column=%d label %q is ambiguous between connections %s",
		e.Cursor, e.Ordinal, e.Label, strings.Join(names, ", "))
}

// Classify builds one Column per label.
func Classify(cursor string, labels []string, lk Lookup) ([]Column, error) {
	primary := lk.PrimaryCategory()
	delim := lk.ViewDelimiter()
	if delim == "" {
		delim = DefaultViewDelimiter
	}
	idField := lk.IdentifierField()
	if idField == "" {
		idField = DefaultIdentifierField
	}
	conns := lk.Connections()

	out := make([]Column, 0, len(labels))
	for i, label := range labels {
		if i == 0 && lk.HasIdentifier() {
			out = append(out, Column{
				Ordinal:      0,
				Label:        label,
				Category:     primary,
				Field:        label,
				Type:         Text,
				IsIdentifier: true,
			})
			continue
		}

		col, matched, err := classifyConnection(cursor, i, label, delim, conns)
		if err != nil {
			return nil, err
		}
		if !matched {
			col = Column{Ordinal: i, Label: label, Category: primary, Field: label}
		}
		col.Type = typeOf(lk, col.Category, col.Field)
		if col.IsConnection && strings.EqualFold(col.Field, idField) {
			col.IsIdentifier = true
			col.Type = Text
		}
		out = append(out, col)
	}
	return out, nil
}

func classifyConnection(cursor string, ordinal int, label, delim string, conns []Connection) (Column, bool, error) {
	if parts := strings.Split(label, delim); len(parts) == 3 {
		conn, cat, field := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
		if conn != "" && cat != "" && field != "" {
			return Column{
				Ordinal:      ordinal,
				Label:        label,
				IsConnection: true,
				Connection:   conn,
				Category:     cat,
				Field:        field,
			}, true, nil
		}
	}

	var hits []Connection
	var field string
	for _, c := range conns {
		prefix := c.Label() + " "
		if len(label) <= len(prefix) || !strings.EqualFold(label[:len(prefix)], prefix) {
			continue
		}
		hits = append(hits, c)
		field = label[len(prefix):]
	}
	switch len(hits) {
	case 0:
		return Column{}, false, nil
	case 1:
		return Column{
			Ordinal:      ordinal,
			Label:        label,
			IsConnection: true,
			Connection:   hits[0].Name,
			Category:     hits[0].Category,
			Field:        strings.TrimSpace(field),
		}, true, nil
	default:
		return Column{}, false, &ClassificationError{Cursor: cursor, Ordinal: ordinal, Label: label, Candidates: hits}
	}
}

func typeOf(lk Lookup, category, field string) ScalarType {
	if t, ok := lk.FieldType(category, field); ok {
		return t
	}
	return Text
}
