// Package serialize turns a populated staging store into one nested document.
//
// Export walks the primary table once and, per primary row, runs one
// sub-query per link table. Writers receive the document as a stream of
// calls and must not buffer more than the item being written:
//
//	Begin(meta)
//	  BeginItem(fields)
//	    BeginConnection(name) WriteChild(fields)... EndConnection()
//	  EndItem()
//	End()
package serialize

import (
	"fmt"
	"strconv"
)

// Kind tells whether the document came from a whole category or a view.
type Kind string

const (
	KindCategory Kind = "category"
	KindView     Kind = "view"
)

// Meta are the document-level fields.
type Meta struct {
	Source   string
	Category string
	Kind     Kind
}

// Field is one scalar value of an item. Name is the field as the source
// spells it; Column is its sanitized identifier, safe as an XML name.
type Field struct {
	Name   string
	Column string
	Value  any
}

// Writer receives a document as a stream.
type Writer interface {
	Begin(meta Meta) error
	BeginItem(fields []Field) error
	BeginConnection(name string) error
	WriteChild(fields []Field) error
	EndConnection() error
	EndItem() error
	End() error
}

// text renders a scalar for formats without native types.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
