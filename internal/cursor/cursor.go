// Package cursor defines the row source an export reads from and a few
// snapshot-backed implementations of it.
//
// A cursor exposes the labels of its columns and hands out rows in batches.
// Values are strings exactly as the source renders them; multi-valued cells
// (connections) hold their values separated by line feeds. Like the source
// store, cursors clip values to the caller's maximum field length, so a value
// whose length equals the limit may have been cut.
package cursor

import (
	"context"
	"io"
	"unicode/utf8"
)

// Cursor is a forward-only batch reader.
type Cursor interface {
	Name() string
	// RowCount is the total number of rows, or -1 when unknown up front.
	RowCount() int64
	Columns() []string
	// Next returns up to n rows, each with one cell per column. At the end
	// it returns (nil, io.EOF). maxFieldLen <= 0 means unlimited.
	Next(ctx context.Context, n, maxFieldLen int) ([][]string, error)
	Close() error
}

// Clip cuts v to at most max runes. max <= 0 leaves v unchanged.
func Clip(v string, max int) string {
	if max <= 0 || utf8.RuneCountInString(v) <= max {
		return v
	}
	i := 0
	for pos := range v {
		if i == max {
			return v[:pos]
		}
		i++
	}
	return v
}

// Slice is an in-memory cursor.
type Slice struct {
	name    string
	columns []string
	rows    [][]string
	pos     int
}

func NewSlice(name string, columns []string, rows [][]string) *Slice {
	return &Slice{name: name, columns: columns, rows: rows}
}

func (s *Slice) Name() string      { return s.name }
func (s *Slice) RowCount() int64   { return int64(len(s.rows)) }
func (s *Slice) Columns() []string { return s.columns }
func (s *Slice) Close() error      { return nil }

func (s *Slice) Next(ctx context.Context, n, maxFieldLen int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	if n <= 0 {
		n = 1
	}
	end := min(s.pos+n, len(s.rows))
	out := make([][]string, 0, end-s.pos)
	for _, r := range s.rows[s.pos:end] {
		out = append(out, clipRow(r, len(s.columns), maxFieldLen))
	}
	s.pos = end
	return out, nil
}

// clipRow copies r padded or cut to width columns, clipping each value.
func clipRow(r []string, width, maxFieldLen int) []string {
	row := make([]string, width)
	for i := 0; i < width && i < len(r); i++ {
		row[i] = Clip(r[i], maxFieldLen)
	}
	return row
}
