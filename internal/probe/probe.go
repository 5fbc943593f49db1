// Package probe samples a snapshot cursor and suggests a scalar type for
// every field, so a job file's field_types can be filled in before the
// first export.
//
// Inference is best-effort: a column is given the most specific type every
// non-empty sampled value parses as, and falls back to text. Connection
// columns are split on line feeds first, so each connected value counts on
// its own.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"itemexport/internal/catalog"
	"itemexport/internal/cursor"
)

// DefaultSampleRows bounds how much of the snapshot is read.
const DefaultSampleRows = 1000

const batchSize = 500

// Field is the inference for one classified column.
type Field struct {
	Label    string
	Category string
	Field    string
	// Inferred is the type the sampled values support.
	Inferred catalog.ScalarType
	// Declared is set when the job already types the field.
	Declared *catalog.ScalarType
	Seen     int // non-empty values
	Distinct int
}

// Mismatch reports a declared type the sample does not support.
func (f Field) Mismatch() bool {
	return f.Declared != nil && *f.Declared != f.Inferred && *f.Declared != catalog.Text
}

type Report struct {
	Cursor string
	Rows   int
	Fields []Field
}

// Probe reads up to limit rows from cur. cols must be the classification of
// cur's columns against lk. The identifier column is not reported.
func Probe(ctx context.Context, cur cursor.Cursor, cols []catalog.Column, lk catalog.Lookup, limit int) (Report, error) {
	if limit <= 0 {
		limit = DefaultSampleRows
	}
	if len(cols) != len(cur.Columns()) {
		return Report{}, fmt.Errorf("probe: cursor=%s has %d columns, classification has %d", cur.Name(), len(cur.Columns()), len(cols))
	}

	inf := make([]inference, len(cols))
	for i := range inf {
		inf[i] = newInference()
	}
	rep := Report{Cursor: cur.Name()}
	for rep.Rows < limit {
		rows, err := cur.Next(ctx, min(batchSize, limit-rep.Rows), 0)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, fmt.Errorf("probe: cursor=%s after row %d: %w", cur.Name(), rep.Rows, err)
		}
		for _, row := range rows {
			for i, c := range cols {
				if c.IsIdentifier || i >= len(row) {
					continue
				}
				if c.IsConnection {
					for _, v := range strings.Split(row[i], "\n") {
						inf[i].add(v)
					}
					continue
				}
				inf[i].add(row[i])
			}
		}
		rep.Rows += len(rows)
	}

	for i, c := range cols {
		if c.IsIdentifier {
			continue
		}
		f := Field{
			Label:    c.Label,
			Category: c.Category,
			Field:    c.Field,
			Inferred: inf[i].result(),
			Seen:     inf[i].seen,
			Distinct: len(inf[i].distinct),
		}
		if t, ok := lk.FieldType(c.Category, c.Field); ok {
			f.Declared = &t
		}
		rep.Fields = append(rep.Fields, f)
	}
	return rep, nil
}

// FieldTypes renders the report in the job file's field_types shape. Text
// fields are left out since text is the default. When several columns name
// the same field, the first wins.
func (r Report) FieldTypes() map[string]map[string]string {
	out := map[string]map[string]string{}
	for _, f := range r.Fields {
		if f.Inferred == catalog.Text {
			continue
		}
		m := out[f.Category]
		if m == nil {
			m = map[string]string{}
			out[f.Category] = m
		}
		if _, dup := m[f.Field]; !dup {
			m[f.Field] = f.Inferred.String()
		}
	}
	return out
}

// distinctCap stops tracking distinct values past this many.
const distinctCap = 10000

type inference struct {
	seen     int
	allNum   bool
	allBool  bool
	allDate  bool
	allClock bool
	distinct map[string]struct{}
}

func newInference() inference {
	return inference{allNum: true, allBool: true, allDate: true, allClock: true, distinct: map[string]struct{}{}}
}

func (in *inference) add(raw string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	in.seen++
	if len(in.distinct) < distinctCap {
		in.distinct[v] = struct{}{}
	}
	if in.allNum && !isNumber(v) {
		in.allNum = false
	}
	if in.allBool && !isBool(v) {
		in.allBool = false
	}
	if in.allDate && !isDate(v) {
		in.allDate = false
	}
	if in.allClock && !isClock(v) {
		in.allClock = false
	}
}

// result prefers the more specific type.
func (in *inference) result() catalog.ScalarType {
	switch {
	case in.seen == 0:
		return catalog.Text
	case in.allNum:
		return catalog.Number
	case in.allBool:
		return catalog.Boolean
	case in.allDate:
		return catalog.Date
	case in.allClock:
		return catalog.Time
	default:
		return catalog.Text
	}
}

func isNumber(v string) bool {
	_, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	return err == nil
}

// isBool accepts the words catalog.Boolean converts; 0 and 1 count as
// numbers first.
func isBool(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "no", "true", "false", "on", "off", "checked", "unchecked":
		return true
	}
	return false
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

func isDate(v string) bool {
	for _, lay := range dateLayouts {
		if _, err := time.Parse(lay, v); err == nil {
			return true
		}
	}
	return false
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04:05 PM"}

func isClock(v string) bool {
	for _, lay := range clockLayouts {
		if _, err := time.Parse(lay, v); err == nil {
			return true
		}
	}
	return false
}
