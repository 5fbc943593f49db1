package cursor

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CSVOptions tune how a delimited snapshot is read.
type CSVOptions struct {
	Comma      rune // default ','
	LazyQuotes bool
}

// CSV reads a delimited snapshot whose first record is the header.
//
// Behavior:
//   - a leading UTF-8 BOM on the first header is dropped
//   - short records are padded with empty values, long ones are cut
//   - quoted values may span lines; embedded line feeds separate the values
//     of multi-valued cells
//
// encoding/csv folds CRLF inside quoted values to LF, so text values that
// contained CRLF come back split like multi-valued cells.
type CSV struct {
	name    string
	f       io.ReadCloser
	r       *csv.Reader
	columns []string
	line    int
}

// OpenCSV opens path and reads its header.
func OpenCSV(path string, opts CSVOptions) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cursor: open %s: %w", path, err)
	}
	c, err := NewCSV(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

// NewCSV reads the header from src. The cursor owns src.
func NewCSV(name string, src io.ReadCloser, opts CSVOptions) (*CSV, error) {
	r := csv.NewReader(src)
	r.Comma = ','
	if opts.Comma != 0 {
		r.Comma = opts.Comma
	}
	r.LazyQuotes = opts.LazyQuotes
	r.FieldsPerRecord = -1

	hdr, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("cursor: %s: read header: %w", name, err)
	}
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		cols[i] = strings.TrimSpace(h)
	}
	return &CSV{name: name, f: src, r: r, columns: cols, line: 1}, nil
}

func (c *CSV) Name() string      { return c.name }
func (c *CSV) RowCount() int64   { return -1 }
func (c *CSV) Columns() []string { return c.columns }
func (c *CSV) Close() error      { return c.f.Close() }

func (c *CSV) Next(ctx context.Context, n, maxFieldLen int) ([][]string, error) {
	if n <= 0 {
		n = 1
	}
	var out [][]string
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec, err := c.r.Read()
		if err == io.EOF {
			break
		}
		c.line++
		if err != nil {
			return out, fmt.Errorf("cursor: %s line %d: %w", c.name, c.line, err)
		}
		out = append(out, clipRow(rec, len(c.columns), maxFieldLen))
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}
