package cursor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSX reads one sheet of a workbook snapshot; its first row is the header.
// Rows are streamed from the sheet, so RowCount is unknown. Line breaks
// inside a cell separate the values of a multi-valued cell.
type XLSX struct {
	name    string
	f       *excelize.File
	rows    *excelize.Rows
	columns []string
}

// OpenXLSX opens path and reads the header of sheet, or of the first sheet
// when sheet is empty.
func OpenXLSX(path, sheet string) (*XLSX, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("cursor: open %s: %w", path, err)
	}
	x, err := newXLSX(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), f, sheet)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return x, nil
}

// NewXLSX reads a workbook from r. The whole workbook is read into memory.
func NewXLSX(name string, r io.Reader, sheet string) (*XLSX, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("cursor: %s: open workbook: %w", name, err)
	}
	x, err := newXLSX(name, f, sheet)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return x, nil
}

func newXLSX(name string, f *excelize.File, sheet string) (*XLSX, error) {
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("cursor: %s: sheet %q: %w", name, sheet, err)
	}
	if !rows.Next() {
		_ = rows.Close()
		return nil, fmt.Errorf("cursor: %s: sheet %q is empty", name, sheet)
	}
	hdr, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("cursor: %s: read header: %w", name, err)
	}
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		cols[i] = strings.TrimSpace(h)
	}
	return &XLSX{name: name, f: f, rows: rows, columns: cols}, nil
}

func (x *XLSX) Name() string      { return x.name }
func (x *XLSX) RowCount() int64   { return -1 }
func (x *XLSX) Columns() []string { return x.columns }

func (x *XLSX) Close() error {
	err := x.rows.Close()
	if cerr := x.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (x *XLSX) Next(ctx context.Context, n, maxFieldLen int) ([][]string, error) {
	if n <= 0 {
		n = 1
	}
	var out [][]string
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !x.rows.Next() {
			if err := x.rows.Error(); err != nil {
				return out, fmt.Errorf("cursor: %s: %w", x.name, err)
			}
			break
		}
		rec, err := x.rows.Columns()
		if err != nil {
			return out, fmt.Errorf("cursor: %s: %w", x.name, err)
		}
		out = append(out, clipRow(rec, len(x.columns), maxFieldLen))
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}
