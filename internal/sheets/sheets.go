// Package sheets writes the staged tables as one workbook, one sheet per
// table, with the column names as the header row.
package sheets

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	"github.com/xuri/excelize/v2"

	"itemexport/internal/storage"
)

// MaxRows is the row limit of one sheet, header included.
const MaxRows = excelize.TotalRows

const maxSheetName = 31

type Logger interface {
	Printf(format string, v ...any)
}

// Write streams every table of src into a workbook written to w and returns
// the data rows written per table.
func Write(ctx context.Context, src storage.RowSource, tables []storage.TableSpec, w io.Writer, logger Logger) (map[string]int64, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	names := sheetNames(tables)
	counts := make(map[string]int64, len(tables))
	for i, t := range tables {
		if _, err := f.NewSheet(names[i]); err != nil {
			return counts, fmt.Errorf("sheets: new sheet %s: %w", names[i], err)
		}
		n, err := writeTable(ctx, f, names[i], src, t)
		if err != nil {
			return counts, fmt.Errorf("sheets: table=%s: %w", t.Name, err)
		}
		counts[t.Name] = n
		logger.Printf("stage=sheets table=%s sheet=%s rows=%d", t.Name, names[i], n)
	}
	if len(tables) > 0 && !slices.Contains(names, "Sheet1") {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return counts, fmt.Errorf("sheets: %w", err)
		}
		if idx, err := f.GetSheetIndex(names[0]); err == nil {
			f.SetActiveSheet(idx)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return counts, fmt.Errorf("sheets: write workbook: %w", err)
	}
	logger.Printf("stage=sheets tables=%d duration=%s", len(tables), time.Since(start).Truncate(time.Millisecond))
	return counts, nil
}

func writeTable(ctx context.Context, f *excelize.File, sheet string, src storage.RowSource, t storage.TableSpec) (int64, error) {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return 0, err
	}

	cols := t.ColumnNames()
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return 0, err
	}

	rows, err := src.QueryTable(ctx, t)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	vals := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = &vals[i]
	}
	var n int64
	for rows.Next() {
		if n+2 > MaxRows {
			return n, fmt.Errorf("more than %d rows do not fit one sheet", MaxRows-1)
		}
		if err := rows.Scan(dest...); err != nil {
			return n, err
		}
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = storage.NormalizeValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, int(n)+2)
		if err != nil {
			return n, err
		}
		if err := sw.SetRow(cell, out); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	return n, sw.Flush()
}

// sheetNames cuts table names to the sheet name limit, keeping them unique.
func sheetNames(tables []storage.TableSpec) []string {
	used := map[string]bool{}
	out := make([]string, len(tables))
	for i, t := range tables {
		name := t.Name
		if len(name) > maxSheetName {
			name = name[:maxSheetName]
		}
		for k := 2; used[name]; k++ {
			suffix := fmt.Sprintf("~%d", k)
			base := t.Name
			if len(base) > maxSheetName-len(suffix) {
				base = base[:maxSheetName-len(suffix)]
			}
			name = base + suffix
		}
		used[name] = true
		out[i] = name
	}
	return out
}
