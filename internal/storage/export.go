package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"
)

// Logger is the minimal logging surface used by the exporter.
type Logger interface {
	Printf(format string, v ...any)
}

// RowSource yields every row of a staged table, columns in
// TableSpec.ColumnNames order. The staging store implements it.
type RowSource interface {
	QueryTable(ctx context.Context, spec TableSpec) (*sql.Rows, error)
}

// Exporter copies staged tables into an external relational store.
//
// Tables are created in the order given (primary, connected, link), so
// foreign keys always reference tables that already exist. Rows are
// copied in chunks of BatchSize, one InsertRows call per chunk.
type Exporter struct {
	Repo      MultiRepository
	Logger    Logger
	BatchSize int
}

// Export copies tables from src into e.Repo and returns the row count per table.
func (e *Exporter) Export(ctx context.Context, src RowSource, tables []TableSpec) (map[string]int64, error) {
	if e.Repo == nil {
		return nil, fmt.Errorf("storage: exporter has no repository")
	}
	logger := e.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	create := make([]TableSpec, len(tables))
	for i, t := range tables {
		t.AutoCreateTable = true
		create[i] = t
	}
	start := time.Now()
	if err := e.Repo.EnsureTables(ctx, create); err != nil {
		return nil, fmt.Errorf("storage: ensure tables: %w", err)
	}
	logger.Printf("stage=export_ddl ok tables=%d duration=%s", len(create), time.Since(start).Truncate(time.Millisecond))

	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		n, err := e.copyTable(ctx, src, t, batchSize)
		counts[t.Name] = n
		if err != nil {
			return counts, err
		}
		logger.Printf("stage=export_table table=%s rows=%d", t.Name, n)
	}
	return counts, nil
}

func (e *Exporter) copyTable(ctx context.Context, src RowSource, t TableSpec, batchSize int) (int64, error) {
	rows, err := src.QueryTable(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("storage: read staged table=%s: %w", t.Name, err)
	}
	defer rows.Close()

	cols := t.ColumnNames()
	types := t.ColumnTypes()
	buf := make([][]any, 0, batchSize)
	var total int64
	batch := 0

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := e.Repo.InsertRows(ctx, t, cols, buf)
		if err != nil {
			return fmt.Errorf("storage: export table=%s batch=%d: %w", t.Name, batch, err)
		}
		total += n
		batch++
		buf = make([][]any, 0, batchSize)
		return nil
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return total, fmt.Errorf("storage: scan staged table=%s: %w", t.Name, err)
		}
		for i := range vals {
			vals[i] = CoerceValue(vals[i], types[i])
		}
		buf = append(buf, vals)
		if len(buf) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, fmt.Errorf("storage: read staged table=%s: %w", t.Name, err)
	}
	return total, flush()
}
