package serialize

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"itemexport/internal/catalog"
	"itemexport/internal/metrics"
	"itemexport/internal/progress"
	"itemexport/internal/schema"
	"itemexport/internal/storage"
)

// Logger is the minimal logging surface used by Export.
type Logger interface {
	Printf(format string, v ...any)
}

// Source is the read side of the staging store.
type Source interface {
	Count(ctx context.Context, table string) (int64, error)
	QueryTable(ctx context.Context, t storage.TableSpec) (*sql.Rows, error)
	Prepare(ctx context.Context, q string) (*sql.Stmt, error)
}

type Options struct {
	Job      string
	Meta     Meta
	Progress progress.Func
	Logger   Logger
}

// IOError reports a write to the output that failed. Output written so far
// is left in place.
type IOError struct {
	Row   int64 // 0-based primary row, -1 outside items
	Table string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("serialize: write row=%d table=%s: %v", e.Row, e.Table, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// column is one selected column and how its scanned value is restored.
type column struct {
	field Field
	typ   catalog.ScalarType
}

func fieldColumns(t storage.TableSpec) []column {
	var out []column
	for _, c := range t.Columns {
		name := c.Source
		if name == "" {
			name = c.Name
		}
		out = append(out, column{field: Field{Name: name, Column: c.Name}, typ: catalog.FromLogicalType(c.Type)})
	}
	return out
}

// restore turns a scanned value back into its typed form. Staging drivers
// that store everything as text get their values re-parsed here.
func restore(v any, t catalog.ScalarType) any {
	v = storage.NormalizeValue(v)
	switch x := v.(type) {
	case string:
		if t == catalog.Text || t == catalog.Date || t == catalog.Time {
			return x
		}
		return t.Convert(x)
	case int64:
		switch t {
		case catalog.Boolean:
			return x != 0
		case catalog.Number:
			return float64(x)
		}
	}
	return v
}

// connection is a compiled per-link sub-query.
type connection struct {
	name    string
	table   string
	columns []column
	stmt    *sql.Stmt
}

func childQuery(s *schema.Schema, p schema.Pair) (string, []column, error) {
	link, ok := s.Table(p.Link)
	if !ok {
		return "", nil, fmt.Errorf("serialize: link table %s missing from schema", p.Link)
	}
	ct, ok := s.Table(p.Connected)
	if !ok {
		return "", nil, fmt.Errorf("serialize: connected table %s missing from schema", p.Connected)
	}
	cols := fieldColumns(ct)
	sel := make([]string, len(cols))
	for i, c := range cols {
		sel[i] = "c." + quote(c.field.Column)
	}
	q := fmt.Sprintf(
		"SELECT %s FROM %s l JOIN %s c ON c.%s = l.%s WHERE l.%s = ? ORDER BY l.%s",
		strings.Join(sel, ", "),
		quote(link.Name), quote(ct.Name),
		quote(ct.KeyColumn()), quote(p.LinkColumn),
		quote(s.Primary.KeyColumn()), quote(storage.SeqColumn),
	)
	return q, cols, nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Export writes the whole store as one document and returns the number of
// items written. Items come in primary key order; each item carries one
// connection per link table, empty when it has no connected items.
func Export(ctx context.Context, src Source, s *schema.Schema, w Writer, opts Options) (n int64, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, span := otel.Tracer("itemexport/internal/serialize").Start(ctx, "serialize.export")
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int64("items", n))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.RecordStep(opts.Job, progress.StageSerialize, err, time.Since(start))
	}()

	conns := make([]connection, 0, len(s.Pairs))
	defer func() {
		for _, c := range conns {
			_ = c.stmt.Close()
		}
	}()
	for _, p := range s.Pairs {
		q, cols, err := childQuery(s, p)
		if err != nil {
			return 0, err
		}
		stmt, err := src.Prepare(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("serialize: prepare table=%s: %w", p.Link, err)
		}
		conns = append(conns, connection{name: p.Name(), table: p.Link, columns: cols, stmt: stmt})
	}

	total, err := src.Count(ctx, s.Primary.Name)
	if err != nil {
		return 0, fmt.Errorf("serialize: count table=%s: %w", s.Primary.Name, err)
	}

	rows, err := src.QueryTable(ctx, s.Primary)
	if err != nil {
		return 0, fmt.Errorf("serialize: query table=%s: %w", s.Primary.Name, err)
	}
	defer rows.Close()

	if err := w.Begin(opts.Meta); err != nil {
		return 0, &IOError{Row: -1, Table: s.Primary.Name, Err: err}
	}

	cols := fieldColumns(s.Primary)
	dest := make([]any, 1+len(cols))
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return n, fmt.Errorf("serialize: stopped at row=%d: %w", n, err)
		}
		vals := make([]any, len(dest))
		for i := range dest {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return n, fmt.Errorf("serialize: scan row=%d table=%s: %w", n, s.Primary.Name, err)
		}

		fields := make([]Field, len(cols))
		for i, c := range cols {
			fields[i] = c.field
			fields[i].Value = restore(vals[i+1], c.typ)
		}
		if err := w.BeginItem(fields); err != nil {
			return n, &IOError{Row: n, Table: s.Primary.Name, Err: err}
		}
		for _, c := range conns {
			if err := writeConnection(ctx, w, c, vals[0], n); err != nil {
				return n, err
			}
		}
		if err := w.EndItem(); err != nil {
			return n, &IOError{Row: n, Table: s.Primary.Name, Err: err}
		}
		n++
		opts.Progress.Report(progress.Progress{
			Stage:   progress.StageSerialize,
			Done:    n,
			Total:   total,
			Batch:   -1,
			Elapsed: time.Since(start),
		})
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("serialize: read table=%s after row=%d: %w", s.Primary.Name, n, err)
	}
	if err := w.End(); err != nil {
		return n, &IOError{Row: -1, Table: s.Primary.Name, Err: err}
	}

	logger.Printf("stage=serialize items=%d connections=%d duration=%s", n, len(conns), time.Since(start).Truncate(time.Millisecond))
	return n, nil
}

func writeConnection(ctx context.Context, w Writer, c connection, key any, row int64) error {
	rows, err := c.stmt.QueryContext(ctx, key)
	if err != nil {
		return fmt.Errorf("serialize: query row=%d table=%s: %w", row, c.table, err)
	}
	defer rows.Close()

	if err := w.BeginConnection(c.name); err != nil {
		return &IOError{Row: row, Table: c.table, Err: err}
	}
	vals := make([]any, len(c.columns))
	dest := make([]any, len(vals))
	for i := range dest {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("serialize: scan row=%d table=%s: %w", row, c.table, err)
		}
		fields := make([]Field, len(c.columns))
		for i, col := range c.columns {
			fields[i] = col.field
			fields[i].Value = restore(vals[i], col.typ)
		}
		if err := w.WriteChild(fields); err != nil {
			return &IOError{Row: row, Table: c.table, Err: err}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("serialize: read row=%d table=%s: %w", row, c.table, err)
	}
	if err := w.EndConnection(); err != nil {
		return &IOError{Row: row, Table: c.table, Err: err}
	}
	return nil
}
