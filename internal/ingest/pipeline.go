// Package ingest streams source rows into the staging store.
//
// A Pipeline owns one staging store for its whole life: it creates the
// derived tables, fans every batch of cursor rows out into the primary,
// connected and link tables inside one transaction, verifies the result and
// finally destroys the store. Batches are written strictly in sequence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"itemexport/internal/catalog"
	"itemexport/internal/cursor"
	"itemexport/internal/metrics"
	"itemexport/internal/progress"
	"itemexport/internal/schema"
	"itemexport/internal/staging"
	"itemexport/internal/storage"
	"itemexport/internal/surrogate"
)

// DefaultBatchSize is the number of cursor rows read and committed together.
const DefaultBatchSize = 1024

// Logger is the minimal logging surface used by the pipeline.
type Logger interface {
	Printf(format string, v ...any)
}

type Options struct {
	// Job labels metrics and log lines.
	Job       string
	BatchSize int
	// MaxFieldLen is passed to the cursor; values that reach it are reported
	// as truncations. <= 0 means unlimited.
	MaxFieldLen      int
	NonTextDelimiter string
	Progress         progress.Func
	Logger           Logger
}

// State is the pipeline lifecycle position.
type State int

const (
	Idle State = iota
	SchemaCreated
	Ingesting
	Draining
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SchemaCreated:
		return "schema_created"
	case Ingesting:
		return "ingesting"
	case Draining:
		return "draining"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stats are row counts written so far, per table kind.
type Stats struct {
	Batches       int
	SourceRows    int64
	PrimaryRows   int64
	ConnectedRows int64
	LinkRows      int64
}

type Pipeline struct {
	store  *staging.Store
	schema *schema.Schema
	plan   indexedPlan
	opts   Options
	logger Logger
	tracer trace.Tracer

	mu          sync.Mutex
	state       State
	closed      bool
	stats       Stats
	truncations []Truncation
}

// New compiles the column plan for cols against s. The store must be empty;
// Prepare creates the tables.
func New(store *staging.Store, s *schema.Schema, cols []catalog.Column, opts Options) (*Pipeline, error) {
	if store == nil || s == nil {
		return nil, errors.New("ingest: nil store or schema")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.NonTextDelimiter == "" {
		opts.NonTextDelimiter = DefaultNonTextDelimiter
	}
	if opts.Job == "" {
		opts.Job = s.Primary.Name
	}
	plan, err := buildIndexedPlan(s, cols, opts.NonTextDelimiter)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{
		store:  store,
		schema: s,
		plan:   plan,
		opts:   opts,
		logger: logger,
		tracer: otel.Tracer("itemexport/internal/ingest"),
	}, nil
}

// Store returns the staging store the pipeline writes to.
func (p *Pipeline) Store() *staging.Store { return p.store }

// Schema returns the schema the pipeline was built for.
func (p *Pipeline) Schema() *schema.Schema { return p.schema }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Truncations returns every value that reached the field length limit.
func (p *Pipeline) Truncations() []Truncation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Truncation(nil), p.truncations...)
}

// transition moves to next if the current state is one of from.
func (p *Pipeline) transition(next State, from ...State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: pipeline closed", ErrInvalidState)
	}
	for _, f := range from {
		if p.state == f {
			p.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, p.state, next)
}

func (p *Pipeline) fail() {
	p.mu.Lock()
	p.state = Failed
	p.mu.Unlock()
}

// Prepare creates every derived table in the staging store.
func (p *Pipeline) Prepare(ctx context.Context) error {
	if err := p.transition(SchemaCreated, Idle); err != nil {
		return err
	}
	start := time.Now()
	tables := p.schema.Tables()
	if err := p.store.CreateTables(ctx, tables); err != nil {
		p.fail()
		return fmt.Errorf("ingest: prepare: %w", err)
	}
	p.logger.Printf("stage=ddl tables=%d duration=%s", len(tables), time.Since(start).Truncate(time.Millisecond))
	return nil
}

// Ingest reads cur to the end and writes it batch by batch. shared selects
// how identifiers are turned into keys and applies to the whole cursor.
//
// A failed batch is rolled back; batches committed before it stay. Any error
// moves the pipeline to Failed.
func (p *Pipeline) Ingest(ctx context.Context, cur cursor.Cursor, shared bool) (err error) {
	if err := p.transition(Ingesting, SchemaCreated, Ingesting); err != nil {
		return err
	}
	if got, want := len(cur.Columns()), len(p.plan.labels); got != want {
		p.fail()
		return fmt.Errorf("ingest: cursor %s has %d columns, catalog describes %d", cur.Name(), got, want)
	}

	ctx, span := p.tracer.Start(ctx, "ingest.primary", trace.WithAttributes(
		attribute.String("cursor", cur.Name()),
		attribute.Bool("shared", shared),
	))
	start := time.Now()
	defer func() {
		endSpan(span, err)
		metrics.RecordStep(p.opts.Job, progress.StageIngest, err, time.Since(start))
	}()

	total := cur.RowCount()
	var done int64
	for batchNo := 0; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			p.fail()
			return fmt.Errorf("ingest: cursor=%s stopped before batch %d: %w", cur.Name(), batchNo, err)
		}
		rows, err := cur.Next(ctx, p.opts.BatchSize, p.opts.MaxFieldLen)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.fail()
			return fmt.Errorf("ingest: cursor=%s read batch %d: %w", cur.Name(), batchNo, err)
		}
		if len(rows) == 0 {
			continue
		}

		bstart := time.Now()
		w, err := p.writeBatch(ctx, cur.Name(), batchNo, done, rows, shared)
		if err != nil {
			p.fail()
			p.logger.Printf("stage=ingest cursor=%s batch=%d rollback err=%v", cur.Name(), batchNo, err)
			return err
		}
		done += int64(len(rows))
		p.record(w)
		p.logger.Printf("stage=ingest cursor=%s batch=%d rows=%d primary=%d connected=%d links=%d duration=%s",
			cur.Name(), batchNo, len(rows), w.primary, w.connected, w.links, time.Since(bstart).Truncate(time.Millisecond))
		p.opts.Progress.Report(progress.Progress{
			Stage:   progress.StageIngest,
			Done:    done,
			Total:   total,
			Batch:   batchNo,
			Elapsed: time.Since(start),
		})
	}

	span.SetAttributes(attribute.Int64("rows", done))
	p.logger.Printf("stage=ingest cursor=%s done rows=%d duration=%s", cur.Name(), done, time.Since(start).Truncate(time.Millisecond))
	return nil
}

// written is what one committed batch added.
type written struct {
	source      int64
	primary     int64
	connected   int64
	links       int64
	truncations []Truncation
}

func (p *Pipeline) record(w written) {
	p.mu.Lock()
	p.stats.Batches++
	p.stats.SourceRows += w.source
	p.stats.PrimaryRows += w.primary
	p.stats.ConnectedRows += w.connected
	p.stats.LinkRows += w.links
	p.truncations = append(p.truncations, w.truncations...)
	p.mu.Unlock()

	metrics.RecordBatch(p.opts.Job)
	metrics.RecordRows(p.opts.Job, string(storage.KindPrimary), w.primary)
	metrics.RecordRows(p.opts.Job, string(storage.KindConnected), w.connected)
	metrics.RecordRows(p.opts.Job, string(storage.KindLink), w.links)
	metrics.RecordTruncations(p.opts.Job, len(w.truncations))
	for _, t := range w.truncations {
		p.logger.Printf("stage=ingest warning=truncated cursor=%s batch=%d row=%d column=%q", t.Cursor, t.Batch, t.Row, t.Column)
	}
}

// pairRows are the rows one connection pair contributes to a batch.
type pairRows struct {
	connected [][]any
	links     [][]any
}

// writeBatch fans rows out and commits them in one transaction. first is
// the 0-based cursor index of rows[0].
func (p *Pipeline) writeBatch(ctx context.Context, cursorName string, batchNo int, first int64, rows [][]string, shared bool) (written, error) {
	w := written{source: int64(len(rows))}
	batchErr := func(row int64, table, column string, err error) error {
		return &BatchCommitError{
			Stage:    progress.StageIngest,
			Cursor:   cursorName,
			Batch:    batchNo,
			FirstRow: first,
			LastRow:  first + int64(len(rows)) - 1,
			Row:      row,
			Table:    table,
			Column:   column,
			Err:      err,
		}
	}

	primary := make([][]any, 0, len(rows))
	perPair := make([]pairRows, len(p.plan.pairs))

	for i, row := range rows {
		rowIdx := first + int64(i)
		if len(row) != len(p.plan.labels) {
			return w, batchErr(rowIdx, "", "", fmt.Errorf("%w: got %d cells, want %d", ErrRowWidth, len(row), len(p.plan.labels)))
		}
		w.truncations = append(w.truncations, p.truncated(cursorName, batchNo, rowIdx, row)...)

		var key int64
		if p.plan.idIndex >= 0 {
			k, err := surrogate.Derive(row[p.plan.idIndex], shared)
			if err != nil {
				return w, batchErr(rowIdx, p.plan.primary.Name, p.plan.labels[p.plan.idIndex], err)
			}
			key = k.Int64()
		} else {
			key = rowIdx + 1
		}

		out := make([]any, 0, len(p.plan.primaryColumns))
		out = append(out, key)
		for _, f := range p.plan.direct {
			out = append(out, f.typ.Convert(row[f.index]))
		}
		primary = append(primary, out)

		for j, pp := range p.plan.pairs {
			refs := splitBareLF(row[pp.refIndex])
			values := make([][]string, len(pp.fields))
			for k, f := range pp.fields {
				values[k] = f.split(row[f.index])
			}
			for pos, ref := range refs {
				if strings.TrimSpace(ref) == "" {
					continue
				}
				ck, err := surrogate.Derive(ref, shared)
				if err != nil {
					return w, batchErr(rowIdx, pp.connected.Name, p.plan.labels[pp.refIndex], err)
				}
				crow := make([]any, 0, len(pp.connectedColumns))
				crow = append(crow, ck.Int64())
				for k, f := range pp.fields {
					var v any
					if pos < len(values[k]) {
						v = f.typ.Convert(values[k][pos])
					}
					crow = append(crow, v)
				}
				perPair[j].connected = append(perPair[j].connected, crow)
				perPair[j].links = append(perPair[j].links, []any{key, ck.Int64(), int64(pos)})
			}
		}
	}

	// The transaction outlives cancellation of ctx; cancellation is only
	// honored between batches.
	txCtx := context.WithoutCancel(ctx)
	b, err := p.store.Begin(txCtx)
	if err != nil {
		return w, batchErr(-1, "", "", err)
	}
	defer func() { _ = b.Rollback() }()

	n, err := b.Insert(txCtx, p.plan.primary.Name, p.plan.primaryColumns, primary)
	if err != nil {
		return w, batchErr(-1, p.plan.primary.Name, "", err)
	}
	w.primary = n

	for j, pp := range p.plan.pairs {
		n, err := b.Upsert(txCtx, pp.connected.Name, pp.connected.KeyColumn(), pp.connectedColumns, perPair[j].connected)
		if err != nil {
			return w, batchErr(-1, pp.connected.Name, "", err)
		}
		w.connected += n
	}
	for j, pp := range p.plan.pairs {
		n, err := b.InsertIgnore(txCtx, pp.pair.Link, pp.linkKey, pp.linkColumns, perPair[j].links)
		if err != nil {
			return w, batchErr(-1, pp.pair.Link, "", err)
		}
		w.links += n
	}

	if err := b.Commit(); err != nil {
		return w, batchErr(-1, "", "", err)
	}
	return w, nil
}

// truncated reports the cells of row whose length reached the field limit.
func (p *Pipeline) truncated(cursorName string, batchNo int, rowIdx int64, row []string) []Truncation {
	if p.opts.MaxFieldLen <= 0 {
		return nil
	}
	var out []Truncation
	for i, v := range row {
		if len(v) >= p.opts.MaxFieldLen && utf8.RuneCountInString(v) >= p.opts.MaxFieldLen {
			out = append(out, Truncation{Cursor: cursorName, Batch: batchNo, Row: rowIdx, Column: p.plan.labels[i]})
		}
	}
	return out
}

// IngestConnected reads a connection-only cursor for category and merges its
// rows into that category's connected table. Column 0 holds identifiers;
// columns the table does not know are skipped.
func (p *Pipeline) IngestConnected(ctx context.Context, category string, cur cursor.Cursor, shared bool) (err error) {
	if err := p.transition(Ingesting, SchemaCreated, Ingesting); err != nil {
		return err
	}
	table, ok := p.schema.ConnectedTable(category)
	if !ok {
		p.fail()
		return fmt.Errorf("ingest: no connected table for category %q", category)
	}
	plan, err := buildConnectedPlan(table, cur.Columns())
	if err != nil {
		p.fail()
		return err
	}
	if len(plan.skipped) > 0 {
		p.logger.Printf("stage=ingest_connected cursor=%s table=%s skipped_columns=%q", cur.Name(), table.Name, plan.skipped)
	}

	ctx, span := p.tracer.Start(ctx, "ingest.connected", trace.WithAttributes(
		attribute.String("cursor", cur.Name()),
		attribute.String("table", table.Name),
	))
	start := time.Now()
	defer func() {
		endSpan(span, err)
		metrics.RecordStep(p.opts.Job, progress.StageConnected, err, time.Since(start))
	}()

	total := cur.RowCount()
	var done int64
	for batchNo := 0; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			p.fail()
			return fmt.Errorf("ingest: cursor=%s stopped before batch %d: %w", cur.Name(), batchNo, err)
		}
		rows, err := cur.Next(ctx, p.opts.BatchSize, p.opts.MaxFieldLen)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.fail()
			return fmt.Errorf("ingest: cursor=%s read batch %d: %w", cur.Name(), batchNo, err)
		}
		if len(rows) == 0 {
			continue
		}
		n, err := p.writeConnectedBatch(ctx, cur.Name(), batchNo, done, plan, rows, shared)
		if err != nil {
			p.fail()
			return err
		}
		done += int64(len(rows))
		p.record(written{connected: n})
		p.opts.Progress.Report(progress.Progress{
			Stage:   progress.StageConnected,
			Done:    done,
			Total:   total,
			Batch:   batchNo,
			Elapsed: time.Since(start),
		})
	}
	p.logger.Printf("stage=ingest_connected cursor=%s table=%s rows=%d duration=%s", cur.Name(), table.Name, done, time.Since(start).Truncate(time.Millisecond))
	return nil
}

func (p *Pipeline) writeConnectedBatch(ctx context.Context, cursorName string, batchNo int, first int64, plan connectedPlan, rows [][]string, shared bool) (int64, error) {
	batchErr := func(row int64, column string, err error) error {
		return &BatchCommitError{
			Stage:    progress.StageConnected,
			Cursor:   cursorName,
			Batch:    batchNo,
			FirstRow: first,
			LastRow:  first + int64(len(rows)) - 1,
			Row:      row,
			Table:    plan.table.Name,
			Column:   column,
			Err:      err,
		}
	}

	out := make([][]any, 0, len(rows))
	for i, row := range rows {
		if len(row) != plan.width {
			return 0, batchErr(first+int64(i), "", fmt.Errorf("%w: got %d cells, want %d", ErrRowWidth, len(row), plan.width))
		}
		if strings.TrimSpace(row[0]) == "" {
			continue
		}
		k, err := surrogate.Derive(row[0], shared)
		if err != nil {
			return 0, batchErr(first+int64(i), plan.table.KeyColumn(), err)
		}
		r := make([]any, 0, len(plan.columns))
		r = append(r, k.Int64())
		for _, f := range plan.fields {
			r = append(r, f.typ.Convert(row[f.index]))
		}
		out = append(out, r)
	}

	txCtx := context.WithoutCancel(ctx)
	b, err := p.store.Begin(txCtx)
	if err != nil {
		return 0, batchErr(-1, "", err)
	}
	defer func() { _ = b.Rollback() }()
	n, err := b.Upsert(txCtx, plan.table.Name, plan.table.KeyColumn(), plan.columns, out)
	if err != nil {
		return 0, batchErr(-1, "", err)
	}
	if err := b.Commit(); err != nil {
		return 0, batchErr(-1, "", err)
	}
	return n, nil
}

// Drain finishes ingestion: it refreshes planner statistics and checks that
// every link row points at existing rows.
func (p *Pipeline) Drain(ctx context.Context) (err error) {
	if err := p.transition(Draining, SchemaCreated, Ingesting); err != nil {
		return err
	}
	ctx, span := p.tracer.Start(ctx, "ingest.drain")
	start := time.Now()
	defer func() {
		endSpan(span, err)
		metrics.RecordStep(p.opts.Job, "drain", err, time.Since(start))
	}()

	if err := p.store.Analyze(ctx); err != nil {
		p.fail()
		return fmt.Errorf("ingest: drain: %w", err)
	}
	for _, t := range p.schema.Links {
		n, err := p.store.OrphanRows(ctx, t)
		if err != nil {
			p.fail()
			return fmt.Errorf("ingest: drain: %w", err)
		}
		if n > 0 {
			p.fail()
			return &IntegrityError{Table: t.Name, Orphans: n}
		}
	}

	if err := p.transition(Complete, Draining); err != nil {
		return err
	}
	st := p.Stats()
	p.logger.Printf("stage=drain batches=%d primary=%d connected=%d links=%d truncations=%d duration=%s",
		st.Batches, st.PrimaryRows, st.ConnectedRows, st.LinkRows, len(p.Truncations()), time.Since(start).Truncate(time.Millisecond))
	return nil
}

// Close destroys the staging store. It may be called in any state and more
// than once; afterwards every other operation returns ErrInvalidState.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.store.Destroy()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
