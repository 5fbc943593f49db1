// Package job runs configured exports end to end: open the snapshot cursor,
// derive the schema, stage the rows, then write every configured output.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"itemexport/internal/catalog"
	"itemexport/internal/config"
	"itemexport/internal/cursor"
	"itemexport/internal/ingest"
	"itemexport/internal/metrics"
	"itemexport/internal/progress"
	"itemexport/internal/schema"
	"itemexport/internal/serialize"
	"itemexport/internal/sheets"
	"itemexport/internal/sink"
	"itemexport/internal/staging"
	"itemexport/internal/storage"
)

// Logger is the minimal logging surface used by the runner.
type Logger interface {
	Printf(format string, v ...any)
}

// StepJob labels whole-job metrics.
const StepJob = "job"

// Runner holds the factory seams a job run goes through. The zero value is
// not usable; start from NewDefaultRunner.
type Runner struct {
	// LoggerFor returns the logger for one job's lines.
	LoggerFor func(job string) Logger
	// Progress receives every progress report, tagged with the job name.
	Progress func(job string, p progress.Progress)

	OpenCursor func(spec CursorSpec) (cursor.Cursor, error)
	OpenSink   func(ctx context.Context, target string, opts sink.S3Options) (sink.Sink, error)
	// Connect opens the relational store an sql output copies into.
	Connect func(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error)
}

func NewDefaultRunner(logger Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		LoggerFor:  func(string) Logger { return logger },
		OpenCursor: OpenCursor,
		OpenSink:   sink.Open,
		Connect: func(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
			return storage.Connect(ctx, cfg, storage.ConnectOptions{})
		},
	}
}

// Result summarizes one finished job.
type Result struct {
	Job         string
	RunID       string
	Stats       ingest.Stats
	Truncations int
	Conflicts   int
	Outputs     []OutputResult
	Elapsed     time.Duration
}

type OutputResult struct {
	Format   string
	Location string
	// Items is the number of serialized primary items (json, xml).
	Items int64
	// Rows is the row count per table (xlsx, sql).
	Rows map[string]int64
}

// Plan is the classified catalog and derived schema of a job's primary
// cursor.
type Plan struct {
	Columns []catalog.Column
	Schema  *schema.Schema
}

// Describe opens the job's primary cursor only to read its header, and
// returns the schema the job would stage into.
func (r *Runner) Describe(j config.Job) (*Plan, error) {
	cur, err := r.OpenCursor(SourceCursor(j.Source))
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	return plan(j, cur, r.LoggerFor(j.Name))
}

func plan(j config.Job, cur cursor.Cursor, logger Logger) (*Plan, error) {
	lk, err := j.Source.Lookup()
	if err != nil {
		return nil, err
	}
	cols, err := catalog.Classify(cur.Name(), cur.Columns(), lk)
	if err != nil {
		return nil, err
	}
	s, err := schema.Derive(lk.PrimaryCategory(), cols, schema.Options{
		FirstSeenWins: j.Runtime.FirstSeenWins,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return &Plan{Columns: cols, Schema: s}, nil
}

// Run executes one job. The staging store is destroyed before Run returns,
// whatever the outcome.
func (r *Runner) Run(ctx context.Context, j config.Job) (res Result, err error) {
	start := time.Now()
	res = Result{Job: j.Name, RunID: uuid.NewString()}
	logger := r.LoggerFor(j.Name)
	defer func() {
		res.Elapsed = time.Since(start)
		metrics.RecordStep(j.Name, StepJob, err, res.Elapsed)
		if err != nil {
			logger.Printf("stage=job failed job=%s run=%s err=%v", j.Name, res.RunID, err)
			return
		}
		logger.Printf("stage=job ok job=%s run=%s items=%d outputs=%d duration=%s",
			j.Name, res.RunID, res.Stats.PrimaryRows, len(res.Outputs), res.Elapsed.Truncate(time.Millisecond))
	}()

	cur, err := r.OpenCursor(SourceCursor(j.Source))
	if err != nil {
		return res, err
	}
	defer cur.Close()

	pl, err := plan(j, cur, logger)
	if err != nil {
		return res, err
	}
	res.Conflicts = len(pl.Schema.Conflicts)

	store, err := staging.Open(ctx, staging.Options{
		Driver: j.Runtime.Staging.Driver,
		Dir:    j.Runtime.Staging.Dir,
		Logger: logger,
	})
	if err != nil {
		return res, err
	}
	p, err := ingest.New(store, pl.Schema, pl.Columns, ingest.Options{
		Job:              j.Name,
		BatchSize:        j.Runtime.BatchSize,
		MaxFieldLen:      j.Runtime.MaxFieldLength,
		NonTextDelimiter: j.Runtime.NonTextDelimiter,
		Progress:         r.progressFor(j.Name),
		Logger:           logger,
	})
	if err != nil {
		return res, errors.Join(err, store.Destroy())
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logger.Printf("stage=cleanup job=%s err=%v", j.Name, cerr)
		}
	}()

	if err := r.stage(ctx, j, p, cur); err != nil {
		res.Stats = p.Stats()
		return res, err
	}
	res.Stats = p.Stats()
	res.Truncations = len(p.Truncations())

	var errs []error
	for i, out := range j.Outputs {
		or, err := r.writeOutput(ctx, j, p, out, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: outputs[%d] %s: %w", j.Name, i, out.Format, err))
			continue
		}
		res.Outputs = append(res.Outputs, or)
	}
	return res, errors.Join(errs...)
}

func (r *Runner) stage(ctx context.Context, j config.Job, p *ingest.Pipeline, cur cursor.Cursor) error {
	if err := p.Prepare(ctx); err != nil {
		return err
	}
	if err := p.Ingest(ctx, cur, j.Source.Shared); err != nil {
		return err
	}
	for _, cs := range j.Source.Connected {
		if err := r.ingestConnected(ctx, p, cs, j.Source.Shared); err != nil {
			return err
		}
	}
	return p.Drain(ctx)
}

func (r *Runner) ingestConnected(ctx context.Context, p *ingest.Pipeline, cs config.ConnectedSource, shared bool) error {
	cur, err := r.OpenCursor(ConnectedCursor(cs))
	if err != nil {
		return err
	}
	defer cur.Close()
	return p.IngestConnected(ctx, cs.Category, cur, shared)
}

func (r *Runner) progressFor(job string) progress.Func {
	if r.Progress == nil {
		return nil
	}
	return func(p progress.Progress) { r.Progress(job, p) }
}

var contentTypes = map[string]string{
	"json": "application/json",
	"xml":  "application/xml",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func (r *Runner) writeOutput(ctx context.Context, j config.Job, p *ingest.Pipeline, out config.Output, logger Logger) (OutputResult, error) {
	res := OutputResult{Format: out.Format}
	if out.Format == "sql" {
		res.Location = out.Kind
		rows, err := r.copyToStore(ctx, p, out, logger)
		res.Rows = rows
		return res, err
	}

	sk, err := r.OpenSink(ctx, out.Path, sink.S3Options{
		Region:       out.S3.Region,
		Endpoint:     out.S3.Endpoint,
		UsePathStyle: out.S3.UsePathStyle,
		ContentType:  contentTypes[out.Format],
		SpoolDir:     j.Runtime.Staging.Dir,
	})
	if err != nil {
		return res, err
	}
	res.Location = sk.Location()

	switch out.Format {
	case "json", "xml":
		var w serialize.Writer
		if out.Format == "json" {
			w = serialize.NewJSON(sk)
		} else {
			w = serialize.NewXML(sk)
		}
		res.Items, err = serialize.Export(ctx, p.Store(), p.Schema(), w, serialize.Options{
			Job:      j.Name,
			Meta:     documentMeta(j),
			Progress: r.progressFor(j.Name),
			Logger:   logger,
		})
	case "xlsx":
		res.Rows, err = sheets.Write(ctx, p.Store(), p.Schema().Tables(), sk, logger)
	default:
		err = fmt.Errorf("unsupported output format %q", out.Format)
	}
	if err != nil {
		if aerr := sk.Abort(err); aerr != nil {
			logger.Printf("stage=output abort location=%s err=%v", sk.Location(), aerr)
		}
		return res, err
	}
	if err := sk.Commit(ctx); err != nil {
		return res, err
	}
	logger.Printf("stage=output ok format=%s location=%s", out.Format, res.Location)
	return res, nil
}

func (r *Runner) copyToStore(ctx context.Context, p *ingest.Pipeline, out config.Output, logger Logger) (map[string]int64, error) {
	repo, err := r.Connect(ctx, storage.MultiConfig{Kind: out.Kind, DSN: out.DSN})
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	ex := &storage.Exporter{Repo: repo, Logger: logger}
	return ex.Export(ctx, p.Store(), p.Schema().Tables())
}

func documentMeta(j config.Job) serialize.Meta {
	src := j.Source.Database
	if src == "" {
		src = j.Name
	}
	kind := serialize.KindCategory
	if j.Source.View {
		kind = serialize.KindView
	}
	return serialize.Meta{Source: src, Category: j.Source.Category, Kind: kind}
}

// RunAll runs jobs with at most concurrency running at once. Jobs are
// independent: one failing does not stop the others. Results keep the order
// of jobs; the error joins every job's error.
func (r *Runner) RunAll(ctx context.Context, jobs []config.Job, concurrency int) ([]Result, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]Result, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			results[i], errs[i] = r.Run(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
