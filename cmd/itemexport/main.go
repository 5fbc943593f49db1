// Command itemexport runs export jobs from a YAML job file: each job stages a
// source snapshot into a normalized relational layout and writes it out as
// JSON, XML, a workbook, or rows in a relational database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"itemexport/internal/config"
	"itemexport/internal/job"
	"itemexport/internal/logging"
	"itemexport/internal/metrics"
	"itemexport/internal/metrics/datadog"
	"itemexport/internal/probe"
	"itemexport/internal/telemetry"

	// register all backends with the storage factory; the job file picks one.
	_ "itemexport/internal/storage/all"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// jobRunner is the part of *job.Runner the commands call.
type jobRunner interface {
	RunAll(ctx context.Context, jobs []config.Job, concurrency int) ([]job.Result, error)
	Describe(j config.Job) (*job.Plan, error)
	Probe(ctx context.Context, j config.Job, limit int) (probe.Report, error)
}

// metricsBackend is the shutdown half of a metrics backend.
type metricsBackend interface {
	Close() error
}

// appDeps holds the side-effecting seams so tests can drive run without
// files, networks or global state.
type appDeps struct {
	load         func(path string) (*config.File, error)
	newRunner    func(logger *zerolog.Logger, progress *progressView) jobRunner
	initMetrics  func(ctx context.Context, backend string, m config.Metrics) (func(), error)
	setupTracing func(ctx context.Context, cfg telemetry.Config) (telemetry.Shutdown, error)
}

func defaultDeps() appDeps {
	return appDeps{
		load:         config.Load,
		newRunner:    newJobRunner,
		initMetrics:  initMetrics,
		setupTracing: telemetry.Setup,
	}
}

func newJobRunner(logger *zerolog.Logger, pv *progressView) jobRunner {
	r := job.NewDefaultRunner(logger)
	r.LoggerFor = func(name string) job.Logger { return logging.Job(logger, name) }
	if pv != nil {
		r.Progress = pv.Report
	}
	return r
}

// usageError marks bad invocations; run exits 2 for them.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(stderr, err)
	var ue *usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintln(stderr, "usage: itemexport [export|schema|probe|validate] -c path/to/jobs.yaml")
		return 2
	}
	return 1
}

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd(deps appDeps, stdout, stderr io.Writer) *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "itemexport",
		Short:         "Normalize item snapshots and export them",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(rf.configPath) == "" {
				return &usageError{errors.New("a job file is required (-c)")}
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return &usageError{err} })
	root.PersistentFlags().StringVarP(&rf.configPath, "config", "c", "", "job file (YAML)")
	root.PersistentFlags().BoolVarP(&rf.verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(
		newExportCmd(deps, &rf, stdout, stderr),
		newSchemaCmd(deps, &rf, stdout, stderr),
		newValidateCmd(deps, &rf, stdout, stderr),
		newProbeCmd(deps, &rf, stdout, stderr),
	)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &usageError{fmt.Errorf("%s takes no arguments, got %q", cmd.Name(), args)}
	}
	return nil
}

// loadChecked reads the job file and prints its issues in the
// "severity: path: message" form. It fails when any issue is an error.
func loadChecked(deps appDeps, path string, stderr io.Writer) (*config.File, error) {
	f, err := deps.load(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	issues := config.Validate(f)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return nil, fmt.Errorf("configuration is invalid: %s", path)
	}
	return f, nil
}

func newValidateCmd(deps appDeps, rf *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the job file and exit",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadChecked(deps, rf.configPath, stderr)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "configuration is valid: %s (%d jobs)\n", rf.configPath, len(f.Jobs))
			return nil
		},
	}
}

func newSchemaCmd(deps appDeps, rf *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the tables each job would stage",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadChecked(deps, rf.configPath, stderr)
			if err != nil {
				return err
			}
			jobs, err := selectJobs(f.Jobs, only)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Options{Out: stderr, Debug: rf.verbose, Component: "itemexport"})
			r := deps.newRunner(logger, nil)
			var errs []error
			for _, j := range jobs {
				pl, err := r.Describe(j)
				if err != nil {
					errs = append(errs, fmt.Errorf("job %s: %w", j.Name, err))
					continue
				}
				printPlan(stdout, j.Name, pl)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&only, "job", nil, "only these jobs (repeatable)")
	return cmd
}

func newProbeCmd(deps appDeps, rf *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		only []string
		rows int
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample each job's source and suggest field_types",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadChecked(deps, rf.configPath, stderr)
			if err != nil {
				return err
			}
			jobs, err := selectJobs(f.Jobs, only)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Options{Out: stderr, Debug: rf.verbose, Component: "itemexport"})
			r := deps.newRunner(logger, nil)
			var errs []error
			for _, j := range jobs {
				rep, err := r.Probe(cmd.Context(), j, rows)
				if err != nil {
					errs = append(errs, fmt.Errorf("job %s: %w", j.Name, err))
					continue
				}
				if err := printProbe(stdout, stderr, j.Name, rep); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&only, "job", nil, "only these jobs (repeatable)")
	cmd.Flags().IntVar(&rows, "rows", probe.DefaultSampleRows, "rows to sample per job")
	return cmd
}

type exportFlags struct {
	only           []string
	concurrency    int
	metricsBackend string
	noProgress     bool
}

func newExportCmd(deps appDeps, rf *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	var ef exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run the jobs and write their outputs",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), deps, rf, &ef, stdout, stderr)
		},
	}
	cmd.Flags().StringSliceVar(&ef.only, "job", nil, "only these jobs (repeatable)")
	cmd.Flags().IntVarP(&ef.concurrency, "jobs", "j", 0, "jobs to run at once (overrides the job file)")
	cmd.Flags().StringVar(&ef.metricsBackend, "metrics-backend", "", "metrics backend: datadog or none (overrides env METRICS_BACKEND)")
	cmd.Flags().BoolVar(&ef.noProgress, "no-progress", false, "hide progress bars")
	return cmd
}

func runExport(ctx context.Context, deps appDeps, rf *rootFlags, ef *exportFlags, stdout, stderr io.Writer) error {
	f, err := loadChecked(deps, rf.configPath, stderr)
	if err != nil {
		return err
	}
	jobs, err := selectJobs(f.Jobs, ef.only)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Out: stderr, Debug: rf.verbose, Component: "itemexport"})

	shutdownTracing, err := deps.setupTracing(ctx, telemetry.Config{
		Endpoint:       f.Tracing.Endpoint,
		Insecure:       f.Tracing.Insecure,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	// Decide metrics backend: flag → env → job file.
	backend := ef.metricsBackend
	if backend == "" {
		backend = os.Getenv("METRICS_BACKEND")
	}
	if backend == "" {
		backend = f.Metrics.Backend
	}
	cleanup, err := deps.initMetrics(ctx, backend, f.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer cleanup()

	concurrency := ef.concurrency
	if concurrency <= 0 {
		concurrency = f.Concurrency
	}

	var pv *progressView
	if !ef.noProgress {
		pv = newProgressView(stderr)
		defer pv.Close()
	}
	r := deps.newRunner(logger, pv)

	start := time.Now()
	results, runErr := r.RunAll(ctx, jobs, concurrency)
	if pv != nil {
		pv.Close()
	}
	printSummary(stdout, results, runErr)
	logger.Info().Int("jobs", len(jobs)).Dur("elapsed", time.Since(start)).Bool("ok", runErr == nil).Msg("export finished")
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}

func selectJobs(all []config.Job, only []string) ([]config.Job, error) {
	if len(only) == 0 {
		return all, nil
	}
	byName := make(map[string]config.Job, len(all))
	for _, j := range all {
		byName[j.Name] = j
	}
	out := make([]config.Job, 0, len(only))
	for _, name := range only {
		j, ok := byName[name]
		if !ok {
			return nil, &usageError{fmt.Errorf("no job named %q in the job file", name)}
		}
		out = append(out, j)
	}
	return out, nil
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// initMetrics wires the named backend into the metrics package. The
// returned cleanup is never nil and flushes the backend.
func initMetrics(ctx context.Context, backend string, m config.Metrics) (func(), error) {
	switch backend {
	case "", "none", "noop":
		return func() {}, nil
	case "datadog", "dd":
		tags := append(datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")), m.Tags...)
		b, err := newDatadogBackend(ctx, datadog.Options{Service: m.Service, Tags: tags})
		if err != nil {
			return func() {}, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil
	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q", backend)
	}
}
