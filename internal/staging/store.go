// Package staging owns the scratch relational store an export is normalized
// into. A Store is created per run as a uniquely named file, populated by
// one ingest pipeline, queried by the serializers and destroyed at the end.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"itemexport/internal/storage"
)

// Logger is the minimal logging surface used by the store.
type Logger interface {
	Printf(format string, v ...any)
}

type Options struct {
	// Driver selects the embedded engine: "sqlite" (default) or "duckdb".
	Driver string
	// Dir is where the store file is created; defaults to os.TempDir().
	Dir    string
	Logger Logger
}

// Store is a single-writer scratch database.
type Store struct {
	db      *sql.DB
	path    string
	dialect dialect
	logger  Logger

	mu        sync.Mutex
	destroyed bool
}

var _ storage.RowSource = (*Store)(nil)

// ErrDestroyed is returned by operations on a destroyed store.
var ErrDestroyed = errors.New("staging: store destroyed")

// Open creates a new, empty store file.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "itemexport-"+uuid.NewString()+".db")

	db, err := sql.Open(d.driverName(), d.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("staging: open %s: %w", path, err)
	}
	// The serializer keeps one outer query open while running sub-queries.
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("staging: open %s: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("stage=staging open driver=%s path=%s", d.driverName(), path)
	return &Store{db: db, path: path, dialect: d, logger: logger}, nil
}

func (s *Store) Path() string   { return s.path }
func (s *Store) Driver() string { return s.dialect.driverName() }

func (s *Store) live() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	return nil
}

// CreateTable creates one table from its spec.
func (s *Store) CreateTable(ctx context.Context, t storage.TableSpec) error {
	if err := s.live(); err != nil {
		return err
	}
	ddl, err := buildCreateTableSQL(s.dialect, t)
	if err != nil {
		return fmt.Errorf("staging: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("staging: create table %s: %w", t.Name, err)
	}
	return nil
}

// CreateTables creates tables in order.
func (s *Store) CreateTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if err := s.CreateTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Begin opens the transaction one batch is written in.
func (s *Store) Begin(ctx context.Context) (*Batch, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("staging: begin: %w", err)
	}
	return &Batch{tx: tx, dialect: s.dialect, stmts: map[string]*sql.Stmt{}}, nil
}

// Query runs a read-only query.
func (s *Store) Query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	return s.db.QueryContext(ctx, q, args...)
}

// QueryRow runs a query expected to return at most one row. On a destroyed
// store the error surfaces from Scan.
func (s *Store) QueryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, q, args...)
}

// Prepare prepares a statement on the store's pool, for sub-queries that run
// once per primary row.
func (s *Store) Prepare(ctx context.Context, q string) (*sql.Stmt, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	return s.db.PrepareContext(ctx, q)
}

// QueryTable returns every row of t ordered by its key.
func (s *Store) QueryTable(ctx context.Context, t storage.TableSpec) (*sql.Rows, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", joinIdents(t.ColumnNames()), Ident(t.Name))
	if order := t.OrderColumns(); len(order) > 0 {
		q += " ORDER BY " + joinIdents(order)
	}
	return s.Query(ctx, q)
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if err := s.live(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+Ident(table)).Scan(&n)
	return n, err
}

// Analyze refreshes planner statistics once all batches are in.
func (s *Store) Analyze(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("staging: analyze: %w", err)
	}
	return nil
}

// OrphanRows counts rows of t whose foreign keys point at missing rows.
func (s *Store) OrphanRows(ctx context.Context, t storage.TableSpec) (int64, error) {
	if err := s.live(); err != nil {
		return 0, err
	}
	var total int64
	for _, fk := range t.ForeignKeys {
		q := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s l WHERE NOT EXISTS (SELECT 1 FROM %s r WHERE r.%s = l.%s)",
			Ident(t.Name), Ident(fk.RefTable), Ident(fk.RefColumn), Ident(fk.Column),
		)
		var n int64
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return total, fmt.Errorf("staging: integrity check %s.%s: %w", t.Name, fk.Column, err)
		}
		total += n
	}
	return total, nil
}

// Destroy closes the store and removes its files. Safe to call twice.
func (s *Store) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	s.mu.Unlock()

	start := time.Now()
	var errs []error
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range append([]string{s.path}, s.dialect.sidecars(s.path)...) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.logger.Printf("stage=staging destroy path=%s duration=%s", s.path, time.Since(start).Truncate(time.Millisecond))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("staging: destroy %s: %w", s.path, err)
	}
	return nil
}

// IsConstraintError reports whether err looks like a key or foreign key violation.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "duplicate key")
}
