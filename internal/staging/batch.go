package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"itemexport/internal/storage"
)

// Batch is one write transaction. Statements prepared through it are reused
// for every row of the batch and closed on Commit or Rollback.
type Batch struct {
	tx      *sql.Tx
	dialect dialect
	stmts   map[string]*sql.Stmt
	done    bool
}

// Insert appends rows to table. A key violation fails the batch.
func (b *Batch) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return b.exec(ctx, table, columns, rows, nil)
}

// InsertIgnore appends rows, skipping rows whose key columns already exist.
func (b *Batch) InsertIgnore(ctx context.Context, table string, key, columns []string, rows [][]any) (int64, error) {
	return b.exec(ctx, table, columns, rows, &storage.ConflictSpec{TargetColumns: key, Action: storage.ConflictDoNothing})
}

// Upsert inserts rows keyed by key; for existing keys, non-null incoming
// values replace stored ones and null incoming values keep them.
func (b *Batch) Upsert(ctx context.Context, table, key string, columns []string, rows [][]any) (int64, error) {
	return b.exec(ctx, table, columns, rows, &storage.ConflictSpec{TargetColumns: []string{key}, Action: storage.ConflictMerge})
}

func (b *Batch) exec(ctx context.Context, table string, columns []string, rows [][]any, conflict *storage.ConflictSpec) (int64, error) {
	if b.done {
		return 0, errors.New("staging: batch already finished")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	q := buildInsertSQL(table, columns, conflict)
	stmt, ok := b.stmts[q]
	if !ok {
		var err error
		stmt, err = b.tx.PrepareContext(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("prepare insert %s: %w", table, err)
		}
		b.stmts[q] = stmt
	}

	var n int64
	args := make([]any, len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return n, fmt.Errorf("insert %s: row %d has %d values for %d columns", table, i, len(row), len(columns))
		}
		for j, v := range row {
			args[j] = b.dialect.bind(v)
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return n, fmt.Errorf("insert %s: %w", table, err)
		}
		if ra, err := res.RowsAffected(); err == nil {
			n += ra
		}
	}
	return n, nil
}

func (b *Batch) closeStmts() {
	for q, s := range b.stmts {
		_ = s.Close()
		delete(b.stmts, q)
	}
}

// Commit makes the batch durable for the rest of the run.
func (b *Batch) Commit() error {
	if b.done {
		return errors.New("staging: batch already finished")
	}
	b.done = true
	b.closeStmts()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("staging: commit: %w", err)
	}
	return nil
}

// Rollback discards the batch. Calling it after Commit is a no-op.
func (b *Batch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	b.closeStmts()
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("staging: rollback: %w", err)
	}
	return nil
}
