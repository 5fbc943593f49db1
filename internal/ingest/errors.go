package ingest

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is not allowed in the
// pipeline's current state.
var ErrInvalidState = errors.New("ingest: invalid pipeline state")

// ErrRowWidth is wrapped in a BatchCommitError when a cursor row does not
// have one cell per column.
var ErrRowWidth = errors.New("ingest: row width does not match cursor columns")

// BatchCommitError reports a batch that was rolled back.
type BatchCommitError struct {
	Stage    string
	Cursor   string
	Batch    int
	FirstRow int64
	LastRow  int64
	Row      int64 // -1 when the failure is not tied to one row
	Table    string
	Column   string
	Err      error
}

func (e *BatchCommitError) Error() string {
	msg := fmt.Sprintf("%s: cursor=%s batch=%d rows=%d-%d", e.Stage, e.Cursor, e.Batch, e.FirstRow, e.LastRow)
	if e.Row >= 0 {
		msg += fmt.Sprintf(" row=%d", e.Row)
	}
	if e.Table != "" {
		msg += " table=" + e.Table
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column=%q", e.Column)
	}
	return msg + ": " + e.Err.Error()
}

func (e *BatchCommitError) Unwrap() error { return e.Err }

// IntegrityError reports link rows whose keys point at missing rows.
type IntegrityError struct {
	Table   string
	Orphans int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ingest: table=%s has %d rows referencing missing items", e.Table, e.Orphans)
}

// Truncation is a value whose length reached the cursor's field limit.
type Truncation struct {
	Cursor string
	Batch  int
	Row    int64
	Column string
}
