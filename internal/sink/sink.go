// Package sink is where finished documents go: a local file, or an S3
// object spooled through a local file.
//
// A sink is written to, then either committed or aborted. Aborting never
// deletes what was written; it leaves a "<path>.incomplete" marker holding
// the cause next to the partial output.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MarkerSuffix is appended to an output path to flag it incomplete.
const MarkerSuffix = ".incomplete"

// Sink receives one output document.
type Sink interface {
	io.Writer
	// Location is where the output ends up, for log lines.
	Location() string
	Commit(ctx context.Context) error
	Abort(cause error) error
}

// Open returns the sink for target: "s3://bucket/key" or a file path.
func Open(ctx context.Context, target string, s3opts S3Options) (Sink, error) {
	if strings.HasPrefix(target, "s3://") {
		return OpenS3(ctx, target, s3opts)
	}
	return OpenFile(target)
}

// File writes straight to a local path.
type File struct {
	path string
	f    *os.File
	done bool
}

// OpenFile creates path, truncating an earlier output, and removes a stale
// incomplete marker.
func OpenFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: create dir %s: %w", dir, err)
		}
	}
	if err := os.Remove(path + MarkerSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("sink: remove stale marker: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

func (s *File) Location() string { return s.path }

func (s *File) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *File) Commit(context.Context) error {
	if s.done {
		return errors.New("sink: already finished")
	}
	s.done = true
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		err = fmt.Errorf("sink: sync %s: %w", s.path, err)
		return errors.Join(err, writeMarker(s.path, err))
	}
	if err := s.f.Close(); err != nil {
		err = fmt.Errorf("sink: close %s: %w", s.path, err)
		return errors.Join(err, writeMarker(s.path, err))
	}
	return nil
}

// Abort closes the file and flags it incomplete. Calling it after Commit is
// a no-op; a Commit that fails has already left the marker.
func (s *File) Abort(cause error) error {
	if s.done {
		return nil
	}
	s.done = true
	cerr := s.f.Close()
	return errors.Join(cerr, writeMarker(s.path, cause))
}

func writeMarker(path string, cause error) error {
	msg := "export did not complete\n"
	if cause != nil {
		msg = cause.Error() + "\n"
	}
	if err := os.WriteFile(path+MarkerSuffix, []byte(msg), 0o644); err != nil {
		return fmt.Errorf("sink: write marker for %s: %w", path, err)
	}
	return nil
}
