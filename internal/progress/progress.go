// Package progress carries the synchronous progress callback shared by the
// ingest and serialize stages.
package progress

import "time"

const (
	StageIngest    = "ingest"
	StageConnected = "ingest_connected"
	StageSerialize = "serialize"
)

// Progress is reported once per committed batch while ingesting and once per
// primary row while serializing.
type Progress struct {
	Stage   string
	Done    int64
	Total   int64 // -1 when unknown
	Batch   int   // -1 outside ingestion
	Elapsed time.Duration
}

// Func receives progress on the caller's goroutine; it should return quickly.
type Func func(Progress)

// Report calls f when it is set.
func (f Func) Report(p Progress) {
	if f != nil {
		f(p)
	}
}
