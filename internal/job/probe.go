package job

import (
	"context"

	"itemexport/internal/catalog"
	"itemexport/internal/config"
	"itemexport/internal/probe"
)

// Probe samples up to limit rows of the job's primary cursor and infers a
// type for every field it carries. Nothing is staged.
func (r *Runner) Probe(ctx context.Context, j config.Job, limit int) (probe.Report, error) {
	lk, err := j.Source.Lookup()
	if err != nil {
		return probe.Report{}, err
	}
	cur, err := r.OpenCursor(SourceCursor(j.Source))
	if err != nil {
		return probe.Report{}, err
	}
	defer cur.Close()

	cols, err := catalog.Classify(cur.Name(), cur.Columns(), lk)
	if err != nil {
		return probe.Report{}, err
	}
	rep, err := probe.Probe(ctx, cur, cols, lk, limit)
	if err != nil {
		return rep, err
	}
	r.LoggerFor(j.Name).Printf("stage=probe job=%s cursor=%s rows=%d fields=%d", j.Name, rep.Cursor, rep.Rows, len(rep.Fields))
	return rep, nil
}
