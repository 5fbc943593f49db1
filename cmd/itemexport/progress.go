package main

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"itemexport/internal/progress"
)

// progressView keeps one bar per (job, stage). Reports arrive on the job
// goroutines, so every bar is touched under mu.
type progressView struct {
	out io.Writer

	mu     sync.Mutex
	bars   map[string]*progressbar.ProgressBar
	closed bool
}

func newProgressView(out io.Writer) *progressView {
	return &progressView{out: out, bars: make(map[string]*progressbar.ProgressBar)}
}

func (v *progressView) Report(jobName string, p progress.Progress) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	key := jobName + " " + p.Stage
	bar, ok := v.bars[key]
	if !ok {
		bar = newBar(v.out, key, p.Total)
		v.bars[key] = bar
	}
	_ = bar.Set64(p.Done)
	if p.Total >= 0 && p.Done >= p.Total {
		_ = bar.Finish()
	}
}

// Close finishes every open bar. It is safe to call more than once.
func (v *progressView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for _, bar := range v.bars {
		if !bar.IsFinished() {
			_ = bar.Finish()
		}
	}
}

func newBar(out io.Writer, description string, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(out, "\n") }),
	)
}
