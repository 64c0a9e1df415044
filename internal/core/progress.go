package core

import (
	"math"
	"time"
)

// Tracker derives Progress after each visited row.
//
// The ETA is a plain rate estimate over the rows visited since this run
// started. Resuming from a checkpoint starts a new Tracker, so the rate
// baseline resets with every resume.
type Tracker struct {
	total      int
	startIndex int
	started    time.Time
	minSamples int
	now        func() time.Time

	progress Progress
}

// NewTracker seeds counters from rows already handled before startIndex.
func NewTracker(rows []ImportRow, startIndex, minSamples int, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if minSamples < 1 {
		minSamples = 1
	}

	t := &Tracker{
		total:      len(rows),
		startIndex: startIndex,
		started:    now(),
		minSamples: minSamples,
		now:        now,
	}
	t.progress = Progress{Total: len(rows), CurrentIndex: startIndex - 1}
	for i := 0; i < startIndex && i < len(rows); i++ {
		t.count(rows[i].Status)
	}
	if startIndex > 0 {
		t.progress.ProgressPercent = percent(startIndex-1, len(rows))
	}
	return t
}

func (t *Tracker) count(status RowStatus) {
	switch status {
	case StatusCompleted:
		t.progress.ProcessedCount++
	case StatusFailed:
		t.progress.ErrorCount++
	default:
		t.progress.SkippedCount++
	}
}

// Observe records the outcome of the row at index and recomputes
// percentage and ETA.
func (t *Tracker) Observe(index int, status RowStatus) Progress {
	t.count(status)
	t.progress.CurrentIndex = index
	t.progress.ProgressPercent = percent(index, t.total)

	visited := index + 1 - t.startIndex
	remaining := t.total - (index + 1)
	switch {
	case remaining <= 0:
		zero := int64(0)
		t.progress.ETAMillis = &zero
	case visited < t.minSamples:
		t.progress.ETAMillis = nil
	default:
		elapsed := t.now().Sub(t.started)
		eta := time.Duration(float64(elapsed) / float64(visited) * float64(remaining))
		ms := eta.Milliseconds()
		t.progress.ETAMillis = &ms
	}
	return t.Snapshot()
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() Progress {
	p := t.progress
	if p.ETAMillis != nil {
		v := *p.ETAMillis
		p.ETAMillis = &v
	}
	return p
}

func percent(index, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(index+1) / float64(total) * 100))
}
