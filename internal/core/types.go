package core

import (
	"context"
	"time"
)

// RowStatus is the lifecycle state of a single imported row.
type RowStatus string

const (
	StatusPending    RowStatus = "pending"
	StatusValid      RowStatus = "valid"
	StatusError      RowStatus = "error"
	StatusProcessing RowStatus = "processing"
	StatusCompleted  RowStatus = "completed"
	StatusFailed     RowStatus = "failed"
)

// Sendable reports whether the driver should attempt an upsert for a row
// in this state.
func (s RowStatus) Sendable() bool {
	return s == StatusValid || s == StatusPending || s == StatusProcessing
}

// ImportRow is one source record plus its processing state.
type ImportRow struct {
	Row      int               `json:"row"` // 1-based spreadsheet line (header is line 1)
	Fields   map[string]string `json:"fields"`
	Status   RowStatus         `json:"status"`
	ErrorMsg string            `json:"errorMsg,omitempty"`
}

// Field returns the value for a field, or "" if absent.
func (r ImportRow) Field(name string) string {
	return r.Fields[name]
}

func (r ImportRow) clone() ImportRow {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}

// LogStatus is the outcome recorded for a processed row.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
)

// ImportLog records the outcome of one processed row. Entries are never
// modified after they are appended.
type ImportLog struct {
	Row        int       `json:"row"`
	Identifier string    `json:"identifier"`
	Status     LogStatus `json:"status"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Checkpoint is the persisted resume state of a run.
//
// LastProcessedIndex is the index into Rows of the last row the driver
// finished; a resumed run starts at LastProcessedIndex+1.
type Checkpoint struct {
	LastProcessedIndex int         `json:"index"`
	Rows               []ImportRow `json:"data"`
	Logs               []ImportLog `json:"logs"`
	Timestamp          time.Time   `json:"timestamp"`
}

// Valid reports whether the checkpoint satisfies the index invariant.
func (c *Checkpoint) Valid() bool {
	return c != nil && c.LastProcessedIndex >= 0 && c.LastProcessedIndex < len(c.Rows)
}

// Remaining returns the number of rows a resumed run would visit.
func (c *Checkpoint) Remaining() int {
	if c == nil {
		return 0
	}
	return len(c.Rows) - (c.LastProcessedIndex + 1)
}

// Progress is the derived progress state of a run.
type Progress struct {
	Total           int    `json:"total"`
	CurrentIndex    int    `json:"currentIndex"`
	ProcessedCount  int    `json:"processedCount"`
	ErrorCount      int    `json:"errorCount"`
	SkippedCount    int    `json:"skippedCount"`
	ProgressPercent int    `json:"progressPercent"`
	ETAMillis       *int64 `json:"etaMillis"` // nil until enough samples exist
}

// ETA returns the estimated time remaining and whether it is available.
func (p Progress) ETA() (time.Duration, bool) {
	if p.ETAMillis == nil {
		return 0, false
	}
	return time.Duration(*p.ETAMillis) * time.Millisecond, true
}

// Outcome is the final result category of a run. A run never ends in a
// thrown failure; row errors are reported through CompletedWithErrors.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	OutcomeCancelled           Outcome = "cancelled"
)

// Phase is the stage of a staged run.
type Phase string

const (
	PhaseUpload     Phase = "upload"
	PhasePreview    Phase = "preview"
	PhaseProcessing Phase = "processing"
	PhaseFinished   Phase = "finished"
)

// RunResult summarises a finished run.
type RunResult struct {
	RunID              string        `json:"runId,omitempty"`
	ImportType         string        `json:"importType"`
	Outcome            Outcome       `json:"outcome"`
	Progress           Progress      `json:"progress"`
	Attempted          int           `json:"attempted"`
	LastProcessedIndex int           `json:"lastProcessedIndex"`
	Duration           time.Duration `json:"duration"`
}

// Upserter writes one payload to a remote table, inserting or updating on
// the conflict key. Implementations must be idempotent for the same key.
type Upserter interface {
	Upsert(ctx context.Context, table, conflictKey string, payload map[string]any) error
}

// ReferenceSource reads a small reference table as a map from match
// column to value column.
type ReferenceSource interface {
	FetchReference(ctx context.Context, table, matchColumn, valueColumn string) (map[string]string, error)
}

// ProgressCallback is called after every row the driver visits.
type ProgressCallback func(Progress)
