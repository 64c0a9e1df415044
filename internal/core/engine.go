package core

// engine.go drives one import run: rows are sent strictly in order, one
// upsert (with retries) at a time.
//
// Suspension points are the pause wait before each row, the retry backoff
// and the yield after every chunk. Control.Cancel is only observed there,
// so an upsert already in flight completes and is recorded.

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EngineConfig holds the tunables of the upsert driver.
type EngineConfig struct {
	Retry              RetryPolicy
	CheckpointInterval int           // Rows between checkpoint writes
	ChunkSize          int           // Rows between yields
	YieldDelay         time.Duration // Pause taken at each yield
	ETAMinSamples      int           // Rows since resume before an ETA is shown
	CheckpointTimeout  time.Duration // Bound for checkpoint writes during shutdown
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Retry:              RetryPolicy{MaxRetries: 3, BackoffBase: time.Second},
		CheckpointInterval: 10,
		ChunkSize:          50,
		YieldDelay:         10 * time.Millisecond,
		ETAMinSamples:      3,
		CheckpointTimeout:  5 * time.Second,
	}
}

// RunState is the mutable state of one run. The driver owns writes; any
// goroutine may read through the accessor methods.
type RunState struct {
	mu        sync.RWMutex
	rows      []ImportRow
	lastIndex int
	progress  Progress
	log       *ActivityLog
}

// NewRunState starts a fresh run over rows.
func NewRunState(rows []ImportRow) *RunState {
	return &RunState{
		rows:      rows,
		lastIndex: -1,
		progress:  Progress{Total: len(rows), CurrentIndex: -1},
		log:       NewActivityLog(nil),
	}
}

// RunStateFromCheckpoint restores a run so it continues at
// cp.LastProcessedIndex+1.
func RunStateFromCheckpoint(cp Checkpoint) *RunState {
	rows := make([]ImportRow, len(cp.Rows))
	for i, r := range cp.Rows {
		rows[i] = r.clone()
	}
	tracker := NewTracker(rows, cp.LastProcessedIndex+1, 1, nil)
	return &RunState{
		rows:      rows,
		lastIndex: cp.LastProcessedIndex,
		progress:  tracker.Snapshot(),
		log:       NewActivityLog(cp.Logs),
	}
}

// Snapshot returns a consistent checkpoint of the current state.
func (s *RunState) Snapshot() Checkpoint {
	s.mu.RLock()
	rows := make([]ImportRow, len(s.rows))
	for i, r := range s.rows {
		rows[i] = r.clone()
	}
	lastIndex := s.lastIndex
	logs := s.log.Entries()
	s.mu.RUnlock()

	return Checkpoint{
		LastProcessedIndex: lastIndex,
		Rows:               rows,
		Logs:               logs,
		Timestamp:          time.Now().UTC(),
	}
}

// Rows returns a copy of the rows.
func (s *RunState) Rows() []ImportRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ImportRow, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.clone()
	}
	return out
}

// Progress returns the latest progress.
func (s *RunState) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.progress
	if p.ETAMillis != nil {
		v := *p.ETAMillis
		p.ETAMillis = &v
	}
	return p
}

// LastProcessedIndex returns the index of the last finished row, or -1.
func (s *RunState) LastProcessedIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndex
}

// Log returns the run's activity log.
func (s *RunState) Log() *ActivityLog {
	return s.log
}

// Len returns the number of rows.
func (s *RunState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *RunState) row(i int) ImportRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[i].clone()
}

func (s *RunState) setStatus(i int, status RowStatus, msg string) {
	s.mu.Lock()
	s.rows[i].Status = status
	s.rows[i].ErrorMsg = msg
	s.mu.Unlock()
}

// finish records the row outcome, its log entry and the new progress under
// one lock so snapshots never see a row without its log entry.
func (s *RunState) finish(i int, entry *ImportLog, p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry != nil {
		s.log.Append(*entry)
	}
	s.lastIndex = i
	s.progress = p
}

func (s *RunState) hasValidationErrors() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}

// RunOptions describe one invocation of Engine.Run.
type RunOptions struct {
	RunID      string
	Definition Definition
	State      *RunState
	Control    *Control
	OnProgress ProgressCallback
}

// Engine is the sequential upsert driver.
type Engine struct {
	cfg         EngineConfig
	target      Upserter
	refs        ReferenceSource
	checkpoints *Persister
	now         func() time.Time
}

// NewEngine wires the driver to its collaborators. refs may be nil when no
// registered type declares a reference lookup.
func NewEngine(cfg EngineConfig, target Upserter, refs ReferenceSource, checkpoints *Persister) *Engine {
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultEngineConfig().CheckpointInterval
	}
	if cfg.CheckpointTimeout <= 0 {
		cfg.CheckpointTimeout = DefaultEngineConfig().CheckpointTimeout
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	return &Engine{
		cfg:         cfg,
		target:      target,
		refs:        refs,
		checkpoints: checkpoints,
		now:         time.Now,
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Run processes opts.State from its last processed index to the end, or
// until cancellation. It never returns an error: row failures are recorded
// on the rows and in the activity log, and the outcome says how the run
// ended. Cancelling ctx stops the run like Control.Cancel, except that a
// row whose request was cut short is left for the resumed run. The
// checkpoint is written in both cases.
func (e *Engine) Run(ctx context.Context, opts RunOptions) RunResult {
	def := opts.Definition
	state := opts.State
	ctl := opts.Control
	if ctl == nil {
		ctl = NewControl()
	}

	logger := slog.With("run_id", opts.RunID, "type", def.Key)
	started := e.now()
	startIndex := state.LastProcessedIndex() + 1
	total := state.Len()

	logger.Info("import run started", "total", total, "start_index", startIndex)

	refs := e.loadReferences(ctx, ctl, def, logger)
	// The ETA rate covers row work only, so the clock starts after the
	// reference prefetch.
	tracker := NewTracker(state.Rows(), startIndex, e.cfg.ETAMinSamples, e.now)

	persist := func(reason string) {
		e.saveCheckpoint(ctx, def.Key, state, reason, logger)
	}

	attempted := 0
	cancelled := false

	for i := startIndex; i < total; i++ {
		if err := ctl.WaitWhilePaused(ctx, func() {
			logger.Info("import paused", "next_index", i)
			persist("pause")
		}); err != nil {
			cancelled = true
			break
		}

		row := state.row(i)
		status := row.Status
		var entry *ImportLog

		if row.Status.Sendable() {
			state.setStatus(i, StatusProcessing, "")
			attempted++

			err := e.processRow(ctx, ctl, def, row, refs, logger)
			if err != nil && ctx.Err() != nil {
				// Shutdown interrupted the request; leave the row for the
				// resumed run instead of recording a failure.
				state.setStatus(i, row.Status, row.ErrorMsg)
				attempted--
				cancelled = true
				break
			}
			entry = &ImportLog{
				Row:        row.Row,
				Identifier: def.Identifier(row),
				Timestamp:  e.now().UTC(),
			}
			if err == nil {
				status = StatusCompleted
				state.setStatus(i, status, "")
				entry.Status = LogSuccess
				entry.Message = def.successMessage(row)
			} else {
				status = StatusFailed
				state.setStatus(i, status, err.Error())
				entry.Status = LogFailed
				entry.Message = err.Error()
				logger.Warn("row failed", "row", row.Row, "error", err)
			}
		}

		p := tracker.Observe(i, status)
		state.finish(i, entry, p)
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}

		done := i + 1 - startIndex
		if done%e.cfg.CheckpointInterval == 0 && i+1 < total {
			persist("interval")
		}
		if e.cfg.ChunkSize > 0 && done%e.cfg.ChunkSize == 0 && i+1 < total {
			if err := ctl.Sleep(ctx, e.cfg.YieldDelay); err != nil {
				cancelled = true
				break
			}
		}
	}

	progress := state.Progress()
	result := RunResult{
		RunID:              opts.RunID,
		ImportType:         def.Key,
		Progress:           progress,
		Attempted:          attempted,
		LastProcessedIndex: state.LastProcessedIndex(),
		Duration:           e.now().Sub(started),
	}

	if cancelled {
		persist("cancel")
		result.Outcome = OutcomeCancelled
		logger.Info("import cancelled",
			"attempted", attempted,
			"last_index", result.LastProcessedIndex,
			"shutdown", ctx.Err() != nil,
		)
		return result
	}

	if e.checkpoints != nil {
		if err := e.checkpoints.Delete(context.WithoutCancel(ctx), def.Key); err != nil {
			logger.Warn("checkpoint delete failed", "error", err)
		}
	}

	result.Outcome = OutcomeCompleted
	if progress.ErrorCount > 0 || state.hasValidationErrors() {
		result.Outcome = OutcomeCompletedWithErrors
	}
	logger.Info("import finished",
		"outcome", result.Outcome,
		"processed", progress.ProcessedCount,
		"errors", progress.ErrorCount,
		"skipped", progress.SkippedCount,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result
}

// processRow builds the payload and upserts it with retry. Payload errors
// are permanent and are not retried.
func (e *Engine) processRow(ctx context.Context, ctl *Control, def Definition, row ImportRow, refs References, logger *slog.Logger) error {
	payload, err := def.BuildPayload(row, refs)
	if err != nil {
		return err
	}

	_, err = retryWithBackoff(ctx, ctl, e.cfg.Retry, func() error {
		return e.target.Upsert(ctx, def.Table, def.ConflictKey, payload)
	}, func(attempt int, delay time.Duration, err error) {
		logger.Debug("upsert retry",
			"row", row.Row,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
	})
	return err
}

// loadReferences fetches the definition's reference set once, with the
// same retry policy as upserts. A failed fetch yields an empty set so rows
// that need a reference fail individually instead of aborting the run.
func (e *Engine) loadReferences(ctx context.Context, ctl *Control, def Definition, logger *slog.Logger) References {
	spec := def.Reference
	if spec == nil || e.refs == nil {
		return References{}
	}

	var raw map[string]string
	_, err := retryWithBackoff(ctx, ctl, e.cfg.Retry, func() error {
		var err error
		raw, err = e.refs.FetchReference(ctx, spec.Table, spec.MatchColumn, spec.ValueColumn)
		return err
	}, nil)
	if err != nil {
		logger.Warn("reference lookup failed, continuing without references",
			"table", spec.Table,
			"error", err,
		)
		return References{}
	}

	logger.Debug("references loaded", "table", spec.Table, "count", len(raw))
	return NewReferences(raw)
}

// saveCheckpoint persists a snapshot. It detaches from ctx so the write
// survives shutdown, bounded by CheckpointTimeout. Failures are logged:
// the run keeps going and the previous checkpoint stays in place.
func (e *Engine) saveCheckpoint(ctx context.Context, importType string, state *RunState, reason string, logger *slog.Logger) {
	if e.checkpoints == nil {
		return
	}
	cp := state.Snapshot()
	if cp.LastProcessedIndex < 0 {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CheckpointTimeout)
	defer cancel()

	if err := e.checkpoints.Save(saveCtx, importType, cp); err != nil {
		logger.Error("checkpoint save failed", "reason", reason, "error", err)
		return
	}
	logger.Debug("checkpoint saved", "reason", reason, "index", cp.LastProcessedIndex)
}
