package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRunNotFound  = errors.New("import run not found")
	ErrRunActive    = errors.New("an import of this type is already running")
	ErrInvalidPhase = errors.New("operation not allowed in the current phase")
	ErrUnknownType  = errors.New("unknown import type")
	ErrTooManyRuns  = errors.New("too many imports running")
	ErrNoCheckpoint = errors.New("no checkpoint to resume")
	ErrFileTooLarge = errors.New("file too large")
)

// ServiceConfig holds run orchestration settings.
type ServiceConfig struct {
	MaxFileSize   int64         // Upload size limit in bytes, 0 for none
	MaxConcurrent int           // Runs executing at once across all types
	RunTTL        time.Duration // How long staged or finished runs stay queryable
}

// Service stages, starts and tracks import runs.
//
// One run per import type may be processing at a time within this process.
// Nothing prevents a second process from running the same type against the
// same checkpoint key; that overlap is a known race.
type Service struct {
	cfg         ServiceConfig
	engine      *Engine
	checkpoints *Persister
	limiter     *RunLimiter

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.RWMutex
	runs   map[string]*importRun
	active map[string]string // import type -> processing run ID
}

type importRun struct {
	ID       string
	Def      Definition
	FileName string
	Resumed  bool
	Created  time.Time
	State    *RunState
	Control  *Control
	Done     chan struct{}

	mu      sync.RWMutex
	phase   Phase
	result  *RunResult
	expires time.Time

	listenerMu sync.Mutex
	listeners  []chan Progress
}

// RunStatus is the externally visible state of a run.
type RunStatus struct {
	RunID      string            `json:"runId"`
	ImportType string            `json:"importType"`
	Label      string            `json:"label"`
	FileName   string            `json:"fileName,omitempty"`
	Phase      Phase             `json:"phase"`
	Resumed    bool              `json:"resumed"`
	Paused     bool              `json:"paused"`
	Cancelling bool              `json:"cancelling"`
	Progress   Progress          `json:"progress"`
	Counts     map[RowStatus]int `json:"counts"`
	Result     *RunResult        `json:"result,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// TypeInfo describes a registered import type.
type TypeInfo struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Table   string   `json:"table"`
	Headers []string `json:"headers"`
}

// CheckpointSummary describes a resumable checkpoint.
type CheckpointSummary struct {
	ImportType         string    `json:"importType"`
	LastProcessedIndex int       `json:"lastProcessedIndex"`
	Total              int       `json:"total"`
	Remaining          int       `json:"remaining"`
	LogCount           int       `json:"logCount"`
	Timestamp          time.Time `json:"timestamp"`
}

// NewService builds a service around an engine. checkpoints must be the
// persister the engine writes to.
func NewService(cfg ServiceConfig, engine *Engine, checkpoints *Persister) *Service {
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = 30 * time.Minute
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:         cfg,
		engine:      engine,
		checkpoints: checkpoints,
		limiter:     NewRunLimiter(cfg.MaxConcurrent),
		baseCtx:     ctx,
		stop:        stop,
		runs:        make(map[string]*importRun),
		active:      make(map[string]string),
	}
}

// ListTypes returns every registered import type.
func (s *Service) ListTypes() []TypeInfo {
	defs := All()
	infos := make([]TypeInfo, len(defs))
	for i, def := range defs {
		infos[i] = TypeInfo{Key: def.Key, Label: def.Label, Table: def.Table, Headers: def.Headers()}
	}
	return infos
}

// Limiter exposes the concurrency limiter for monitoring.
func (s *Service) Limiter() *RunLimiter {
	return s.limiter
}

// Stage parses and validates an upload, creating a run in the preview
// phase. A file that cannot be decoded creates nothing.
func (s *Service) Stage(ctx context.Context, importType, fileName string, data []byte) (RunStatus, error) {
	def, ok := Get(importType)
	if !ok {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrUnknownType, importType)
	}
	if s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize {
		return RunStatus{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.cfg.MaxFileSize)
	}

	rows, err := ParseFile(def, fileName, data)
	if err != nil {
		return RunStatus{}, err
	}
	if len(rows) == 0 {
		return RunStatus{}, ErrNoRows
	}
	rows = Validate(def, rows)

	run := s.addRun(def, fileName, NewRunState(rows), false)
	counts := CountByStatus(rows)
	LoggerFromContext(ctx).Info("import staged",
		"run_id", run.ID,
		"type", def.Key,
		"file", fileName,
		"rows", len(rows),
		"invalid", counts[StatusError],
	)
	return s.status(run), nil
}

// CheckpointInfo returns the saved checkpoint for a type, or nil.
func (s *Service) CheckpointInfo(ctx context.Context, importType string) (*CheckpointSummary, error) {
	if _, ok := Get(importType); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, importType)
	}
	cp, err := s.checkpoints.Load(ctx, importType)
	if err != nil || cp == nil {
		return nil, err
	}
	return &CheckpointSummary{
		ImportType:         importType,
		LastProcessedIndex: cp.LastProcessedIndex,
		Total:              len(cp.Rows),
		Remaining:          cp.Remaining(),
		LogCount:           len(cp.Logs),
		Timestamp:          cp.Timestamp,
	}, nil
}

// StageFromCheckpoint creates a preview run restored from the saved
// checkpoint instead of a fresh upload.
func (s *Service) StageFromCheckpoint(ctx context.Context, importType string) (RunStatus, error) {
	def, ok := Get(importType)
	if !ok {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrUnknownType, importType)
	}
	cp, err := s.checkpoints.Load(ctx, importType)
	if err != nil {
		return RunStatus{}, err
	}
	if cp == nil {
		return RunStatus{}, ErrNoCheckpoint
	}

	cp.Rows = Validate(def, cp.Rows)
	run := s.addRun(def, "", RunStateFromCheckpoint(*cp), true)
	LoggerFromContext(ctx).Info("import restored from checkpoint",
		"run_id", run.ID,
		"type", def.Key,
		"index", cp.LastProcessedIndex,
		"remaining", cp.Remaining(),
	)
	return s.status(run), nil
}

// DiscardCheckpoint deletes the saved checkpoint for a type. It refuses
// while a run of that type is processing, since the run would write it
// again.
func (s *Service) DiscardCheckpoint(ctx context.Context, importType string) error {
	if _, ok := Get(importType); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, importType)
	}
	s.mu.RLock()
	_, busy := s.active[importType]
	s.mu.RUnlock()
	if busy {
		return ErrRunActive
	}
	return s.checkpoints.Delete(ctx, importType)
}

// Start moves a previewed run into processing and returns immediately.
func (s *Service) Start(ctx context.Context, runID string) error {
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.runs[runID] != run || run.getPhase() != PhasePreview {
		s.mu.Unlock()
		return ErrInvalidPhase
	}
	if _, busy := s.active[run.Def.Key]; busy {
		s.mu.Unlock()
		return ErrRunActive
	}
	if !s.limiter.TryAcquire() {
		s.mu.Unlock()
		return ErrTooManyRuns
	}
	s.active[run.Def.Key] = run.ID
	run.setPhase(PhaseProcessing)
	s.mu.Unlock()

	LoggerFromContext(ctx).Info("import started", "run_id", run.ID, "type", run.Def.Key)
	go s.execute(run)
	return nil
}

func (s *Service) execute(run *importRun) {
	defer s.limiter.Release()

	result := s.engine.Run(s.baseCtx, RunOptions{
		RunID:      run.ID,
		Definition: run.Def,
		State:      run.State,
		Control:    run.Control,
		OnProgress: run.notifyProgress,
	})

	run.mu.Lock()
	run.result = &result
	run.phase = PhaseFinished
	run.mu.Unlock()

	s.mu.Lock()
	if s.active[run.Def.Key] == run.ID {
		delete(s.active, run.Def.Key)
	}
	s.mu.Unlock()

	close(run.Done)
	run.closeListeners()
	s.cleanup(run, s.cfg.RunTTL)
}

// Pause asks a processing run to stop before its next row. The checkpoint
// is written when the pause takes effect.
func (s *Service) Pause(runID string) error {
	run, err := s.processingRun(runID)
	if err != nil {
		return err
	}
	run.Control.Pause()
	return nil
}

// Resume continues a paused run from the same index.
func (s *Service) Resume(runID string) error {
	run, err := s.processingRun(runID)
	if err != nil {
		return err
	}
	run.Control.Resume()
	return nil
}

// Cancel stops a processing run at its next suspension point. The
// checkpoint is kept so the run can be resumed later.
func (s *Service) Cancel(runID string) error {
	run, err := s.processingRun(runID)
	if err != nil {
		return err
	}
	run.Control.Cancel()
	return nil
}

// Status returns the current state of a run.
func (s *Service) Status(runID string) (RunStatus, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return RunStatus{}, err
	}
	return s.status(run), nil
}

// Rows returns the run's rows, optionally filtered by status.
func (s *Service) Rows(runID string, filter RowStatus) ([]ImportRow, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	rows := run.State.Rows()
	if filter == "" {
		return rows, nil
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Status == filter {
			out = append(out, r)
		}
	}
	return out, nil
}

// Logs returns the run's activity log. newestFirst reverses it for
// display; limit <= 0 returns everything.
func (s *Service) Logs(runID string, newestFirst bool, limit int) ([]ImportLog, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	if newestFirst {
		return run.State.Log().Recent(limit), nil
	}
	entries := run.State.Log().Entries()
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// ExportLog writes the activity log as a workbook. It is safe to call
// mid-run.
func (s *Service) ExportLog(runID string, w io.Writer) error {
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	return WriteLogWorkbook(w, run.State.Log().Entries())
}

// Template writes the import template for a type.
func (s *Service) Template(importType string, w io.Writer) error {
	def, ok := Get(importType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, importType)
	}
	return WriteTemplateWorkbook(w, def)
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the run finishes. Slow listeners miss updates
// rather than stalling the run.
func (s *Service) SubscribeProgress(runID string) (<-chan Progress, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)

	run.listenerMu.Lock()
	defer run.listenerMu.Unlock()

	ch <- run.State.Progress()
	select {
	case <-run.Done:
		close(ch)
	default:
		run.listeners = append(run.listeners, ch)
	}
	return ch, nil
}

// Result blocks until the run finishes or ctx ends.
func (s *Service) Result(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	if run.getPhase() == PhasePreview {
		return nil, ErrInvalidPhase
	}
	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run.mu.RLock()
	defer run.mu.RUnlock()
	return run.result, nil
}

// Discard forgets a run that is not processing.
func (s *Service) Discard(runID string) error {
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	if run.getPhase() == PhaseProcessing {
		return ErrRunActive
	}
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
	return nil
}

// ActiveRun returns the ID of the processing run for a type, if any.
func (s *Service) ActiveRun(importType string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[importType]
	return id, ok
}

// Shutdown stops all processing runs and waits for them to write their
// checkpoints. Checkpoints are kept so the runs can be resumed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	return s.WaitForRuns(ctx)
}

// WaitForRuns blocks until no run is processing or ctx ends.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) addRun(def Definition, fileName string, state *RunState, resumed bool) *importRun {
	run := &importRun{
		ID:       uuid.New().String(),
		Def:      def,
		FileName: fileName,
		Resumed:  resumed,
		Created:  time.Now().UTC(),
		State:    state,
		Control:  NewControl(),
		Done:     make(chan struct{}),
		phase:    PhasePreview,
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	s.cleanup(run, s.cfg.RunTTL)
	return run
}

func (s *Service) getRun(runID string) (*importRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *Service) processingRun(runID string) (*importRun, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	if run.getPhase() != PhaseProcessing {
		return nil, ErrInvalidPhase
	}
	return run, nil
}

func (s *Service) status(run *importRun) RunStatus {
	run.mu.RLock()
	phase := run.phase
	result := run.result
	run.mu.RUnlock()

	return RunStatus{
		RunID:      run.ID,
		ImportType: run.Def.Key,
		Label:      run.Def.Label,
		FileName:   run.FileName,
		Phase:      phase,
		Resumed:    run.Resumed,
		Paused:     run.Control.Paused(),
		Cancelling: phase == PhaseProcessing && run.Control.Cancelled(),
		Progress:   run.State.Progress(),
		Counts:     CountByStatus(run.State.Rows()),
		Result:     result,
		CreatedAt:  run.Created,
	}
}

// cleanup removes a run from tracking after delay. Processing runs are
// never removed, and a later call pushes the expiry back.
func (s *Service) cleanup(run *importRun, delay time.Duration) {
	run.mu.Lock()
	run.expires = time.Now().Add(delay)
	run.mu.Unlock()

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		run.mu.RLock()
		keep := run.phase == PhaseProcessing || time.Now().Before(run.expires)
		run.mu.RUnlock()
		if !keep {
			delete(s.runs, run.ID)
		}
	})
}

func (r *importRun) getPhase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *importRun) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// notifyProgress sends progress updates to all listeners.
func (r *importRun) notifyProgress(p Progress) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()

	for _, ch := range r.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// closeListeners closes all listener channels.
func (r *importRun) closeListeners() {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()

	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
}
