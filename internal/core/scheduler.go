package core

// scheduler.go runs background maintenance for checkpoints.
//
// Checkpoints are only deleted when a run completes. A run that is
// abandoned after a cancel or crash leaves its checkpoint behind forever,
// so the sweeper removes checkpoints older than MaxAge on a cron schedule.
// Failures are logged; they never stop the application.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepConfig holds configuration for the checkpoint sweeper.
type SweepConfig struct {
	Schedule string        // Cron spec or descriptor, e.g. "@every 1h"
	MaxAge   time.Duration // Checkpoints older than this are deleted
	Timeout  time.Duration // Bound for one sweep (default: 1m)
}

// Sweeper deletes stale checkpoints on a schedule.
type Sweeper struct {
	cfg         SweepConfig
	checkpoints *Persister
	active      ActiveRuns
	cron        *cron.Cron
	now         func() time.Time
}

// NewSweeper validates the schedule and prepares the cron runner. Types
// reported by active are skipped; active may be nil.
func NewSweeper(cfg SweepConfig, checkpoints *Persister, active ActiveRuns) (*Sweeper, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("checkpoint max age must be positive, got %s", cfg.MaxAge)
	}

	s := &Sweeper{
		cfg:         cfg,
		checkpoints: checkpoints,
		active:      active,
		cron:        cron.New(),
		now:         time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins running sweeps in the background.
func (s *Sweeper) Start() {
	slog.Info("checkpoint sweeper started",
		"schedule", s.cfg.Schedule,
		"max_age", s.cfg.MaxAge.String(),
	)
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("checkpoint sweeper stopped")
}

// Sweep performs one pass and returns the number of removed checkpoints.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	return s.checkpoints.Sweep(ctx, s.cfg.MaxAge, s.now(), s.active)
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	removed, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("checkpoint sweep failed", "error", err, "removed", removed)
		return
	}
	slog.Info("checkpoint sweep completed",
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
