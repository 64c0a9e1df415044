// Package app assembles the import stack from configuration. Both the
// HTTP server and importctl build their engine here so they read and
// write the same checkpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/stockimport/internal/checkpoint"
	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/core"
	_ "github.com/JonMunkholm/stockimport/internal/core/tables" // Register import types
	"github.com/JonMunkholm/stockimport/internal/remote"
)

// Target is both halves of the remote system a run talks to.
type Target interface {
	core.Upserter
	core.ReferenceSource
}

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config      *config.Config
	Pool        *pgxpool.Pool // nil unless a component uses Postgres
	Target      Target
	Store       core.Store
	Checkpoints *core.Persister
	Engine      *core.Engine

	closers []io.Closer
}

// Build connects every configured backend.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.NeedsDatabase() {
		pool, err := connectPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))
	}

	target, err := a.buildTarget()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Target = target

	store, err := a.buildStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store
	a.Checkpoints = core.NewPersister(store)
	a.Engine = core.NewEngine(EngineConfig(cfg.Import), target, target, a.Checkpoints)

	slog.Info("import stack ready",
		"remote", cfg.Remote.Backend,
		"checkpoints", cfg.Checkpoint.Backend,
		"types", len(core.All()),
	)
	return a, nil
}

// NewService builds the run service on top of the engine.
func (a *App) NewService() *core.Service {
	return core.NewService(core.ServiceConfig{
		MaxFileSize:   a.Config.Import.MaxFileSize,
		MaxConcurrent: a.Config.Import.MaxConcurrent,
		RunTTL:        a.Config.Import.RunTTL,
	}, a.Engine, a.Checkpoints)
}

// NewSweeper returns the checkpoint sweeper, or nil when no schedule is
// configured. Checkpoints of types running in active are never swept.
func (a *App) NewSweeper(active core.ActiveRuns) (*core.Sweeper, error) {
	cc := a.Config.Checkpoint
	if cc.SweepSchedule == "" {
		return nil, nil
	}
	return core.NewSweeper(core.SweepConfig{
		Schedule: cc.SweepSchedule,
		MaxAge:   cc.MaxAge,
	}, a.Checkpoints, active)
}

// Close releases backends in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// EngineConfig maps the import settings onto the engine.
func EngineConfig(ic config.ImportConfig) core.EngineConfig {
	cfg := core.DefaultEngineConfig()
	cfg.Retry = core.RetryPolicy{MaxRetries: ic.MaxRetries, BackoffBase: ic.BackoffBase}
	cfg.CheckpointInterval = ic.CheckpointInterval
	cfg.ChunkSize = ic.ChunkSize
	cfg.YieldDelay = ic.YieldDelay
	cfg.ETAMinSamples = ic.ETAMinSamples
	return cfg
}

func (a *App) buildTarget() (Target, error) {
	rc := a.Config.Remote
	switch rc.Backend {
	case "postgres":
		return remote.NewPostgresTarget(a.Pool), nil
	case "rest":
		return remote.NewRESTTarget(remote.RESTOptions{
			BaseURL: rc.URL,
			APIKey:  rc.APIKey,
			Timeout: rc.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", rc.Backend)
	}
}

func (a *App) buildStore(ctx context.Context) (core.Store, error) {
	cc := a.Config.Checkpoint
	switch cc.Backend {
	case "file":
		return checkpoint.NewFileStore(cc.Dir)
	case "redis":
		store, err := checkpoint.NewRedisStore(ctx, checkpoint.RedisOptions{
			Addr:      cc.RedisAddr,
			Password:  cc.RedisPassword,
			DB:        cc.RedisDB,
			Namespace: "stockimport:",
			TTL:       cc.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	case "postgres":
		store := checkpoint.NewPostgresStore(a.Pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate checkpoint table: %w", err)
		}
		return store, nil
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cc.Backend)
	}
}

func connectPool(ctx context.Context, dc config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(dc.MaxConns)
	poolConfig.MinConns = int32(dc.MinConns)
	poolConfig.MaxConnLifetime = dc.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(dc.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
