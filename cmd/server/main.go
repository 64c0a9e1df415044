package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/stockimport/internal/app"
	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/JonMunkholm/stockimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logCloser := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"remote", cfg.Remote.Backend,
		"checkpoints", cfg.Checkpoint.Backend,
		"max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	stack, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	service := stack.NewService()

	sweeper, err := stack.NewSweeper(service)
	if err != nil {
		return err
	}
	if sweeper != nil {
		sweeper.Start()
	}

	server, err := web.NewServer(service, cfg)
	if err != nil {
		return err
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop running imports first so each writes its checkpoint while
		// the stores are still open.
		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("stopping active imports", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("imports did not stop in time", "error", err)
		}

		if sweeper != nil {
			sweeper.Stop()
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	slog.Info("server stopped")
	return nil
}
