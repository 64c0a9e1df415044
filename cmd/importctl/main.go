// Command importctl runs and inspects spreadsheet imports from the shell.
// It shares configuration and checkpoints with the server, so an import
// started here can be resumed from the UI and the other way round.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockimport/internal/app"
	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/logging"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitRowErrors = 3
	exitCancelled = 130
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	checkpointBackend string
	checkpointDir     string
	logLevel          string
}

func main() {
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.code != exitOK {
				fmt.Fprintln(os.Stderr, ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Run and resume bulk spreadsheet imports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.checkpointBackend, "checkpoints", "", "Checkpoint backend: file, redis, postgres, memory (default from CHECKPOINT_BACKEND)")
	cmd.PersistentFlags().StringVar(&opts.checkpointDir, "checkpoint-dir", "", "Directory for the file backend (default from CHECKPOINT_DIR)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(
		newRunCmd(&opts),
		newTemplateCmd(),
		newCheckpointCmd(&opts),
		newTypesCmd(),
	)
	return cmd
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.checkpointBackend != "" {
		cfg.Checkpoint.Backend = opts.checkpointBackend
	}
	if opts.checkpointDir != "" {
		cfg.Checkpoint.Dir = opts.checkpointDir
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Logs go to stderr so stdout stays clean for results.
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)))
	return cfg, nil
}

// buildStack loads config and connects every backend.
func buildStack(cmd *cobra.Command, opts *globalOptions) (*app.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return app.Build(cmd.Context(), cfg)
}
