package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockimport/internal/core"
)

type runOptions struct {
	importType string
	file       string
	resume     bool
	fresh      bool
	dryRun     bool
	jsonOut    bool
	logOut     string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import a spreadsheet, or resume the saved progress for a type",
		Example: `  importctl run --type inventory --file stock.xlsx
  importctl run --type inventory --resume
  importctl run --type suppliers --file suppliers.csv --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.importType, "type", "t", "", "Import type key (required)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Spreadsheet to import (.xlsx or .csv)")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Continue from the saved checkpoint instead of a file")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "Discard any saved checkpoint and start over")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate only; send nothing")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().StringVar(&opts.logOut, "log-out", "", "Write the activity log workbook to this path")
	_ = cmd.MarkFlagRequired("type")
	cmd.MarkFlagsMutuallyExclusive("file", "resume")
	cmd.MarkFlagsMutuallyExclusive("fresh", "resume")
	cmd.MarkFlagsOneRequired("file", "resume")

	return cmd
}

func runImport(cmd *cobra.Command, global *globalOptions, opts runOptions) error {
	def, ok := core.Get(opts.importType)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownType, opts.importType)
	}

	stack, err := buildStack(cmd, global)
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	state, err := loadState(ctx, stack.Checkpoints, def, opts)
	if err != nil {
		return err
	}

	counts := core.CountByStatus(state.Rows())
	fmt.Fprintf(stderr, "%s: %d rows, %d valid, %d invalid\n",
		def.Label, state.Len(), counts[core.StatusValid]+counts[core.StatusPending], counts[core.StatusError])

	if opts.dryRun {
		printInvalidRows(stderr, state.Rows())
		if counts[core.StatusError] > 0 {
			return withCode(exitRowErrors, fmt.Errorf("%d rows failed validation", counts[core.StatusError]))
		}
		return nil
	}

	ctl := core.NewControl()
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	stopSignals := cancelOnSignal(stderr, ctl, stopRun)
	defer stopSignals()

	result := stack.Engine.Run(runCtx, core.RunOptions{
		RunID:      uuid.NewString(),
		Definition: def,
		State:      state,
		Control:    ctl,
		OnProgress: progressPrinter(stderr),
	})
	fmt.Fprintln(stderr)

	if opts.logOut != "" {
		if err := writeLog(opts.logOut, state.Log().Entries()); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "activity log written to %s\n", opts.logOut)
	}

	if err := printResult(cmd.OutOrStdout(), result, opts.jsonOut); err != nil {
		return err
	}

	switch result.Outcome {
	case core.OutcomeCancelled:
		return withCode(exitCancelled, errors.New("import cancelled; resume with --resume"))
	case core.OutcomeCompletedWithErrors:
		return withCode(exitRowErrors, fmt.Errorf("import finished with %d failed rows", result.Progress.ErrorCount))
	}
	return nil
}

// loadState builds the run state from the file or the checkpoint. A fresh
// import refuses to overwrite saved progress unless --fresh is given.
func loadState(ctx context.Context, checkpoints *core.Persister, def core.Definition, opts runOptions) (*core.RunState, error) {
	cp, err := checkpoints.Load(ctx, def.Key)
	if err != nil {
		return nil, err
	}

	if opts.resume {
		if cp == nil {
			return nil, core.ErrNoCheckpoint
		}
		cp.Rows = core.Validate(def, cp.Rows)
		return core.RunStateFromCheckpoint(*cp), nil
	}

	if cp != nil && !opts.dryRun {
		if !opts.fresh {
			return nil, fmt.Errorf("saved progress exists for %s (%d of %d rows, %s); pass --resume or --fresh",
				def.Key, cp.LastProcessedIndex+1, len(cp.Rows), cp.Timestamp.Format(time.RFC3339))
		}
		if err := checkpoints.Delete(ctx, def.Key); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return nil, err
	}
	rows, err := core.ParseFile(def, filepath.Base(opts.file), data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, core.ErrNoRows
	}
	return core.NewRunState(core.Validate(def, rows)), nil
}

// cancelOnSignal cancels the run on the first interrupt, which saves a
// checkpoint, and stops it outright on the second.
func cancelOnSignal(w io.Writer, ctl *core.Control, stop context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(w, "\ncancelling after the current row; interrupt again to stop now")
			ctl.Cancel()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			stop()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// progressPrinter redraws one status line whenever the percentage moves.
func progressPrinter(w io.Writer) core.ProgressCallback {
	last := -1
	return func(p core.Progress) {
		if p.ProgressPercent == last && p.CurrentIndex != p.Total-1 {
			return
		}
		last = p.ProgressPercent
		eta := "--"
		if d, ok := p.ETA(); ok {
			eta = d.Round(time.Second).String()
		}
		fmt.Fprintf(w, "\r[%3d%%] %d/%d  ok=%d failed=%d skipped=%d  eta=%s   ",
			p.ProgressPercent, p.CurrentIndex+1, p.Total,
			p.ProcessedCount, p.ErrorCount, p.SkippedCount, eta)
	}
}

func printInvalidRows(w io.Writer, rows []core.ImportRow) {
	for _, r := range rows {
		if r.Status == core.StatusError {
			fmt.Fprintf(w, "  row %d: %s\n", r.Row, r.ErrorMsg)
		}
	}
}

func printResult(w io.Writer, result core.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	p := result.Progress
	_, err := fmt.Fprintf(w, "%s: %d saved, %d failed, %d skipped of %d rows in %s\n",
		result.Outcome, p.ProcessedCount, p.ErrorCount, p.SkippedCount, p.Total,
		result.Duration.Round(time.Millisecond))
	return err
}

func writeLog(path string, logs []core.ImportLog) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := core.WriteLogWorkbook(f, logs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
