package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockimport/internal/core"
)

func newCheckpointCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or discard saved import progress",
	}
	cmd.AddCommand(
		newCheckpointShowCmd(global),
		newCheckpointClearCmd(global),
		newCheckpointSweepCmd(global),
	)
	return cmd
}

func newCheckpointShowCmd(global *globalOptions) *cobra.Command {
	var (
		importType string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the saved progress for a type",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := core.Get(importType); !ok {
				return fmt.Errorf("%w: %s", core.ErrUnknownType, importType)
			}
			stack, err := buildStack(cmd, global)
			if err != nil {
				return err
			}
			defer stack.Close()

			cp, err := stack.Checkpoints.Load(cmd.Context(), importType)
			if err != nil {
				return err
			}
			if cp == nil {
				return core.ErrNoCheckpoint
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cp)
			}
			counts := core.CountByStatus(cp.Rows)
			fmt.Fprintf(out, "type:       %s\n", importType)
			fmt.Fprintf(out, "saved:      %s\n", cp.Timestamp.Format(time.RFC3339))
			fmt.Fprintf(out, "position:   %d of %d rows\n", cp.LastProcessedIndex+1, len(cp.Rows))
			fmt.Fprintf(out, "remaining:  %d\n", cp.Remaining())
			fmt.Fprintf(out, "completed:  %d\n", counts[core.StatusCompleted])
			fmt.Fprintf(out, "failed:     %d\n", counts[core.StatusFailed])
			fmt.Fprintf(out, "log lines:  %d\n", len(cp.Logs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&importType, "type", "t", "", "Import type key (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full checkpoint as JSON")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newCheckpointClearCmd(global *globalOptions) *cobra.Command {
	var importType string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard the saved progress for a type",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := core.Get(importType); !ok {
				return fmt.Errorf("%w: %s", core.ErrUnknownType, importType)
			}
			stack, err := buildStack(cmd, global)
			if err != nil {
				return err
			}
			defer stack.Close()

			if err := stack.Checkpoints.Delete(cmd.Context(), importType); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "checkpoint for %s cleared\n", importType)
			return nil
		},
	}

	cmd.Flags().StringVarP(&importType, "type", "t", "", "Import type key (required)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newCheckpointSweepCmd(global *globalOptions) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete checkpoints older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack(cmd, global)
			if err != nil {
				return err
			}
			defer stack.Close()

			if maxAge <= 0 {
				maxAge = stack.Config.Checkpoint.MaxAge
			}
			// Runs live in the server process, so there is nothing to skip here.
			removed, err := stack.Checkpoints.Sweep(cmd.Context(), maxAge, time.Now(), nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "removed %d checkpoints\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Age limit (default from CHECKPOINT_MAX_AGE)")
	return cmd
}
