package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockimport/internal/core"
)

func newTemplateCmd() *cobra.Command {
	var (
		importType string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write the import template workbook for a type",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, ok := core.Get(importType)
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrUnknownType, importType)
			}
			if output == "" {
				output = core.TemplateFileName(def.Key)
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := core.WriteTemplateWorkbook(f, def); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "template written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&importType, "type", "t", "", "Import type key (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default: <type>_template.xlsx)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
