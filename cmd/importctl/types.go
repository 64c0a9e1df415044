package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stockimport/internal/core"
)

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the registered import types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tLABEL\tTABLE\tCOLUMNS")
			for _, def := range core.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Key, def.Label, def.Table, strings.Join(def.Headers(), ", "))
			}
			return tw.Flush()
		},
	}
}
