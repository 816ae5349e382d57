package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/cdm-builder/internal/builder"
)

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List the available builder variants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range builder.NewRegistry().AllNames() {
			marker := ""
			if name == cfg.Build.Vendor {
				marker = " (configured)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", name, marker)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vendorsCmd)
}
