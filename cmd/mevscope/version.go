package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Populated by the release pipeline through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print mevscope version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit:  %s\n", commit)
			fmt.Fprintf(out, "Built:   %s\n", date)
		},
	}
}
