package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pkgversion "github.com/pzverkov/quantum-shield/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s version %s\n", appName, getVersion())
		if buildTime != "unknown" {
			_, _ = fmt.Fprintf(out, "Built: %s\n", buildTime)
		}
		commit := gitCommit
		if commit == "unknown" {
			commit = pkgversion.Commit()
		}
		if commit != "" && commit != "unknown" {
			_, _ = fmt.Fprintf(out, "Commit: %s\n", commit)
		}
	},
}
