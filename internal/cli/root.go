// Package cli implements the Ascend command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ascend",
	Short: "Ascend: progression and rewards engine",
	Long: `Ascend turns learning activity into XP, levels, habit streaks,
achievements and multi-tier referral commissions.

Run 'ascend serve' to start the internal API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
