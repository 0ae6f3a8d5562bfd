package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ascend-academy/ascend/internal/daemon"
)

func init() {
	levelsCmd.Flags().IntVar(&levelsLimit, "limit", 20, "Show at most this many levels (0 = all)")
	rootCmd.AddCommand(levelsCmd)
}

var levelsLimit int

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Print the configured level curve",
	RunE:  runLevels,
}

func runLevels(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	table, err := cfg.LevelTable()
	if err != nil {
		return err
	}

	rows := table.Rows()
	if levelsLimit > 0 && levelsLimit < len(rows) {
		rows = rows[:levelsLimit]
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tXP\tSTEP")
	var prev int64
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%d\t+%d\n", r.Level, r.MinMetric, r.MinMetric-prev)
		prev = r.MinMetric
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(rows) < table.MaxLevel() {
		fmt.Fprintf(cmd.OutOrStdout(), "... %d levels total\n", table.MaxLevel())
	}
	return nil
}
