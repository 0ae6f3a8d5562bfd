package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ascend-academy/ascend/internal/daemon"
)

func init() {
	rootCmd.AddCommand(progressCmd)
}

var progressCmd = &cobra.Command{
	Use:   "progress USER",
	Short: "Show a user's XP, level, streaks, habits and achievements",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

func runProgress(cmd *cobra.Command, args []string) error {
	userID := args[0]
	ctx := cmd.Context()

	d, err := daemon.New(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	e := d.Engine
	p, err := e.Credits.Progress(ctx, userID)
	if err != nil {
		return err
	}
	habits, err := e.Streaks.List(ctx, userID)
	if err != nil {
		return err
	}
	unlocks, err := e.Achievements.ListUnlocked(ctx, userID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	next := fmt.Sprintf("%d", p.XPForNextLevel)
	if p.MaxLevel {
		next = "max"
	}
	fmt.Fprintf(out, "User:         %s\n", userID)
	fmt.Fprintf(out, "Level:        %d (%.1f%% to next)\n", p.Level, e.Levels.ProgressPct(p.XP))
	fmt.Fprintf(out, "XP:           %d / %s\n", p.XP, next)
	fmt.Fprintf(out, "Coins:        %d\n", p.Coins)
	fmt.Fprintf(out, "Daily streak: %d (longest %d)\n", p.ActivityStreak, p.LongestStreak)

	if len(habits) > 0 {
		fmt.Fprintln(out, "Habits:")
		for _, h := range habits {
			done := ""
			if h.Completed() {
				done = " [completed]"
			}
			fmt.Fprintf(out, "  %-20s %2d/%d days, streak %d (best %d)%s\n",
				h.Name, len(h.CompletedDays), h.CadenceDays, h.CurrentStreak, h.LongestStreak, done)
		}
	}

	fmt.Fprintf(out, "Achievements: %d/%d\n", len(unlocks), len(e.Achievements.Definitions()))
	for _, u := range unlocks {
		name := u.AchievementID
		if def, ok := e.Achievements.Definition(u.AchievementID); ok {
			name = def.Name
		}
		fmt.Fprintf(out, "  %-20s %s\n", name, u.UnlockedAt.Format("2006-01-02"))
	}
	return nil
}
