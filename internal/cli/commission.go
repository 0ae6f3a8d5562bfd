package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ascend-academy/ascend/internal/app/commission"
	"github.com/ascend-academy/ascend/internal/daemon"
	"github.com/ascend-academy/ascend/internal/domain"
)

func init() {
	previewCmd.Flags().StringVar(&previewEvent, "event", string(domain.EventCoursePurchase), "Commission event type")
	previewCmd.Flags().Int64Var(&previewValue, "value", 0, "Sale value in cents")
	previewCmd.Flags().IntVar(&previewDepth, "depth", domain.MaxReferralTiers, "Referral chain depth (0-3)")
	commissionCmd.AddCommand(previewCmd, rulesCmd)
	rootCmd.AddCommand(commissionCmd)
}

var (
	previewEvent string
	previewValue int64
	previewDepth int
)

var commissionCmd = &cobra.Command{
	Use:   "commission",
	Short: "Inspect the referral commission economy",
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Compute tier payouts for a hypothetical sale",
	Example: `  ascend commission preview --event course_purchase --value 10000
  ascend commission preview --event registration --depth 2`,
	RunE: runPreview,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List configured commission rules and tier shares",
	RunE:  runRules,
}

func loadCalculator() (*commission.Calculator, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Calculator()
}

func runPreview(cmd *cobra.Command, args []string) error {
	calc, err := loadCalculator()
	if err != nil {
		return err
	}
	svc := commission.NewService(nil, calc, nil)
	payouts, err := svc.Preview(domain.CommissionEvent(previewEvent), previewValue, previewDepth)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(payouts) == 0 {
		fmt.Fprintf(out, "No commission for %s at %s.\n", previewEvent, formatCents(previewValue))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tAMOUNT\tCENTS")
	var total int64
	for _, p := range payouts {
		fmt.Fprintf(w, "%d\t%s\t%d\n", p.Tier, formatCents(p.AmountCents), p.AmountCents)
		total += p.AmountCents
	}
	fmt.Fprintf(w, "total\t%s\t%d\n", formatCents(total), total)
	return w.Flush()
}

func runRules(cmd *cobra.Command, args []string) error {
	calc, err := loadCalculator()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tFLAT\tPERCENT\tACTIVE")
	for _, r := range calc.Rules() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", r.EventType, formatCents(r.FlatCents), formatBP(r.PercentBP), r.Active)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for i, s := range calc.Shares() {
		fmt.Fprintf(cmd.OutOrStdout(), "tier %d share: %s\n", i+1, formatBP(s))
	}
	return nil
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func formatBP(bp int64) string {
	return fmt.Sprintf("%d.%02d%%", bp/100, bp%100)
}
