package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statsTenant  string
	statsDays    int
	statsRefresh bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show bidding statistics",
	Long: `Show bid volume, win rate, revenue and response times over a window.

With --refresh the per-day rollups in daily_stats are recomputed from bid
history and printed as well.

Examples:
  autobid stats
  autobid stats --tenant acme --days 7
  autobid stats --tenant acme --refresh`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsTenant, "tenant", "t", "", "tenant id (all tenants when empty)")
	statsCmd.Flags().IntVarP(&statsDays, "days", "d", 30, "window in days")
	statsCmd.Flags().BoolVar(&statsRefresh, "refresh", false, "recompute daily rollups (requires --tenant)")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()
	agg := aggregator()

	s, err := agg.Compute(ctx, statsTenant, statsDays)
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}

	scope := s.TenantID
	if scope == "" {
		scope = "all tenants"
	}
	fmt.Fprintf(out, "Stats for %s, last %d days\n", scope, s.WindowDays)
	fmt.Fprintf(out, "  Bids: %d\n", s.TotalBids)
	fmt.Fprintf(out, "  Avg bid: %s\n", s.AvgBidAmount.StringFixed(2))
	fmt.Fprintf(out, "  Won/Lost: %d/%d\n", s.Wins, s.Losses)
	fmt.Fprintf(out, "  Win rate: %.2f%%\n", s.WinRate)
	fmt.Fprintf(out, "  Revenue: %s\n", s.TotalRevenue.StringFixed(2))
	fmt.Fprintf(out, "  Avg response: %.0fs\n", s.AvgResponseSecs)

	if len(s.PerPlatform) > 0 {
		fmt.Fprintf(out, "\n%-14s %6s %6s %9s %12s\n", "PLATFORM", "BIDS", "WON", "WIN RATE", "REVENUE")
		for _, p := range s.PerPlatform {
			fmt.Fprintf(out, "%-14s %6d %6d %8.2f%% %12s\n", p.Platform, p.TotalBids, p.Wins, p.WinRate, p.TotalRevenue.StringFixed(2))
		}
	}

	if !statsRefresh {
		return nil
	}
	rows, err := agg.RefreshDaily(ctx, statsTenant, statsDays)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nDaily rollups refreshed (%d rows)\n", len(rows))
	fmt.Fprintf(out, "%-12s %-14s %6s %6s %12s\n", "DATE", "PLATFORM", "BIDS", "WON", "REVENUE")
	for _, r := range rows {
		fmt.Fprintf(out, "%-12s %-14s %6d %6d %12s\n", r.Date, r.Platform, r.BidsSubmitted, r.Wins, r.TotalRevenue.StringFixed(2))
	}
	return nil
}
