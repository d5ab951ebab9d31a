package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/autobid/internal/job"
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome <bid-id> <viewed|responded|won|lost>",
	Short: "Record what happened to a submitted bid",
	Long: `Record a marketplace outcome for a submitted bid. Won and lost are final
and also close the job.

Examples:
  autobid outcome 17 viewed
  autobid outcome 17 won`,
	Args: cobra.ExactArgs(2),
	RunE: runOutcome,
}

func runOutcome(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid bid id: %s", args[0])
	}

	b, err := jobService().RecordOutcome(context.Background(), job.RecordOutcomeRequest{
		BidID:  id,
		Status: job.BidStatus(args[1]),
	})
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Bid %d is now %s\n", b.ID, b.Status)
	return nil
}
