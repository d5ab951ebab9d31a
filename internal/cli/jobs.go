package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/autobid/internal/job"
)

var (
	jobsTenant   string
	jobsPlatform string
	jobsStatus   string
	jobsLimit    int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List discovered jobs or inspect one with its bids",
	Long: `List discovered jobs, newest first, or show a single job with every bid
placed on it.

Examples:
  autobid jobs
  autobid jobs --tenant acme --status bid_submitted
  autobid jobs 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVarP(&jobsTenant, "tenant", "t", "", "filter by tenant id")
	jobsCmd.Flags().StringVarP(&jobsPlatform, "platform", "p", "", "filter by platform")
	jobsCmd.Flags().StringVarP(&jobsStatus, "status", "s", "", "filter by job status")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "max results")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id: %s", args[0])
		}
		return showJob(ctx, out, id)
	}

	jobs, err := jobService().List(ctx, job.ListJobsRequest{
		TenantID: jobsTenant,
		Platform: jobsPlatform,
		Status:   job.Status(jobsStatus),
		Limit:    jobsLimit,
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-6s %-10s %-12s %-24s %-20s %s\n", "ID", "TENANT", "PLATFORM", "STATUS", "BUDGET", "TITLE")
	fmt.Fprintln(out, "------------------------------------------------------------------------------------------")
	for _, j := range jobs {
		fmt.Fprintf(out, "%-6d %-10s %-12s %-24s %-20s %s\n", j.ID, j.TenantID, j.Platform, j.Status, j.Budget(), truncate(j.Title, 50))
	}
	return nil
}

func showJob(ctx context.Context, out io.Writer, id int64) error {
	d, err := jobService().Get(ctx, job.GetJobRequest{ID: id})
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	j := d.Job

	fmt.Fprintf(out, "Job: %d (%s/%s %s)\n", j.ID, j.TenantID, j.Platform, j.ExternalID)
	fmt.Fprintf(out, "  Title: %s\n", j.Title)
	fmt.Fprintf(out, "  Status: %s\n", j.Status)
	fmt.Fprintf(out, "  Budget: %s\n", j.Budget())
	if j.URL != "" {
		fmt.Fprintf(out, "  URL: %s\n", j.URL)
	}
	fmt.Fprintf(out, "  Discovered: %s\n", j.DiscoveredAt.Format(time.RFC3339))

	if len(d.Bids) == 0 {
		fmt.Fprintln(out, "\nNo bids")
		return nil
	}

	fmt.Fprintf(out, "\nBids (%d):\n", len(d.Bids))
	for _, b := range d.Bids {
		fmt.Fprintf(out, "  #%d %s amount=%s confidence=%.0f created=%s\n",
			b.ID, b.Status, b.Amount.StringFixed(2), b.Confidence, b.CreatedAt.Format(time.RFC3339))
		if b.FailureReason != "" {
			fmt.Fprintf(out, "     failure: %s\n", b.FailureReason)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
