package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/autobid/internal/llm"
	"github.com/ahmethakanbesel/autobid/internal/pricing"
	"github.com/ahmethakanbesel/autobid/internal/server"
	"github.com/ahmethakanbesel/autobid/internal/tenant"
)

var (
	runServe bool
	runOnce  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start monitoring and bidding for every configured tenant",
	Long: `Start one monitor per tenant platform. Each monitor opens its own browser
profile; when a platform asks for a login the monitor pauses and waits for the
operator to sign in through that window.

Examples:
  autobid run
  autobid run --serve=false
  autobid run --once`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runServe, "serve", true, "also serve the dashboard API")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle per monitor and exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobSvc := jobService()
	if err := jobSvc.RecoverInterruptedBids(ctx); err != nil {
		return fmt.Errorf("recover interrupted bids: %w", err)
	}

	tenants, err := tenant.Load(cfg.TenantsFile)
	if err != nil {
		return err
	}

	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	pricer := pricing.NewEngine(model,
		pricing.WithTimeout(cfg.LLMTimeout),
		pricing.WithHistory(aggregator()),
	)
	slog.Info("pricing with generative model", "provider", cfg.LLMProvider, "model", model.Model())

	eng, err := buildEngine(ctx, cfg, tenants, jobRepo, pricer, browserWiring(cfg))
	if err != nil {
		return err
	}
	defer eng.Close()

	if runOnce {
		for _, res := range eng.supervisor.RunOnce(ctx) {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s fetched=%d new=%d submitted=%d failed=%d unrecorded=%d skipped=%d\n",
				res.Monitor, res.Fetched, res.New, res.Submitted, res.Failed, res.Unrecorded, res.Skipped)
		}
		return nil
	}

	var srv *server.Server
	if runServe {
		srv = server.New(ctx, cfg.Port, jobSvc, aggregator(), eng.supervisor.States)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "error", err)
				stop()
			}
		}()
	}

	// Returns once ctx is cancelled and every in-flight submission has
	// reached a terminal status.
	if err := eng.supervisor.Run(ctx); err != nil {
		slog.Error("monitors stopped with error", "error", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}
	slog.Info("autobid stopped")
	return nil
}
