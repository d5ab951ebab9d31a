// Package cli provides the command-line interface for autobid.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/autobid/internal/config"
	"github.com/ahmethakanbesel/autobid/internal/job"
	"github.com/ahmethakanbesel/autobid/internal/platform/sqlite"
	jobrepo "github.com/ahmethakanbesel/autobid/internal/repository/job"
	statsrepo "github.com/ahmethakanbesel/autobid/internal/repository/stats"
	"github.com/ahmethakanbesel/autobid/internal/stats"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	cfg      config.Config
	db       *sqlite.DB
	jobRepo  *jobrepo.Repository
	closeLog func() error
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "autobid",
	Short: "Automated bidding on service marketplaces",
	Long: `Autobid watches job marketplaces on behalf of service businesses, prices
each new listing with a generative text service and submits bids through a
real browser session, pacing every action like a person would.

Tenants, their strategies and platforms are read from the tenants file
(AUTOBID_TENANTS_FILE, default tenants.yaml).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		var logger *slog.Logger
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		var err error
		db, err = sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		jobRepo = jobrepo.NewRepository(db.DB)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeResources()
	},
}

// closeResources releases what PersistentPreRunE opened. It is also called
// after Execute, since post-run hooks are skipped when a command fails.
func closeResources() {
	if db != nil {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
		db = nil
	}
	if closeLog != nil {
		_ = closeLog()
		closeLog = nil
	}
}

func jobService() *job.Service {
	return job.NewService(jobRepo)
}

func aggregator() *stats.Aggregator {
	return stats.NewAggregator(jobRepo, statsrepo.NewRepository(db.DB))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer closeResources()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(outcomeCmd)
}
