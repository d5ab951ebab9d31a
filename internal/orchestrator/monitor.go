// Package orchestrator runs the monitoring loop: one Monitor per tenant and
// platform fetches listings, records them, prices the eligible ones and
// submits bids strictly one after another.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/config"
	"github.com/ahmethakanbesel/autobid/internal/job"
	"github.com/ahmethakanbesel/autobid/internal/llm"
	"github.com/ahmethakanbesel/autobid/internal/marketplace"
	"github.com/ahmethakanbesel/autobid/internal/pacing"
	"github.com/ahmethakanbesel/autobid/internal/pricing"
	"github.com/ahmethakanbesel/autobid/internal/strategy"
	"github.com/ahmethakanbesel/autobid/internal/tenant"
)

type State int32

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StateSkipping
	StateSubmitting
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateSkipping:
		return "skipping"
	case StateSubmitting:
		return "submitting"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Pricer decides whether and how much to bid. pricing.Engine satisfies it.
type Pricer interface {
	Decide(ctx context.Context, j *job.Job, profile tenant.BusinessProfile, strat strategy.Config) pricing.Decision
}

// Submitter drives one bid submission and records its outcome.
// actuator.Actuator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, j *job.Job, b *job.Bid) error
}

// Settings are the loop timings shared by every monitor.
type Settings struct {
	PollInterval     time.Duration
	FetchLimit       int
	AuthWaitTimeout  time.Duration
	AuthPollInterval time.Duration
	SubmitTimeout    time.Duration
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		PollInterval:     cfg.PollInterval,
		FetchLimit:       cfg.FetchLimit,
		AuthWaitTimeout:  cfg.AuthWaitTimeout,
		AuthPollInterval: cfg.AuthPollInterval,
		SubmitTimeout:    cfg.SubmitTimeout,
	}
}

// Deps are the collaborators a monitor owns. Adapter, Submitter and Pacer
// must not be shared with any other monitor; Repo and Pricer may be.
type Deps struct {
	Adapter   marketplace.Adapter
	Repo      job.Repository
	Pricer    Pricer
	Submitter Submitter
	Pacer     pacing.Controller
}

// CycleResult summarises one fetch-and-process pass. Unrecorded counts bids
// that reached the marketplace but could not be stored as submitted.
type CycleResult struct {
	ID            string
	Monitor       string
	Fetched       int
	New           int
	Skipped       int
	Submitted     int
	Failed        int
	Unrecorded    int
	AuthBlocked   bool
	RateLimited   bool
	PricingHalted bool
}

type Monitor struct {
	tenant   tenant.Tenant
	strat    strategy.Config
	platform string
	deps     Deps
	settings Settings
	log      *slog.Logger
	now      func() time.Time

	state atomic.Int32
}

func NewMonitor(t tenant.Tenant, deps Deps, settings Settings) *Monitor {
	platform := deps.Adapter.Platform()
	return &Monitor{
		tenant:   t,
		strat:    t.StrategyConfig(),
		platform: platform,
		deps:     deps,
		settings: settings,
		log:      slog.With("tenant", t.ID, "platform", platform),
		now:      time.Now,
	}
}

// Name identifies the monitor as tenant/platform.
func (m *Monitor) Name() string { return m.tenant.ID + "/" + m.platform }

func (m *Monitor) State() State { return State(m.state.Load()) }

func (m *Monitor) setState(s State) { m.state.Store(int32(s)) }

// Run loops until ctx is cancelled. A submission in flight when that happens
// still reaches a terminal status before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.setState(StateStopped)
	m.log.Info("monitor started", "strategy", m.strat.Name, "poll_interval", m.settings.PollInterval)

	for {
		res := m.RunCycle(ctx)
		m.log.Info("cycle finished", "cycle", res.ID, "fetched", res.Fetched, "new", res.New,
			"submitted", res.Submitted, "failed", res.Failed, "unrecorded", res.Unrecorded,
			"skipped", res.Skipped, "auth_blocked", res.AuthBlocked, "rate_limited", res.RateLimited,
			"pricing_halted", res.PricingHalted)

		if ctx.Err() != nil {
			break
		}
		m.setState(StateSleeping)
		if err := pacing.Sleep(ctx, m.settings.PollInterval); err != nil {
			break
		}
	}

	m.log.Info("monitor stopped")
	return nil
}

// RunCycle performs one fetch and processes the listings in the order the
// adapter returned them.
func (m *Monitor) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{ID: uuid.NewString()[:8], Monitor: m.Name()}
	log := m.log.With("cycle", res.ID)

	m.setState(StateFetching)
	listings, err := m.fetch(ctx, log)
	if errors.Is(err, apperror.ErrAuthenticationRequired) {
		log.Error("login not completed in time, skipping cycle", "waited", m.settings.AuthWaitTimeout)
		res.AuthBlocked = true
		return res
	}
	if err != nil {
		log.Warn("fetch failed", "error", err)
		return res
	}
	res.Fetched = len(listings)

	for _, l := range listings {
		if ctx.Err() != nil {
			break
		}
		m.setState(StateProcessing)
		if err := m.process(ctx, log, l, &res); err != nil {
			if errors.Is(err, errRateLimited) {
				res.RateLimited = true
				break
			}
			if errors.Is(err, llm.ErrFatalAPI) {
				res.PricingHalted = true
				log.Error("operator action required: pricing service rejected the credentials or quota, ending cycle",
					"external_id", l.ExternalID, "error", err)
				break
			}
			log.Error("job processing aborted", "external_id", l.ExternalID, "error", err)
		}
	}
	return res
}

// fetch asks the adapter for listings. When the session needs a login it
// re-checks every AuthPollInterval until AuthWaitTimeout passes.
func (m *Monitor) fetch(ctx context.Context, log *slog.Logger) ([]marketplace.Listing, error) {
	listings, err := m.deps.Adapter.FetchRecentJobs(ctx, m.settings.FetchLimit)
	if !errors.Is(err, apperror.ErrAuthenticationRequired) {
		return listings, err
	}

	log.Warn("operator action required: log in to the platform in the browser window",
		"timeout", m.settings.AuthWaitTimeout)
	deadline := m.now().Add(m.settings.AuthWaitTimeout)
	for m.now().Before(deadline) {
		if sErr := pacing.Sleep(ctx, m.settings.AuthPollInterval); sErr != nil {
			return nil, sErr
		}
		listings, err = m.deps.Adapter.FetchRecentJobs(ctx, m.settings.FetchLimit)
		if !errors.Is(err, apperror.ErrAuthenticationRequired) {
			if err == nil {
				log.Info("login detected, resuming")
			}
			return listings, err
		}
	}
	return nil, err
}

var errRateLimited = errors.New("hourly bid limit reached")

func (m *Monitor) process(ctx context.Context, log *slog.Logger, l marketplace.Listing, res *CycleResult) error {
	repo := m.deps.Repo

	known, err := repo.IsKnown(ctx, m.tenant.ID, m.platform, l.ExternalID)
	if err != nil {
		return err
	}
	j, created, err := repo.UpsertJob(ctx, &job.Job{
		TenantID:    m.tenant.ID,
		Platform:    m.platform,
		ExternalID:  l.ExternalID,
		URL:         l.URL,
		Title:       l.Title,
		Description: l.Description,
		BudgetMin:   l.BudgetMin,
		BudgetMax:   l.BudgetMax,
		PostedAt:    l.PostedAt,
	})
	if err != nil {
		return err
	}
	log = log.With("job", j.ID, "external_id", j.ExternalID)
	if created && !known {
		res.New++
		log.Info("job discovered", "title", j.Title, "budget", j.Budget())
	}

	if !j.Status.Eligible() {
		log.Debug("job already handled", "status", j.Status)
		return nil
	}
	active, err := repo.HasActiveBid(ctx, j.ID)
	if err != nil {
		return err
	}
	if active {
		log.Debug("job already has an active bid")
		return nil
	}

	if err := m.checkRate(ctx, res); err != nil {
		return err
	}

	d := m.deps.Pricer.Decide(ctx, j, m.tenant.Profile, m.strat)
	switch d.Outcome {
	case pricing.OutcomeSkipLowConfidence:
		m.setState(StateSkipping)
		res.Skipped++
		if err := repo.MarkSkipped(ctx, j.ID); err != nil {
			return err
		}
		log.Info("job skipped", "reason", d.Outcome, "confidence", d.Quote.Confidence)
		return nil
	case pricing.OutcomeSkipServiceFailure:
		m.setState(StateSkipping)
		res.Skipped++
		if errors.Is(d.Err, llm.ErrFatalAPI) {
			return d.Err
		}
		log.Warn("job left for next cycle", "reason", d.Outcome, "error", d.Err)
		return nil
	}

	if res.Submitted+res.Failed > 0 {
		if err := pacing.Sleep(ctx, m.deps.Pacer.ActionDelay()); err != nil {
			return nil
		}
	}

	bid := &job.Bid{
		Amount:       d.Quote.Amount,
		ProposalText: d.Quote.Proposal,
		Confidence:   d.Quote.Confidence,
	}
	bidID, err := repo.RecordBid(ctx, j.ID, bid)
	if errors.Is(err, apperror.ErrActiveBidExists) || errors.Is(err, apperror.ErrNotEligible) {
		log.Info("job claimed elsewhere, not bidding", "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	bid.ID = bidID
	bid.JobID = j.ID

	m.setState(StateSubmitting)
	log.Info("submitting bid", "bid", bidID, "amount", bid.Amount, "confidence", bid.Confidence)

	// Shutdown must not interrupt a submission halfway; the timeout still bounds it.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.settings.SubmitTimeout)
	defer cancel()
	err = m.deps.Submitter.Submit(sctx, j, bid)
	switch {
	case errors.Is(err, apperror.ErrBidUnrecorded):
		res.Unrecorded++
		log.Error("bid sent but not stored, job held until startup recovery", "bid", bidID, "error", err)
		return nil
	case err != nil:
		res.Failed++
		log.Warn("bid failed, job stays eligible", "bid", bidID, "error", err)
		return nil
	}
	res.Submitted++
	return nil
}

// checkRate enforces the tenant's max_bids_per_hour across all its platforms.
func (m *Monitor) checkRate(ctx context.Context, res *CycleResult) error {
	if m.tenant.MaxBidsPerHour <= 0 {
		return nil
	}
	n, err := m.deps.Repo.CountSubmittedSince(ctx, m.tenant.ID, m.now().Add(-time.Hour))
	if err != nil {
		return err
	}
	if n >= m.tenant.MaxBidsPerHour {
		m.log.Info("hourly bid limit reached", "cycle", res.ID, "limit", m.tenant.MaxBidsPerHour, "submitted", n)
		return errRateLimited
	}
	return nil
}
