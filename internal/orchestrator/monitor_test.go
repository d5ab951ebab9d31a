package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/job"
	"github.com/ahmethakanbesel/autobid/internal/llm"
	"github.com/ahmethakanbesel/autobid/internal/marketplace"
	"github.com/ahmethakanbesel/autobid/internal/pacing"
	"github.com/ahmethakanbesel/autobid/internal/platform/sqlite"
	"github.com/ahmethakanbesel/autobid/internal/pricing"
	jobrepo "github.com/ahmethakanbesel/autobid/internal/repository/job"
	"github.com/ahmethakanbesel/autobid/internal/tenant"
)

type fetchResult struct {
	listings []marketplace.Listing
	err      error
}

// fakeAdapter replays results in order and then repeats the last one.
type fakeAdapter struct {
	mu       sync.Mutex
	platform string
	results  []fetchResult
	calls    int
}

func (a *fakeAdapter) Platform() string { return a.platform }

func (a *fakeAdapter) FetchRecentJobs(_ context.Context, limit int) ([]marketplace.Listing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.results[min(a.calls, len(a.results)-1)]
	a.calls++
	if len(r.listings) > limit {
		return r.listings[:limit], r.err
	}
	return r.listings, r.err
}

// fakeGenerator answers pricing requests with the confidence configured for
// the job title and counts requests per title.
type fakeGenerator struct {
	mu         sync.Mutex
	confidence map[string]float64
	fail       map[string]bool
	calls      map[string]int
	fatal      bool
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{confidence: map[string]float64{}, fail: map[string]bool{}, calls: map[string]int{}}
}

func (g *fakeGenerator) GenerateWithSystem(_ context.Context, _, user string) (string, error) {
	var req struct {
		JobTitle string `json:"job_title"`
	}
	if err := json.Unmarshal([]byte(user), &req); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[req.JobTitle]++
	if g.fatal {
		return "", fmt.Errorf("%w: generate with system: 401 invalid api key", llm.ErrFatalAPI)
	}
	if g.fail[req.JobTitle] {
		return "", errors.New("service unavailable")
	}
	return fmt.Sprintf(`{"amount": 250, "proposal_text": "Happy to help with %s.", "confidence": %v}`,
		req.JobTitle, g.confidence[req.JobTitle]), nil
}

func (g *fakeGenerator) callsFor(title string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[title]
}

// fakeSubmitter records outcomes through the repository the way the actuator
// does. failures holds how many attempts fail per external id; unrecorded
// ids are clicked but their submitted status is never stored.
type fakeSubmitter struct {
	mu         sync.Mutex
	repo       job.Repository
	failures   map[string]int
	unrecorded map[string]bool
	block      chan struct{}
	started    chan struct{}
	attempts   []string
}

func (s *fakeSubmitter) Submit(ctx context.Context, j *job.Job, b *job.Bid) error {
	s.mu.Lock()
	s.attempts = append(s.attempts, j.ExternalID)
	fail := s.failures[j.ExternalID] > 0
	if fail {
		s.failures[j.ExternalID]--
	}
	s.mu.Unlock()

	if s.started != nil {
		close(s.started)
		s.started = nil
	}
	if s.block != nil {
		<-s.block
	}

	if s.unrecorded[j.ExternalID] {
		if err := s.repo.MarkClicked(context.WithoutCancel(ctx), b.ID); err != nil {
			return err
		}
		return fmt.Errorf("record submitted bid %d: %w", b.ID,
			errors.Join(apperror.ErrBidUnrecorded, errors.New("database is locked")))
	}
	if fail {
		err := &apperror.SubmissionError{Step: "submit", Err: errors.New("button not clickable")}
		_ = s.repo.MarkSubmissionFailed(context.WithoutCancel(ctx), b.ID, err.Error())
		return err
	}
	return s.repo.MarkSubmitted(context.WithoutCancel(ctx), b.ID)
}

type harness struct {
	repo    *jobrepo.Repository
	adapter *fakeAdapter
	gen     *fakeGenerator
	sub     *fakeSubmitter
	monitor *Monitor
}

var testSettings = Settings{
	PollInterval:     5 * time.Millisecond,
	FetchLimit:       10,
	AuthWaitTimeout:  50 * time.Millisecond,
	AuthPollInterval: 5 * time.Millisecond,
	SubmitTimeout:    time.Second,
}

func newHarness(t *testing.T, tn tenant.Tenant, results ...fetchResult) *harness {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		repo:    jobrepo.NewRepository(db.DB),
		adapter: &fakeAdapter{platform: "thumbtack", results: results},
		gen:     newFakeGenerator(),
	}
	h.sub = &fakeSubmitter{repo: h.repo, failures: map[string]int{}, unrecorded: map[string]bool{}}
	h.monitor = NewMonitor(tn, Deps{
		Adapter:   h.adapter,
		Repo:      h.repo,
		Pricer:    pricing.NewEngine(h.gen),
		Submitter: h.sub,
		Pacer:     pacing.None{},
	}, testSettings)
	return h
}

func (h *harness) job(t *testing.T, externalID string) *job.Job {
	t.Helper()
	jobs, err := h.repo.List(context.Background(), job.ListFilter{TenantID: "acme"})
	require.NoError(t, err)
	var found *job.Job
	for i := range jobs {
		if jobs[i].ExternalID == externalID {
			require.Nil(t, found, "duplicate job row for %s", externalID)
			found = &jobs[i]
		}
	}
	require.NotNil(t, found, "job %s not stored", externalID)
	return found
}

func (h *harness) bids(t *testing.T, externalID string) []job.Bid {
	t.Helper()
	bids, err := h.repo.ListBids(context.Background(), h.job(t, externalID).ID)
	require.NoError(t, err)
	return bids
}

func acme() tenant.Tenant {
	return tenant.Tenant{
		ID:       "acme",
		Strategy: "balanced",
		Profile:  tenant.BusinessProfile{Name: "Acme Plumbing", Services: []string{"plumbing"}},
	}
}

func listing(id, title string) marketplace.Listing {
	return marketplace.Listing{
		ExternalID: id,
		URL:        "https://thumbtack.example/jobs/" + id,
		Title:      title,
		BudgetMin:  decimal.NewFromInt(100),
		BudgetMax:  decimal.NewFromInt(400),
	}
}

func TestCycle_HighConfidenceSubmits(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J1", "Fix leak")}})
	h.gen.confidence["Fix leak"] = 80

	res := h.monitor.RunCycle(context.Background())

	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, job.StatusBidSubmitted, h.job(t, "J1").Status)
	bids := h.bids(t, "J1")
	require.Len(t, bids, 1)
	assert.Equal(t, job.BidSubmitted, bids[0].Status)
	assert.True(t, bids[0].Amount.Equal(decimal.NewFromInt(250)))
	assert.NotNil(t, bids[0].SubmittedAt)
}

func TestCycle_LowConfidenceSkips(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J2", "Roof repair")}})
	h.gen.confidence["Roof repair"] = 40

	res := h.monitor.RunCycle(context.Background())

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, job.StatusSkippedLowConfidence, h.job(t, "J2").Status)
	assert.Empty(t, h.bids(t, "J2"))
	assert.Empty(t, h.sub.attempts)
}

func TestCycle_RefetchShortCircuits(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J1", "Fix leak")}})
	h.gen.confidence["Fix leak"] = 80

	h.monitor.RunCycle(context.Background())
	res := h.monitor.RunCycle(context.Background())

	assert.Equal(t, 0, res.New)
	assert.Equal(t, 0, res.Submitted)
	assert.Equal(t, 1, h.gen.callsFor("Fix leak"), "a job already bid must not be priced again")
	assert.Equal(t, []string{"J1"}, h.sub.attempts)
	assert.Len(t, h.bids(t, "J1"), 1)
}

func TestCycle_FailedSubmissionIsRetried(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J3", "Install heater")}})
	h.gen.confidence["Install heater"] = 75
	h.sub.failures["J3"] = 1

	first := h.monitor.RunCycle(context.Background())
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, job.StatusBidFailed, h.job(t, "J3").Status)
	bids := h.bids(t, "J3")
	require.Len(t, bids, 1)
	assert.Equal(t, job.BidFailed, bids[0].Status)
	assert.Contains(t, bids[0].FailureReason, "button not clickable")

	second := h.monitor.RunCycle(context.Background())
	assert.Equal(t, 1, second.Submitted)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, job.StatusBidSubmitted, h.job(t, "J3").Status)
	assert.Equal(t, 2, h.gen.callsFor("Install heater"))

	bids = h.bids(t, "J3")
	require.Len(t, bids, 2)
	statuses := []job.BidStatus{bids[0].Status, bids[1].Status}
	assert.ElementsMatch(t, []job.BidStatus{job.BidFailed, job.BidSubmitted}, statuses)
}

func TestCycle_ServiceFailureLeavesJobEligible(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J4", "Patch drywall")}})
	h.gen.fail["Patch drywall"] = true

	res := h.monitor.RunCycle(context.Background())

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, job.StatusDiscovered, h.job(t, "J4").Status)
	assert.Empty(t, h.bids(t, "J4"))

	h.gen.mu.Lock()
	h.gen.fail["Patch drywall"] = false
	h.gen.confidence["Patch drywall"] = 90
	h.gen.mu.Unlock()

	res = h.monitor.RunCycle(context.Background())
	assert.Equal(t, 1, res.Submitted)
}

func TestCycle_FatalPricingErrorEndsCycle(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{
		listing("A", "Job A"), listing("B", "Job B"),
	}})
	h.gen.fatal = true

	res := h.monitor.RunCycle(context.Background())

	assert.True(t, res.PricingHalted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, h.gen.callsFor("Job A"))
	assert.Equal(t, 0, h.gen.callsFor("Job B"), "remaining jobs must not be priced")
	assert.Equal(t, job.StatusDiscovered, h.job(t, "A").Status)
	assert.Empty(t, h.sub.attempts)

	h.gen.mu.Lock()
	h.gen.fatal = false
	h.gen.confidence["Job A"] = 90
	h.gen.confidence["Job B"] = 90
	h.gen.mu.Unlock()

	res = h.monitor.RunCycle(context.Background())
	assert.False(t, res.PricingHalted)
	assert.Equal(t, 2, res.Submitted)
}

func TestCycle_UnrecordedBidIsNotRetried(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J5", "Replace faucet")}})
	h.gen.confidence["Replace faucet"] = 85
	h.sub.unrecorded["J5"] = true

	res := h.monitor.RunCycle(context.Background())

	assert.Equal(t, 1, res.Unrecorded)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, job.StatusPriced, h.job(t, "J5").Status)

	res = h.monitor.RunCycle(context.Background())
	assert.Equal(t, 0, res.Unrecorded)
	assert.Equal(t, 1, h.gen.callsFor("Replace faucet"), "an unrecorded bid must hold the job")
	assert.Equal(t, []string{"J5"}, h.sub.attempts)

	rec, err := h.repo.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Submitted)
	assert.Equal(t, job.StatusBidSubmitted, h.job(t, "J5").Status)

	h.monitor.RunCycle(context.Background())
	bids := h.bids(t, "J5")
	require.Len(t, bids, 1)
	assert.Equal(t, job.BidSubmitted, bids[0].Status)
}

func TestCycle_ProcessesInAdapterOrder(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{
		listing("A", "Job A"), listing("B", "Job B"), listing("C", "Job C"),
	}})
	for _, title := range []string{"Job A", "Job B", "Job C"} {
		h.gen.confidence[title] = 90
	}

	res := h.monitor.RunCycle(context.Background())

	assert.Equal(t, 3, res.Submitted)
	assert.Equal(t, []string{"A", "B", "C"}, h.sub.attempts)
}

func TestCycle_HourlyLimit(t *testing.T) {
	tn := acme()
	tn.MaxBidsPerHour = 1
	h := newHarness(t, tn, fetchResult{listings: []marketplace.Listing{
		listing("A", "Job A"), listing("B", "Job B"),
	}})
	h.gen.confidence["Job A"] = 90
	h.gen.confidence["Job B"] = 90

	res := h.monitor.RunCycle(context.Background())

	assert.True(t, res.RateLimited)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, job.StatusDiscovered, h.job(t, "B").Status)
	assert.Equal(t, 0, h.gen.callsFor("Job B"))
}

func TestCycle_AuthenticationRecovered(t *testing.T) {
	authErr := fmt.Errorf("thumbtack: %w", apperror.ErrAuthenticationRequired)
	h := newHarness(t, acme(),
		fetchResult{err: authErr},
		fetchResult{listings: []marketplace.Listing{listing("J1", "Fix leak")}},
	)
	h.gen.confidence["Fix leak"] = 80

	res := h.monitor.RunCycle(context.Background())

	assert.False(t, res.AuthBlocked)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 2, h.adapter.calls)
}

func TestCycle_AuthenticationTimesOut(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{err: apperror.ErrAuthenticationRequired})

	start := time.Now()
	res := h.monitor.RunCycle(context.Background())

	assert.True(t, res.AuthBlocked)
	assert.GreaterOrEqual(t, time.Since(start), testSettings.AuthWaitTimeout)
	assert.Greater(t, h.adapter.calls, 2, "login should be re-checked while waiting")
}

func TestCycle_EmptyFetch(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{})
	res := h.monitor.RunCycle(context.Background())
	assert.Equal(t, 0, res.Fetched)
	assert.False(t, res.AuthBlocked)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.monitor.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "monitor did not stop")
	}
	assert.Equal(t, StateStopped, h.monitor.State())
	assert.Greater(t, h.adapter.calls, 1, "monitor should keep polling until cancelled")
}

func TestRun_InFlightSubmissionCompletes(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J1", "Fix leak")}})
	h.gen.confidence["Fix leak"] = 80
	h.sub.block = make(chan struct{})
	started := make(chan struct{})
	h.sub.started = started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.monitor.Run(ctx) }()

	<-started
	assert.Equal(t, StateSubmitting, h.monitor.State())
	cancel()
	close(h.sub.block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "monitor did not stop")
	}

	bids := h.bids(t, "J1")
	require.Len(t, bids, 1)
	assert.Equal(t, job.BidSubmitted, bids[0].Status, "cancellation must not leave a pending bid")
}

func TestSupervisor(t *testing.T) {
	h1 := newHarness(t, acme(), fetchResult{})
	h2 := newHarness(t, acme(), fetchResult{})
	h2.adapter.platform = "bark"
	h2.monitor = NewMonitor(acme(), Deps{
		Adapter: h2.adapter, Repo: h2.repo, Pricer: pricing.NewEngine(h2.gen),
		Submitter: h2.sub, Pacer: pacing.None{},
	}, testSettings)

	s := NewSupervisor(h1.monitor)
	s.Add(h2.monitor)
	assert.Equal(t, 2, s.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	states := s.States()
	assert.Equal(t, "stopped", states["acme/thumbtack"])
	assert.Equal(t, "stopped", states["acme/bark"])
}

func TestSupervisor_RunOnce(t *testing.T) {
	h := newHarness(t, acme(), fetchResult{listings: []marketplace.Listing{listing("J1", "Fix sink")}})
	h.gen.confidence["Fix sink"] = 80

	results := NewSupervisor(h.monitor).RunOnce(context.Background())

	require.Len(t, results, 1)
	assert.Equal(t, "acme/thumbtack", results[0].Monitor)
	assert.Equal(t, 1, results[0].Submitted)
	assert.Equal(t, StateIdle, h.monitor.State())
	assert.Equal(t, 1, h.adapter.calls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "state(42)", State(42).String())
}
