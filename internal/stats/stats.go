// Package stats computes read-only bidding rollups over a time window and
// materialises them into the daily_stats table for the dashboard.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/job"
)

const dateFormat = "2006-01-02"

// HistoryWindowDays is the window PlatformHistory looks back over.
const HistoryWindowDays = 30

// Stats is the rollup for one tenant (or all tenants) over WindowDays.
type Stats struct {
	TenantID        string          `json:"tenantId,omitempty"`
	WindowDays      int             `json:"windowDays"`
	TotalBids       int             `json:"totalBids"`
	AvgBidAmount    decimal.Decimal `json:"avgBidAmount"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         float64         `json:"winRate"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	AvgResponseSecs float64         `json:"avgResponseSecs"`
	PerPlatform     []PlatformStats `json:"perPlatform"`
}

type PlatformStats struct {
	Platform      string          `json:"platform"`
	TotalBids     int             `json:"totalBids"`
	AvgBidAmount  decimal.Decimal `json:"avgBidAmount"`
	AvgWinningBid decimal.Decimal `json:"avgWinningBid"`
	Wins          int             `json:"wins"`
	WinRate       float64         `json:"winRate"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
}

// Daily is one derived daily_stats row. It is never authoritative and can be
// recomputed from bid history at any time.
type Daily struct {
	TenantID        string          `json:"tenantId"`
	Platform        string          `json:"platform"`
	Date            string          `json:"date"`
	BidsSubmitted   int             `json:"bidsSubmitted"`
	Wins            int             `json:"wins"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	AvgResponseSecs float64         `json:"avgResponseSecs"`
}

type ActivitySource interface {
	BidActivity(ctx context.Context, tenantID string, since time.Time) ([]job.BidActivity, error)
}

type DailyStore interface {
	UpsertDaily(ctx context.Context, rows []Daily) error
	ListDaily(ctx context.Context, tenantID, fromDate string) ([]Daily, error)
}

type Aggregator struct {
	src   ActivitySource
	store DailyStore
	now   func() time.Time
}

// NewAggregator creates an Aggregator. store may be nil when only Compute is
// needed.
func NewAggregator(src ActivitySource, store DailyStore) *Aggregator {
	return &Aggregator{src: src, store: store, now: time.Now}
}

// WithClock overrides the time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

func (a *Aggregator) since(windowDays int) (time.Time, error) {
	if windowDays <= 0 {
		return time.Time{}, apperror.New(apperror.BadRequest, "window must be at least one day")
	}
	return a.now().UTC().AddDate(0, 0, -windowDays), nil
}

// Compute rolls up bids submitted in the last windowDays. An empty tenantID
// covers every tenant. A window with no bids yields zeros, never an error.
func (a *Aggregator) Compute(ctx context.Context, tenantID string, windowDays int) (*Stats, error) {
	since, err := a.since(windowDays)
	if err != nil {
		return nil, err
	}
	activity, err := a.src.BidActivity(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("compute stats: %w", err)
	}

	total := newTally()
	byPlatform := make(map[string]*tally)
	for _, act := range activity {
		total.add(act)
		t, ok := byPlatform[act.Platform]
		if !ok {
			t = newTally()
			byPlatform[act.Platform] = t
		}
		t.add(act)
	}

	s := &Stats{
		TenantID:        tenantID,
		WindowDays:      windowDays,
		TotalBids:       total.bids,
		AvgBidAmount:    total.avgAmount(),
		Wins:            total.wins,
		Losses:          total.losses,
		WinRate:         total.winRate(),
		TotalRevenue:    total.revenue,
		AvgResponseSecs: total.avgResponse(),
		PerPlatform:     []PlatformStats{},
	}
	for name, t := range byPlatform {
		s.PerPlatform = append(s.PerPlatform, t.platformStats(name))
	}
	sort.Slice(s.PerPlatform, func(i, j int) bool {
		return s.PerPlatform[i].Platform < s.PerPlatform[j].Platform
	})
	return s, nil
}

// PlatformHistory rolls up the last HistoryWindowDays of tenantID's bids on
// one platform. No bids yields a zero row.
func (a *Aggregator) PlatformHistory(ctx context.Context, tenantID, platform string) (PlatformStats, error) {
	s, err := a.Compute(ctx, tenantID, HistoryWindowDays)
	if err != nil {
		return PlatformStats{}, err
	}
	for _, p := range s.PerPlatform {
		if p.Platform == platform {
			return p, nil
		}
	}
	return newTally().platformStats(platform), nil
}

// RefreshDaily recomputes the daily_stats rows of tenantID for the last
// windowDays and returns them.
func (a *Aggregator) RefreshDaily(ctx context.Context, tenantID string, windowDays int) ([]Daily, error) {
	if a.store == nil {
		return nil, fmt.Errorf("refresh daily stats: no store configured")
	}
	if tenantID == "" {
		return nil, apperror.New(apperror.BadRequest, "tenant is required")
	}
	since, err := a.since(windowDays)
	if err != nil {
		return nil, err
	}
	activity, err := a.src.BidActivity(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("refresh daily stats: %w", err)
	}

	type key struct{ platform, date string }
	tallies := make(map[key]*tally)
	for _, act := range activity {
		k := key{act.Platform, act.SubmittedAt.UTC().Format(dateFormat)}
		t, ok := tallies[k]
		if !ok {
			t = newTally()
			tallies[k] = t
		}
		t.add(act)
	}

	rows := make([]Daily, 0, len(tallies))
	for k, t := range tallies {
		rows = append(rows, Daily{
			TenantID:        tenantID,
			Platform:        k.platform,
			Date:            k.date,
			BidsSubmitted:   t.bids,
			Wins:            t.wins,
			TotalRevenue:    t.revenue,
			AvgResponseSecs: t.avgResponse(),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].Platform < rows[j].Platform
	})

	if err := a.store.UpsertDaily(ctx, rows); err != nil {
		return nil, fmt.Errorf("refresh daily stats: %w", err)
	}
	return rows, nil
}

// Daily returns the stored daily rows of tenantID for the last windowDays.
func (a *Aggregator) Daily(ctx context.Context, tenantID string, windowDays int) ([]Daily, error) {
	if a.store == nil {
		return nil, fmt.Errorf("daily stats: no store configured")
	}
	since, err := a.since(windowDays)
	if err != nil {
		return nil, err
	}
	return a.store.ListDaily(ctx, tenantID, since.Format(dateFormat))
}

type tally struct {
	bids, wins, losses int
	amount, revenue    decimal.Decimal
	responded          int
	responseTotal      time.Duration
}

func newTally() *tally {
	return &tally{amount: decimal.Zero, revenue: decimal.Zero}
}

func (t *tally) add(a job.BidActivity) {
	t.bids++
	t.amount = t.amount.Add(a.Amount)
	switch a.Status {
	case job.BidWon:
		t.wins++
		t.revenue = t.revenue.Add(a.Amount)
	case job.BidLost:
		t.losses++
	}
	if a.RespondedAt != nil && a.RespondedAt.After(a.SubmittedAt) {
		t.responded++
		t.responseTotal += a.RespondedAt.Sub(a.SubmittedAt)
	}
}

func (t *tally) avgAmount() decimal.Decimal {
	if t.bids == 0 {
		return decimal.Zero
	}
	return t.amount.Div(decimal.NewFromInt(int64(t.bids))).Round(2)
}

func (t *tally) avgWin() decimal.Decimal {
	if t.wins == 0 {
		return decimal.Zero
	}
	return t.revenue.Div(decimal.NewFromInt(int64(t.wins))).Round(2)
}

func (t *tally) platformStats(name string) PlatformStats {
	return PlatformStats{
		Platform:      name,
		TotalBids:     t.bids,
		AvgBidAmount:  t.avgAmount(),
		AvgWinningBid: t.avgWin(),
		Wins:          t.wins,
		WinRate:       t.winRate(),
		TotalRevenue:  t.revenue,
	}
}

func (t *tally) winRate() float64 {
	if t.bids == 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(int64(t.wins * 100)).
		Div(decimal.NewFromInt(int64(t.bids))).Round(2).Float64()
	return rate
}

func (t *tally) avgResponse() float64 {
	if t.responded == 0 {
		return 0
	}
	return (t.responseTotal / time.Duration(t.responded)).Seconds()
}
