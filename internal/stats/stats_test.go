package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/job"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	activity  []job.BidActivity
	err       error
	gotTenant string
	gotSince  time.Time
}

func (f *fakeSource) BidActivity(_ context.Context, tenantID string, since time.Time) ([]job.BidActivity, error) {
	f.gotTenant = tenantID
	f.gotSince = since
	return f.activity, f.err
}

type fakeStore struct {
	rows []Daily
}

func (f *fakeStore) UpsertDaily(_ context.Context, rows []Daily) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeStore) ListDaily(_ context.Context, _ string, fromDate string) ([]Daily, error) {
	var out []Daily
	for _, r := range f.rows {
		if r.Date >= fromDate {
			out = append(out, r)
		}
	}
	return out, nil
}

func activity(platform string, amount int64, status job.BidStatus, submitted time.Time, respondAfter time.Duration) job.BidActivity {
	a := job.BidActivity{
		Platform:    platform,
		Amount:      decimal.NewFromInt(amount),
		Status:      status,
		SubmittedAt: submitted,
	}
	if respondAfter > 0 {
		r := submitted.Add(respondAfter)
		a.RespondedAt = &r
	}
	return a
}

func sampleActivity() []job.BidActivity {
	day1 := now.AddDate(0, 0, -2)
	day2 := now.AddDate(0, 0, -1)
	return []job.BidActivity{
		activity("upwork", 100, job.BidWon, day1, time.Hour),
		activity("upwork", 300, job.BidLost, day1, 3*time.Hour),
		activity("upwork", 200, job.BidSubmitted, day2, 0),
		activity("bark", 400, job.BidWon, day2, 2*time.Hour),
	}
}

func TestCompute(t *testing.T) {
	src := &fakeSource{activity: sampleActivity()}
	agg := NewAggregator(src, nil).WithClock(func() time.Time { return now })

	s, err := agg.Compute(context.Background(), "acme", 7)
	require.NoError(t, err)

	assert.Equal(t, "acme", src.gotTenant)
	assert.Equal(t, now.AddDate(0, 0, -7), src.gotSince)

	assert.Equal(t, 4, s.TotalBids)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 50.0, s.WinRate, 0.001)
	assert.True(t, s.AvgBidAmount.Equal(decimal.NewFromInt(250)), "avg %s", s.AvgBidAmount)
	assert.True(t, s.TotalRevenue.Equal(decimal.NewFromInt(500)), "revenue %s", s.TotalRevenue)
	assert.InDelta(t, 2*3600.0, s.AvgResponseSecs, 0.001)

	require.Len(t, s.PerPlatform, 2)
	bark, upwork := s.PerPlatform[0], s.PerPlatform[1]
	assert.Equal(t, "bark", bark.Platform)
	assert.InDelta(t, 100.0, bark.WinRate, 0.001)
	assert.Equal(t, "upwork", upwork.Platform)
	assert.Equal(t, 3, upwork.TotalBids)
	assert.InDelta(t, 33.33, upwork.WinRate, 0.001)
	assert.True(t, upwork.AvgBidAmount.Equal(decimal.NewFromInt(200)))
}

func TestCompute_EmptyWindow(t *testing.T) {
	agg := NewAggregator(&fakeSource{}, nil)

	s, err := agg.Compute(context.Background(), "acme", 30)
	require.NoError(t, err)

	assert.Equal(t, 0, s.TotalBids)
	assert.Equal(t, 0.0, s.WinRate)
	assert.True(t, s.AvgBidAmount.IsZero())
	assert.True(t, s.TotalRevenue.IsZero())
	assert.Equal(t, 0.0, s.AvgResponseSecs)
	assert.NotNil(t, s.PerPlatform)
	assert.Empty(t, s.PerPlatform)
}

func TestCompute_InvalidWindow(t *testing.T) {
	_, err := NewAggregator(&fakeSource{}, nil).Compute(context.Background(), "acme", 0)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.BadRequest, appErr.Code())
}

func TestCompute_SourceError(t *testing.T) {
	src := &fakeSource{err: apperror.Repo("bid activity", errors.New("disk I/O error"))}
	_, err := NewAggregator(src, nil).Compute(context.Background(), "", 30)
	assert.ErrorIs(t, err, apperror.ErrRepository)
}

func TestRefreshDaily(t *testing.T) {
	store := &fakeStore{}
	agg := NewAggregator(&fakeSource{activity: sampleActivity()}, store).WithClock(func() time.Time { return now })

	rows, err := agg.RefreshDaily(context.Background(), "acme", 7)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	first := rows[0]
	assert.Equal(t, "acme", first.TenantID)
	assert.Equal(t, "upwork", first.Platform)
	assert.Equal(t, "2026-10-16", first.Date)
	assert.Equal(t, 2, first.BidsSubmitted)
	assert.Equal(t, 1, first.Wins)
	assert.True(t, first.TotalRevenue.Equal(decimal.NewFromInt(100)))
	assert.InDelta(t, 2*3600.0, first.AvgResponseSecs, 0.001)
	assert.Equal(t, "bark", rows[1].Platform)
	assert.Equal(t, "2026-10-17", rows[1].Date)
	assert.Equal(t, "upwork", rows[2].Platform)
	assert.Equal(t, 1, rows[2].BidsSubmitted)

	stored, err := agg.Daily(context.Background(), "acme", 1)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRefreshDaily_RequiresTenant(t *testing.T) {
	_, err := NewAggregator(&fakeSource{}, &fakeStore{}).RefreshDaily(context.Background(), "", 7)
	assert.Error(t, err)
}

func TestPlatformHistory(t *testing.T) {
	src := &fakeSource{activity: sampleActivity()}
	agg := NewAggregator(src, nil).WithClock(func() time.Time { return now })

	h, err := agg.PlatformHistory(context.Background(), "acme", "upwork")
	require.NoError(t, err)

	assert.Equal(t, now.AddDate(0, 0, -HistoryWindowDays), src.gotSince)
	assert.Equal(t, "upwork", h.Platform)
	assert.Equal(t, 3, h.TotalBids)
	assert.Equal(t, 1, h.Wins)
	assert.InDelta(t, 33.33, h.WinRate, 0.001)
	assert.True(t, h.AvgWinningBid.Equal(decimal.NewFromInt(100)), "avg winning bid %s", h.AvgWinningBid)
}

func TestPlatformHistory_NoBids(t *testing.T) {
	agg := NewAggregator(&fakeSource{activity: sampleActivity()}, nil).WithClock(func() time.Time { return now })

	h, err := agg.PlatformHistory(context.Background(), "acme", "thumbtack")
	require.NoError(t, err)
	assert.Equal(t, "thumbtack", h.Platform)
	assert.Zero(t, h.TotalBids)
	assert.True(t, h.AvgWinningBid.IsZero())
}

func TestPlatformHistory_SourceError(t *testing.T) {
	src := &fakeSource{err: apperror.Repo("bid activity", errors.New("disk I/O error"))}
	_, err := NewAggregator(src, nil).PlatformHistory(context.Background(), "acme", "upwork")
	assert.ErrorIs(t, err, apperror.ErrRepository)
}
