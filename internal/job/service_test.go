package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mu         sync.Mutex
	jobs       map[int64]*Job
	bids       map[int64]*Bid
	nextID     int64
	recovered  Recovery
	recoverErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{jobs: make(map[int64]*Job), bids: make(map[int64]*Bid), nextID: 1}
}

func (m *mockRepo) IsKnown(_ context.Context, tenantID, platform, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.Platform == platform && j.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) UpsertJob(_ context.Context, j *Job) (*Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	cp.ID = m.nextID
	cp.Status = StatusDiscovered
	m.nextID++
	m.jobs[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *mockRepo) Get(_ context.Context, id int64) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, &notFoundErr{}
	}
	cp := *j
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.TenantID != "" && j.TenantID != f.TenantID {
			continue
		}
		if f.Platform != "" && j.Platform != f.Platform {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		result = append(result, *j)
	}
	return result, nil
}

func (m *mockRepo) HasActiveBid(_ context.Context, _ int64) (bool, error) { return false, nil }

func (m *mockRepo) RecordBid(_ context.Context, jobID int64, b *Bid) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.nextID
	b.JobID = jobID
	b.Status = BidPending
	m.nextID++
	cp := *b
	m.bids[b.ID] = &cp
	return b.ID, nil
}

func (m *mockRepo) MarkClicked(_ context.Context, _ int64) error                    { return nil }
func (m *mockRepo) MarkSubmitted(_ context.Context, _ int64) error                  { return nil }
func (m *mockRepo) MarkSubmissionFailed(_ context.Context, _ int64, _ string) error { return nil }
func (m *mockRepo) MarkSkipped(_ context.Context, _ int64) error                    { return nil }

func (m *mockRepo) UpdateBidStatus(_ context.Context, bidID int64, status BidStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[bidID]
	if !ok {
		return &notFoundErr{}
	}
	b.Status = status
	return nil
}

func (m *mockRepo) GetBid(_ context.Context, id int64) (*Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return nil, &notFoundErr{}
	}
	cp := *b
	return &cp, nil
}

func (m *mockRepo) ListBids(_ context.Context, jobID int64) ([]Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bid
	for _, b := range m.bids {
		if b.JobID == jobID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockRepo) CountSubmittedSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

func (m *mockRepo) BidActivity(_ context.Context, _ string, _ time.Time) ([]BidActivity, error) {
	return nil, nil
}

func (m *mockRepo) RecoverInterrupted(_ context.Context) (Recovery, error) {
	return m.recovered, m.recoverErr
}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

func TestService_RecoverInterruptedBids(t *testing.T) {
	repo := newMockRepo()
	repo.recovered = Recovery{Submitted: 1, Failed: 2}
	svc := NewService(repo)

	require.NoError(t, svc.RecoverInterruptedBids(context.Background()))
}

func TestService_RecoverInterruptedBids_Error(t *testing.T) {
	repo := newMockRepo()
	repo.recoverErr = errors.New("database is locked")
	svc := NewService(repo)

	assert.ErrorIs(t, svc.RecoverInterruptedBids(context.Background()), repo.recoverErr)
}

func TestService_Get(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	j, _, _ := repo.UpsertJob(ctx, &Job{TenantID: "acme", Platform: "upwork", ExternalID: "J1"})
	_, _ = repo.RecordBid(ctx, j.ID, &Bid{Amount: decimal.NewFromInt(100)})

	got, err := svc.Get(ctx, GetJobRequest{ID: j.ID})
	require.NoError(t, err)
	assert.Equal(t, "J1", got.Job.ExternalID)
	assert.Len(t, got.Bids, 1)
}

func TestService_Get_InvalidID(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.Get(context.Background(), GetJobRequest{ID: 0})
	assert.Error(t, err, "validation error")
}

func TestService_List(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, _, _ = repo.UpsertJob(ctx, &Job{TenantID: "acme", Platform: "upwork", ExternalID: "J1"})
	_, _, _ = repo.UpsertJob(ctx, &Job{TenantID: "acme", Platform: "bark", ExternalID: "B1"})

	jobs, err := svc.List(ctx, ListJobsRequest{Platform: "upwork"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = svc.List(ctx, ListJobsRequest{Status: "bogus"})
	assert.Error(t, err, "unknown status")
}

func TestService_RecordOutcome(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	j, _, _ := repo.UpsertJob(ctx, &Job{TenantID: "acme", Platform: "upwork", ExternalID: "J1"})
	id, _ := repo.RecordBid(ctx, j.ID, &Bid{Amount: decimal.NewFromInt(100)})

	b, err := svc.RecordOutcome(ctx, RecordOutcomeRequest{BidID: id, Status: BidWon})
	require.NoError(t, err)
	assert.Equal(t, BidWon, b.Status)

	_, err = svc.RecordOutcome(ctx, RecordOutcomeRequest{BidID: id, Status: BidPending})
	assert.Error(t, err, "pending is not an outcome")
}
