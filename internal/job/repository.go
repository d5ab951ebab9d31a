package job

import (
	"context"
	"time"
)

// Repository is the durable, idempotent store of jobs and bids. It is the only
// mutable state shared between platform tasks.
type Repository interface {
	IsKnown(ctx context.Context, tenantID, platform, externalID string) (bool, error)
	// UpsertJob stores j on first discovery and returns the stored row. The
	// bool reports whether this call created it.
	UpsertJob(ctx context.Context, j *Job) (*Job, bool, error)
	Get(ctx context.Context, id int64) (*Job, error)
	List(ctx context.Context, f ListFilter) ([]Job, error)

	HasActiveBid(ctx context.Context, jobID int64) (bool, error)
	// RecordBid inserts b and moves the job to priced in one transaction.
	RecordBid(ctx context.Context, jobID int64, b *Bid) (int64, error)
	MarkClicked(ctx context.Context, bidID int64) error
	MarkSubmitted(ctx context.Context, bidID int64) error
	MarkSubmissionFailed(ctx context.Context, bidID int64, reason string) error
	MarkSkipped(ctx context.Context, jobID int64) error
	UpdateBidStatus(ctx context.Context, bidID int64, status BidStatus) error
	GetBid(ctx context.Context, id int64) (*Bid, error)
	ListBids(ctx context.Context, jobID int64) ([]Bid, error)

	CountSubmittedSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	BidActivity(ctx context.Context, tenantID string, since time.Time) ([]BidActivity, error)
	RecoverInterrupted(ctx context.Context) (Recovery, error)
}

// Recovery counts the pending bids settled at startup.
type Recovery struct {
	Submitted int64
	Failed    int64
}
