package job

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDiscovered           Status = "discovered"
	StatusPriced               Status = "priced"
	StatusSkippedLowConfidence Status = "skipped_low_confidence"
	StatusBidSubmitted         Status = "bid_submitted"
	StatusBidFailed            Status = "bid_failed"
	StatusWon                  Status = "won"
	StatusLost                 Status = "lost"
)

var jobTransitions = map[Status][]Status{
	StatusDiscovered:   {StatusPriced, StatusSkippedLowConfidence},
	StatusPriced:       {StatusBidSubmitted, StatusBidFailed},
	StatusBidFailed:    {StatusPriced, StatusSkippedLowConfidence},
	StatusBidSubmitted: {StatusWon, StatusLost},
}

func (s Status) Valid() bool {
	switch s {
	case StatusDiscovered, StatusPriced, StatusSkippedLowConfidence,
		StatusBidSubmitted, StatusBidFailed, StatusWon, StatusLost:
		return true
	}
	return false
}

// CanTransitionTo reports whether a job may move from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(jobTransitions[s], next)
}

// Eligible reports whether a job in this status may be priced and bid on.
// bid_failed is the retry state left behind by a failed submission.
func (s Status) Eligible() bool {
	return s == StatusDiscovered || s == StatusBidFailed
}

// Job is one marketplace posting, partitioned by tenant. Jobs are never deleted.
type Job struct {
	ID           int64           `json:"id"`
	TenantID     string          `json:"tenantId"`
	Platform     string          `json:"platform"`
	ExternalID   string          `json:"externalId"`
	URL          string          `json:"url"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	BudgetMin    decimal.Decimal `json:"budgetMin"`
	BudgetMax    decimal.Decimal `json:"budgetMax"`
	PostedAt     time.Time       `json:"postedAt"`
	Status       Status          `json:"status"`
	DiscoveredAt time.Time       `json:"discoveredAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Budget renders the budget range the way proposals and prompts quote it.
func (j *Job) Budget() string {
	switch {
	case j.BudgetMin.IsZero() && j.BudgetMax.IsZero():
		return "not stated"
	case j.BudgetMax.IsZero() || j.BudgetMin.Equal(j.BudgetMax):
		return j.BudgetMin.StringFixed(2)
	case j.BudgetMin.IsZero():
		return "up to " + j.BudgetMax.StringFixed(2)
	default:
		return j.BudgetMin.StringFixed(2) + " - " + j.BudgetMax.StringFixed(2)
	}
}

type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidSubmitted BidStatus = "submitted"
	BidViewed    BidStatus = "viewed"
	BidResponded BidStatus = "responded"
	BidWon       BidStatus = "won"
	BidLost      BidStatus = "lost"
	BidFailed    BidStatus = "failed"
)

var bidTransitions = map[BidStatus][]BidStatus{
	BidPending:   {BidSubmitted, BidFailed},
	BidSubmitted: {BidViewed, BidResponded, BidWon, BidLost},
	BidViewed:    {BidResponded, BidWon, BidLost},
	BidResponded: {BidWon, BidLost},
}

func (s BidStatus) Valid() bool {
	switch s {
	case BidPending, BidSubmitted, BidViewed, BidResponded, BidWon, BidLost, BidFailed:
		return true
	}
	return false
}

// Active reports whether the status counts against the one-active-bid-per-job rule.
func (s BidStatus) Active() bool {
	switch s {
	case BidPending, BidSubmitted, BidViewed, BidResponded:
		return true
	}
	return false
}

func (s BidStatus) CanTransitionTo(next BidStatus) bool {
	return slices.Contains(bidTransitions[s], next)
}

// Bid is a priced proposal owned by exactly one Job.
type Bid struct {
	ID            int64           `json:"id"`
	JobID         int64           `json:"jobId"`
	Amount        decimal.Decimal `json:"amount"`
	ProposalText  string          `json:"proposalText"`
	Confidence    float64         `json:"confidence"`
	Status        BidStatus       `json:"status"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ClickedAt     *time.Time      `json:"clickedAt,omitempty"`
	SubmittedAt   *time.Time      `json:"submittedAt,omitempty"`
	RespondedAt   *time.Time      `json:"respondedAt,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Validate checks the invariants a bid must satisfy before it is stored.
func (b *Bid) Validate() error {
	if !b.Status.Valid() {
		return fmt.Errorf("invalid bid status %q", b.Status)
	}
	if b.Status != BidFailed && !b.Amount.IsPositive() {
		return fmt.Errorf("bid amount must be positive, got %s", b.Amount)
	}
	if b.Confidence < 0 || b.Confidence > 100 {
		return fmt.Errorf("confidence %.1f out of range 0-100", b.Confidence)
	}
	return nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	TenantID string
	Platform string
	Status   Status
	Limit    int
}

// BidActivity is one bid row joined with its job's platform, as consumed by
// statistics.
type BidActivity struct {
	Platform    string
	Amount      decimal.Decimal
	Status      BidStatus
	SubmittedAt time.Time
	RespondedAt *time.Time
}
