package job

import (
	"context"
	"log/slog"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RecoverInterruptedBids settles bids left pending by a crash. Bids that were
// already sent count as submitted; the rest fail so their jobs become eligible
// again on the next cycle.
func (s *Service) RecoverInterruptedBids(ctx context.Context) error {
	rec, err := s.repo.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if rec.Submitted > 0 {
		slog.Warn("recovered bids that were sent but not recorded", "count", rec.Submitted)
	}
	if rec.Failed > 0 {
		slog.Info("failed interrupted bids", "count", rec.Failed)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, req GetJobRequest) (*Detail, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	j, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	bids, err := s.repo.ListBids(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Job: j, Bids: bids}, nil
}

func (s *Service) List(ctx context.Context, req ListJobsRequest) ([]Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, ListFilter{
		TenantID: req.TenantID,
		Platform: req.Platform,
		Status:   req.Status,
		Limit:    req.Limit,
	})
}

// RecordOutcome applies a marketplace outcome (viewed, responded, won, lost)
// reported by the operator to a submitted bid.
func (s *Service) RecordOutcome(ctx context.Context, req RecordOutcomeRequest) (*Bid, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBidStatus(ctx, req.BidID, req.Status); err != nil {
		return nil, err
	}
	slog.Info("bid outcome recorded", "bid", req.BidID, "status", req.Status)
	return s.repo.GetBid(ctx, req.BidID)
}
