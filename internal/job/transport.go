package job

import "github.com/ahmethakanbesel/autobid/internal/apperror"

type GetJobRequest struct {
	ID int64
}

func (r GetJobRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid job id")
	}
	return nil
}

type ListJobsRequest struct {
	TenantID string
	Platform string
	Status   Status
	Limit    int
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	if r.Status != "" && !r.Status.Valid() {
		return apperror.New(apperror.BadRequest, "invalid job status")
	}
	if r.Limit < 0 || r.Limit > 500 {
		return apperror.New(apperror.BadRequest, "limit must be between 0 and 500")
	}
	return nil
}

type RecordOutcomeRequest struct {
	BidID  int64
	Status BidStatus
}

func (r RecordOutcomeRequest) Validate() *apperror.AppError {
	if r.BidID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid bid id")
	}
	switch r.Status {
	case BidViewed, BidResponded, BidWon, BidLost:
		return nil
	}
	return apperror.New(apperror.BadRequest, "outcome must be one of viewed, responded, won, lost")
}

// Detail is a job together with every bid ever placed on it.
type Detail struct {
	Job  *Job  `json:"job"`
	Bids []Bid `json:"bids"`
}
