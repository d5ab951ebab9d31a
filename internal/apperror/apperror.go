package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	BadRequest Code = "BAD_REQUEST"
	NotFound   Code = "NOT_FOUND"
	Internal   Code = "INTERNAL"
	Conflict   Code = "CONFLICT"
)

type AppError struct {
	code    Code
	message string
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

func (e *AppError) Error() string   { return e.message }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

func (e *AppError) HTTPStatus() int {
	switch e.code {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Engine failure taxonomy. Only ErrAuthenticationRequired needs a human; the
// rest degrade to "no bid this cycle".
var (
	ErrTransientFetch         = errors.New("transient fetch failure")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrPricingService         = errors.New("pricing service failure")
	ErrSubmission             = errors.New("bid submission failed")
	ErrRepository             = errors.New("repository failure")
	ErrActiveBidExists        = errors.New("job already has an active bid")
	ErrNotEligible            = errors.New("job is not eligible for bidding")
	// ErrBidUnrecorded means the bid reached the marketplace but its
	// submitted status could not be stored; startup recovery settles it.
	ErrBidUnrecorded = errors.New("bid sent but not recorded")
)

// SubmissionError records which step of the interactive flow failed.
type SubmissionError struct {
	Step string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit bid: %s: %v", e.Step, e.Err)
}

func (e *SubmissionError) Unwrap() []error { return []error{ErrSubmission, e.Err} }

// Repo wraps a storage error so callers can match ErrRepository while keeping
// the driver error in the chain.
func Repo(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrRepository, err))
}
