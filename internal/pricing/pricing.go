// Package pricing asks the generative text service for a price, a proposal
// and a confidence score for a job, and gates the result on the tenant's
// strategy. Every ambiguity resolves to "don't bid".
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/job"
	"github.com/ahmethakanbesel/autobid/internal/stats"
	"github.com/ahmethakanbesel/autobid/internal/strategy"
	"github.com/ahmethakanbesel/autobid/internal/tenant"
)

const (
	defaultTimeout   = 60 * time.Second
	maxAnswerLen     = 1000
	taskPriceJob     = "price_job"
	taskAnswerScreen = "answer_screening"
)

// Generator is the generative text service. llm.Model satisfies it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Outcome int

const (
	OutcomeAccept Outcome = iota
	OutcomeSkipLowConfidence
	OutcomeSkipServiceFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccept:
		return "accept"
	case OutcomeSkipLowConfidence:
		return "skip_low_confidence"
	case OutcomeSkipServiceFailure:
		return "skip_service_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Quote is a parsed pricing reply.
type Quote struct {
	Amount     decimal.Decimal
	Proposal   string
	Confidence float64
}

// Decision is the result of Decide. Quote is set for accept and low-confidence
// outcomes; Err is set for service failures and wraps ErrPricingService.
type Decision struct {
	Outcome Outcome
	Quote   Quote
	Err     error
}

func (d Decision) Accepted() bool { return d.Outcome == OutcomeAccept }

// HistorySource reports a tenant's recent bidding results on one platform.
// stats.Aggregator satisfies it.
type HistorySource interface {
	PlatformHistory(ctx context.Context, tenantID, platform string) (stats.PlatformStats, error)
}

type Engine struct {
	gen     Generator
	history HistorySource
	timeout time.Duration
}

type Option func(*Engine)

// WithTimeout bounds each generation request.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithHistory sends the tenant's recent win rate and winning bid size on the
// job's platform along with every price request.
func WithHistory(h HistorySource) Option {
	return func(e *Engine) { e.history = h }
}

func NewEngine(gen Generator, opts ...Option) *Engine {
	e := &Engine{gen: gen, timeout: defaultTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

type request struct {
	Task            string                 `json:"task"`
	JobTitle        string                 `json:"job_title"`
	JobDescription  string                 `json:"job_description"`
	Budget          string                 `json:"budget"`
	BusinessProfile tenant.BusinessProfile `json:"business_profile"`
	History         *history               `json:"history,omitempty"`
	Question        string                 `json:"question,omitempty"`
}

type history struct {
	WindowDays    int     `json:"window_days"`
	Bids          int     `json:"recent_bids"`
	WinRate       float64 `json:"win_rate_pct"`
	AvgBid        string  `json:"avg_bid"`
	AvgWinningBid string  `json:"avg_winning_bid,omitempty"`
}

type priceReply struct {
	Amount     *decimal.Decimal `json:"amount"`
	Proposal   string           `json:"proposal_text"`
	Confidence *float64         `json:"confidence"`
}

type answerReply struct {
	Answer string `json:"answer_text"`
}

const priceSystemPrompt = `You price service jobs for a small business bidding on online marketplaces.
You receive a JSON request with the job and the business profile.
Reply with a single JSON object and nothing else:
{"amount": <number, total bid in the business currency>, "proposal_text": <string, a concise tailored proposal>, "confidence": <number 0-100, how well the business fits the job>}
Use a low confidence when the job is outside the listed services or the description is too vague to price.
When a history object is present, use it to win more often: with a low win_rate_pct, price closer to avg_winning_bid; with a high one, you may price a little higher.`

const screeningSystemPrompt = `You answer screening questions on a job marketplace bid form on behalf of a small business.
You receive a JSON request with the job, the business profile and the question.
Reply with a single JSON object and nothing else: {"answer_text": <string, two or three sentences>}`

// Decide prices j for profile and applies the confidence gate of strat.
func (e *Engine) Decide(ctx context.Context, j *job.Job, profile tenant.BusinessProfile, strat strategy.Config) Decision {
	q, err := e.quote(ctx, j, profile)
	if err != nil {
		slog.Warn("pricing failed, skipping job", "job", j.ID, "platform", j.Platform,
			"external_id", j.ExternalID, "error", err)
		return Decision{Outcome: OutcomeSkipServiceFailure, Err: err}
	}

	if !strat.Accepts(q.Confidence) {
		slog.Info("confidence below threshold", "job", j.ID, "platform", j.Platform,
			"confidence", q.Confidence, "min_confidence", strat.MinConfidence, "strategy", strat.Name)
		return Decision{Outcome: OutcomeSkipLowConfidence, Quote: q}
	}

	if profile.MinBid > 0 {
		floor := decimal.NewFromFloat(profile.MinBid)
		if q.Amount.LessThan(floor) {
			slog.Debug("raising quote to minimum bid", "job", j.ID, "quoted", q.Amount, "min_bid", floor)
			q.Amount = floor
		}
	}

	return Decision{Outcome: OutcomeAccept, Quote: q}
}

func (e *Engine) quote(ctx context.Context, j *job.Job, profile tenant.BusinessProfile) (Quote, error) {
	raw, err := e.generate(ctx, priceSystemPrompt, request{
		Task:            taskPriceJob,
		JobTitle:        j.Title,
		JobDescription:  j.Description,
		Budget:          j.Budget(),
		BusinessProfile: profile,
		History:         e.recentHistory(ctx, j),
	})
	if err != nil {
		return Quote{}, err
	}
	return parseQuote(raw)
}

// recentHistory returns nil when no source is set, the lookup fails or the
// tenant has no recent bids on the platform. A failed lookup never blocks
// pricing.
func (e *Engine) recentHistory(ctx context.Context, j *job.Job) *history {
	if e.history == nil {
		return nil
	}
	ps, err := e.history.PlatformHistory(ctx, j.TenantID, j.Platform)
	if err != nil {
		slog.Warn("bid history unavailable, pricing without it", "tenant", j.TenantID, "platform", j.Platform, "error", err)
		return nil
	}
	if ps.TotalBids == 0 {
		return nil
	}
	h := &history{
		WindowDays: stats.HistoryWindowDays,
		Bids:       ps.TotalBids,
		WinRate:    ps.WinRate,
		AvgBid:     ps.AvgBidAmount.String(),
	}
	if ps.Wins > 0 {
		h.AvgWinningBid = ps.AvgWinningBid.String()
	}
	return h
}

// AnswerScreening drafts a short answer to a screening question on the bid form.
func (e *Engine) AnswerScreening(ctx context.Context, j *job.Job, profile tenant.BusinessProfile, question string) (string, error) {
	raw, err := e.generate(ctx, screeningSystemPrompt, request{
		Task:            taskAnswerScreen,
		JobTitle:        j.Title,
		JobDescription:  j.Description,
		Budget:          j.Budget(),
		BusinessProfile: profile,
		Question:        question,
	})
	if err != nil {
		return "", err
	}

	var reply answerReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		return "", fmt.Errorf("%w: parse screening answer: %w", apperror.ErrPricingService, err)
	}
	answer := strings.TrimSpace(reply.Answer)
	if answer == "" {
		return "", fmt.Errorf("%w: empty screening answer", apperror.ErrPricingService)
	}
	if r := []rune(answer); len(r) > maxAnswerLen {
		answer = string(r[:maxAnswerLen])
	}
	return answer, nil
}

func (e *Engine) generate(ctx context.Context, system string, req request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", apperror.ErrPricingService, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.GenerateWithSystem(ctx, system, string(body))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s timed out after %s", apperror.ErrPricingService, req.Task, e.timeout)
		}
		return "", fmt.Errorf("%w: %s: %w", apperror.ErrPricingService, req.Task, err)
	}
	return raw, nil
}

func parseQuote(raw string) (Quote, error) {
	var reply priceReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		return Quote{}, fmt.Errorf("%w: parse quote: %w", apperror.ErrPricingService, err)
	}

	switch {
	case reply.Amount == nil:
		return Quote{}, fmt.Errorf("%w: quote has no amount", apperror.ErrPricingService)
	case !reply.Amount.IsPositive():
		return Quote{}, fmt.Errorf("%w: quote amount %s is not positive", apperror.ErrPricingService, reply.Amount)
	case reply.Confidence == nil:
		return Quote{}, fmt.Errorf("%w: quote has no confidence", apperror.ErrPricingService)
	case *reply.Confidence < 0 || *reply.Confidence > 100:
		return Quote{}, fmt.Errorf("%w: confidence %v out of range", apperror.ErrPricingService, *reply.Confidence)
	case strings.TrimSpace(reply.Proposal) == "":
		return Quote{}, fmt.Errorf("%w: quote has no proposal", apperror.ErrPricingService)
	}

	return Quote{
		Amount:     reply.Amount.Round(2),
		Proposal:   strings.TrimSpace(reply.Proposal),
		Confidence: *reply.Confidence,
	}, nil
}

// extractJSON returns the outermost {...} in s, dropping markdown fences or
// chatter some models add around the object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
