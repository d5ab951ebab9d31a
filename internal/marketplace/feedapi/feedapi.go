// Package feedapi implements a marketplace adapter for platforms that publish
// open jobs through an authenticated JSON feed. Pages are fetched in parallel
// and merged back in feed order.
package feedapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/marketplace"
)

const (
	defaultPageSize = 25
	defaultTimeout  = 30 * time.Second
	userAgent       = "autobid/1.0"
)

// Adapter fetches job listings from a JSON feed endpoint.
type Adapter struct {
	platform string
	endpoint string
	token    string
	pageSize int
	workers  int
	client   *http.Client
}

// New creates an Adapter for platform with the given options applied.
func New(platform, endpoint string, opts ...Option) *Adapter {
	a := &Adapter{
		platform: platform,
		endpoint: endpoint,
		pageSize: defaultPageSize,
		workers:  3,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(a *Adapter) { a.token = token }
}

// WithPageSize sets how many jobs are requested per page.
func WithPageSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithWorkers sets the page fetch concurrency.
func WithWorkers(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.workers = n
		}
	}
}

func (a *Adapter) Platform() string { return a.platform }

type feedResponse struct {
	Jobs []feedJob `json:"jobs"`
}

type feedJob struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	BudgetMin   decimal.Decimal `json:"budget_min"`
	BudgetMax   decimal.Decimal `json:"budget_max"`
	BudgetText  string          `json:"budget"`
	PostedAt    time.Time       `json:"posted_at"`
}

// FetchRecentJobs returns up to limit of the newest jobs in feed order. An
// unauthorized response yields ErrAuthenticationRequired; any other failure
// is logged and the affected pages contribute nothing.
func (a *Adapter) FetchRecentJobs(ctx context.Context, limit int) ([]marketplace.Listing, error) {
	pages := marketplace.SplitPages(limit, a.pageSize)
	if len(pages) == 0 {
		return nil, nil
	}

	results := make([][]marketplace.Listing, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, p := range pages {
		g.Go(func() error {
			listings, err := a.fetchPage(gctx, p)
			if errors.Is(err, apperror.ErrAuthenticationRequired) {
				return err
			}
			if err != nil {
				slog.Error("error retrieving feed page", "platform", a.platform,
					"page", p.Number, "error", fmt.Errorf("%w: %w", apperror.ErrTransientFetch, err))
				return nil
			}
			results[i] = listings
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var all []marketplace.Listing
	for _, r := range results {
		for _, l := range r {
			if seen[l.ExternalID] || len(all) >= limit {
				continue
			}
			seen[l.ExternalID] = true
			all = append(all, l)
		}
	}

	slog.Info("fetched feed jobs", "platform", a.platform, "count", len(all))
	return all, nil
}

func (a *Adapter) fetchPage(ctx context.Context, p marketplace.Page) ([]marketplace.Listing, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("offset", strconv.Itoa(p.Offset))
	q.Set("limit", strconv.Itoa(p.Size))
	q.Set("sort", "newest")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	res, err := a.client.Do(req) //nolint:gosec // URL from tenant config
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s returned HTTP %d: %w", a.platform, res.StatusCode, apperror.ErrAuthenticationRequired)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s returned HTTP %d", a.platform, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse %s feed: %w", a.platform, err)
	}

	listings := make([]marketplace.Listing, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		if j.ID == "" {
			continue
		}
		l := marketplace.Listing{
			ExternalID:  j.ID,
			URL:         j.URL,
			Title:       j.Title,
			Description: j.Description,
			BudgetMin:   j.BudgetMin,
			BudgetMax:   j.BudgetMax,
			PostedAt:    j.PostedAt,
		}
		if l.BudgetMin.IsZero() && l.BudgetMax.IsZero() && j.BudgetText != "" {
			l.BudgetMin, l.BudgetMax = marketplace.ParseBudget(j.BudgetText)
		}
		listings = append(listings, l)
	}
	return listings, nil
}
