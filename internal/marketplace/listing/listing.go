// Package listing implements a marketplace adapter for sites that only expose
// job listings as HTML behind a logged-in browser session (Upwork, Thumbtack,
// Bark, TaskRabbit, HomeAdvisor, Angi). It reads the page through the platform
// task's own browser session and extracts listings with configurable CSS
// selectors.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/marketplace"
)

const defaultTimeout = 45 * time.Second

// Page is the part of a browser session the adapter needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
}

// Selectors locate listing fields inside the search results page. Item is
// evaluated against the document; the rest are evaluated inside each item.
type Selectors struct {
	Item        string
	IDAttr      string
	Title       string
	Link        string
	Description string
	Budget      string
	Posted      string
}

// DefaultSelectors match the data attributes most marketplace job cards carry.
var DefaultSelectors = Selectors{
	Item:        "[data-job-id]",
	IDAttr:      "data-job-id",
	Title:       ".job-title",
	Link:        "a[href]",
	Description: ".job-description",
	Budget:      ".job-budget",
	Posted:      "time",
}

type Adapter struct {
	platform      string
	page          Page
	searchURL     string
	baseURL       string
	loginMarker   string
	loginSelector string
	sel           Selectors
	timeout       time.Duration
}

// New creates an adapter reading searchURL through page.
func New(platform string, page Page, searchURL string, opts ...Option) *Adapter {
	a := &Adapter{
		platform:  platform,
		page:      page,
		searchURL: searchURL,
		baseURL:   searchURL,
		sel:       DefaultSelectors,
		timeout:   defaultTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

type Option func(*Adapter)

// WithBaseURL sets the URL relative job links are resolved against.
func WithBaseURL(u string) Option {
	return func(a *Adapter) {
		if u != "" {
			a.baseURL = u
		}
	}
}

// WithLoginMarker treats a redirect to a URL containing marker as a login wall.
func WithLoginMarker(marker string) Option {
	return func(a *Adapter) { a.loginMarker = marker }
}

// WithLoginSelector treats a page containing selector as a login wall.
func WithLoginSelector(selector string) Option {
	return func(a *Adapter) { a.loginSelector = selector }
}

// WithSelectors overrides individual selectors; empty fields keep the default.
func WithSelectors(s Selectors) Option {
	return func(a *Adapter) {
		a.sel = merge(a.sel, s)
	}
}

// WithTimeout bounds one fetch (navigation plus page read).
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

func (a *Adapter) Platform() string { return a.platform }

func (a *Adapter) FetchRecentJobs(ctx context.Context, limit int) ([]marketplace.Listing, error) {
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.page.Navigate(ctx, a.searchURL); err != nil {
		a.transient("navigate", err)
		return nil, nil
	}

	if a.loginMarker != "" {
		cur, err := a.page.URL(ctx)
		if err != nil {
			a.transient("read url", err)
			return nil, nil
		}
		if strings.Contains(cur, a.loginMarker) {
			return nil, fmt.Errorf("%s: redirected to %s: %w", a.platform, cur, apperror.ErrAuthenticationRequired)
		}
	}

	html, err := a.page.HTML(ctx)
	if err != nil {
		a.transient("read page", err)
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		a.transient("parse page", err)
		return nil, nil
	}

	if a.loginSelector != "" && doc.Find(a.loginSelector).Length() > 0 {
		return nil, fmt.Errorf("%s: login form present: %w", a.platform, apperror.ErrAuthenticationRequired)
	}

	listings := a.extract(doc, limit)
	slog.Info("fetched listings", "platform", a.platform, "count", len(listings))
	return listings, nil
}

func (a *Adapter) transient(step string, err error) {
	slog.Warn("listing fetch failed", "platform", a.platform, "step", step,
		"error", fmt.Errorf("%w: %w", apperror.ErrTransientFetch, err))
}

func (a *Adapter) extract(doc *goquery.Document, limit int) []marketplace.Listing {
	var out []marketplace.Listing
	doc.Find(a.sel.Item).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Find(a.sel.Link).First().Attr("href")
		link := a.resolve(href)

		id, _ := s.Attr(a.sel.IDAttr)
		id = strings.TrimSpace(id)
		if id == "" {
			id = idFromLink(link)
		}
		if id == "" {
			slog.Debug("listing without id skipped", "platform", a.platform)
			return true
		}

		l := marketplace.Listing{
			ExternalID:  id,
			URL:         link,
			Title:       squash(s.Find(a.sel.Title).First().Text()),
			Description: squash(s.Find(a.sel.Description).First().Text()),
		}
		l.BudgetMin, l.BudgetMax = marketplace.ParseBudget(s.Find(a.sel.Budget).First().Text())

		posted := s.Find(a.sel.Posted).First()
		if ts, ok := posted.Attr("datetime"); ok {
			l.PostedAt, _ = time.Parse(time.RFC3339, ts)
		}

		out = append(out, l)
		return len(out) < limit
	})
	return out
}

func (a *Adapter) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func idFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return path.Base(strings.TrimSuffix(u.Path, "/"))
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func merge(base, over Selectors) Selectors {
	pick := func(b, o string) string {
		if o != "" {
			return o
		}
		return b
	}
	return Selectors{
		Item:        pick(base.Item, over.Item),
		IDAttr:      pick(base.IDAttr, over.IDAttr),
		Title:       pick(base.Title, over.Title),
		Link:        pick(base.Link, over.Link),
		Description: pick(base.Description, over.Description),
		Budget:      pick(base.Budget, over.Budget),
		Posted:      pick(base.Posted, over.Posted),
	}
}
