// Package browser provides the chromedp-backed session a platform task uses to
// read listings and submit bids. Each session owns its own browser process
// and profile directory, so an operator can log in once per tenant and
// platform and the cookies survive restarts.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/ahmethakanbesel/autobid/internal/actuator"
)

type Options struct {
	Headless bool
	// DataDir is the Chrome profile directory. Empty uses a throwaway profile.
	DataDir string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Session is one browser tab. It satisfies actuator.Surface and
// listing.Page. Calls are not safe for concurrent use; a session belongs to a
// single platform task.
type Session struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// New starts a browser for one platform task. The browser lives until Close
// is called or parent is cancelled.
func New(parent context.Context, o Options) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.WindowSize(1366, 900),
	)
	if o.DataDir != "" {
		if err := os.MkdirAll(o.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create browser profile dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(o.DataDir))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing binary fails at startup, not mid-cycle.
	if err := chromedp.Run(tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Session{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// ProfileDir returns the profile directory for a tenant's platform session.
func ProfileDir(base, tenantID, platform string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, tenantID, platform)
}

func (s *Session) Close() {
	s.cancelTab()
	s.cancelAlloc()
}

// run executes actions on the tab, bounded by ctx. Cancelling ctx aborts the
// actions without closing the tab.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	slog.Debug("browser navigate", "url", url)
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *Session) ReadText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery))
	return text, err
}

// Find waits for selector to appear. Running out of time is reported as
// actuator.ErrNotFound.
func (s *Session) Find(ctx context.Context, selector string) (actuator.Element, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery))
	if errors.Is(err, context.DeadlineExceeded) {
		return actuator.Element{}, fmt.Errorf("%w: %s: %w", actuator.ErrNotFound, selector, err)
	}
	if err != nil {
		return actuator.Element{}, err
	}
	if len(nodes) == 0 {
		return actuator.Element{}, fmt.Errorf("%w: %s", actuator.ErrNotFound, selector)
	}
	return element(nodes[0], selector), nil
}

// FindAll returns every current match without waiting.
func (s *Session) FindAll(ctx context.Context, selector string) ([]actuator.Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	els := make([]actuator.Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, element(n, selector))
	}
	return els, nil
}

func (s *Session) Type(ctx context.Context, el actuator.Element, text string) error {
	return s.run(ctx, chromedp.SendKeys(nodeIDs(el), text, chromedp.ByNodeID))
}

func (s *Session) Click(ctx context.Context, el actuator.Element) error {
	return s.run(ctx, chromedp.Click(nodeIDs(el), chromedp.ByNodeID))
}

func (s *Session) Text(ctx context.Context, el actuator.Element) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Text(nodeIDs(el), &text, chromedp.ByNodeID))
	return text, err
}

func element(n *cdp.Node, selector string) actuator.Element {
	return actuator.Element{ID: int64(n.NodeID), Selector: selector}
}

func nodeIDs(el actuator.Element) []cdp.NodeID {
	return []cdp.NodeID{cdp.NodeID(el.ID)}
}
