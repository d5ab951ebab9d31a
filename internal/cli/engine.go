package cli

import (
	"context"
	"fmt"

	"github.com/ahmethakanbesel/autobid/internal/actuator"
	"github.com/ahmethakanbesel/autobid/internal/actuator/browser"
	"github.com/ahmethakanbesel/autobid/internal/config"
	"github.com/ahmethakanbesel/autobid/internal/marketplace"
	"github.com/ahmethakanbesel/autobid/internal/marketplace/feedapi"
	"github.com/ahmethakanbesel/autobid/internal/marketplace/listing"
	"github.com/ahmethakanbesel/autobid/internal/orchestrator"
	"github.com/ahmethakanbesel/autobid/internal/pacing"
	"github.com/ahmethakanbesel/autobid/internal/pricing"
	jobrepo "github.com/ahmethakanbesel/autobid/internal/repository/job"
	"github.com/ahmethakanbesel/autobid/internal/strategy"
	"github.com/ahmethakanbesel/autobid/internal/tenant"
)

// session is one browser tab per tenant platform. Listing adapters read
// search pages through it and the actuator fills bid forms in it, so a login
// done by the operator serves both.
type session interface {
	actuator.Surface
	listing.Page
	Close()
}

// wiring supplies the per-platform resources buildEngine cannot create from
// configuration alone.
type wiring struct {
	openSession func(ctx context.Context, tenantID, platform string) (session, error)
	newPacer    func(strategy.Config) pacing.Controller
}

func browserWiring(cfg config.Config) wiring {
	return wiring{
		openSession: func(ctx context.Context, tenantID, platform string) (session, error) {
			s, err := browser.New(ctx, browser.Options{
				Headless: cfg.Headless,
				DataDir:  browser.ProfileDir(cfg.BrowserDataDir, tenantID, platform),
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		newPacer: func(c strategy.Config) pacing.Controller {
			return pacing.NewRandom(c, 0)
		},
	}
}

// engine holds the assembled monitors and the sessions they own.
type engine struct {
	supervisor *orchestrator.Supervisor
	sessions   []session
}

func (e *engine) Close() {
	for _, s := range e.sessions {
		s.Close()
	}
}

// buildEngine creates one monitor per tenant platform. Each monitor gets its
// own session, adapter, pacer and actuator; the repository and pricing engine
// are shared.
func buildEngine(ctx context.Context, cfg config.Config, tenants *tenant.File, repo *jobrepo.Repository,
	pricer *pricing.Engine, w wiring,
) (*engine, error) {
	e := &engine{supervisor: orchestrator.NewSupervisor()}
	settings := orchestrator.SettingsFromConfig(cfg)

	for _, t := range tenants.Tenants {
		registry := marketplace.NewRegistry()
		sessions := make(map[string]session, len(t.Platforms))
		platforms := make(map[string]tenant.Platform, len(t.Platforms))

		for _, p := range t.Platforms {
			s, err := w.openSession(ctx, t.ID, p.Name)
			if err != nil {
				e.Close()
				return nil, fmt.Errorf("tenant %s: platform %s: open browser: %w", t.ID, p.Name, err)
			}
			e.sessions = append(e.sessions, s)
			sessions[p.Name] = s
			platforms[p.Name] = p
			registry.Register(newAdapter(p, s))
		}

		for _, name := range registry.Platforms() {
			adapter, err := registry.Get(name)
			if err != nil {
				e.Close()
				return nil, err
			}
			p := platforms[name]
			pacer := w.newPacer(t.StrategyConfig())
			act := actuator.New(sessions[name], pacer, repo,
				actuator.WithForm(actuator.FormFromTenant(p.Form)),
				actuator.WithScreener(pricer, t.Profile),
				actuator.WithStepTimeout(cfg.StepTimeout),
			)
			e.supervisor.Add(orchestrator.NewMonitor(t, orchestrator.Deps{
				Adapter:   adapter,
				Repo:      repo,
				Pricer:    pricer,
				Submitter: act,
				Pacer:     pacer,
			}, settings))
		}
	}
	return e, nil
}

func newAdapter(p tenant.Platform, s session) marketplace.Adapter {
	if p.Kind == tenant.KindFeedAPI {
		return feedapi.New(p.Name, p.Endpoint,
			feedapi.WithToken(p.Token()),
			feedapi.WithPageSize(p.PageSize),
		)
	}
	return listing.New(p.Name, s, p.SearchURL,
		listing.WithBaseURL(p.BaseURL),
		listing.WithLoginMarker(p.LoginMarker),
		listing.WithLoginSelector(p.LoginSelector),
		listing.WithSelectors(listing.Selectors{
			Item:        p.Listing.Item,
			IDAttr:      p.Listing.IDAttr,
			Title:       p.Listing.Title,
			Link:        p.Listing.Link,
			Description: p.Listing.Description,
			Budget:      p.Listing.Budget,
			Posted:      p.Listing.Posted,
		}),
	)
}
