package orchestrator

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs one goroutine per monitor. Monitors run independently; a
// cancelled context stops them all.
type Supervisor struct {
	monitors []*Monitor
}

func NewSupervisor(monitors ...*Monitor) *Supervisor {
	return &Supervisor{monitors: monitors}
}

func (s *Supervisor) Add(m *Monitor) {
	s.monitors = append(s.monitors, m)
}

func (s *Supervisor) Len() int { return len(s.monitors) }

// Run blocks until every monitor has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("starting monitors", "count", len(s.monitors))

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range s.monitors {
		g.Go(func() error {
			return m.Run(ctx)
		})
	}
	return g.Wait()
}

// RunOnce runs a single cycle on every monitor concurrently and returns the
// results in monitor order.
func (s *Supervisor) RunOnce(ctx context.Context) []CycleResult {
	results := make([]CycleResult, len(s.monitors))
	var g errgroup.Group
	for i, m := range s.monitors {
		g.Go(func() error {
			results[i] = m.RunCycle(ctx)
			m.setState(StateIdle)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// States reports the current state of every monitor keyed by tenant/platform.
func (s *Supervisor) States() map[string]string {
	out := make(map[string]string, len(s.monitors))
	for _, m := range s.monitors {
		out[m.Name()] = m.State().String()
	}
	return out
}
