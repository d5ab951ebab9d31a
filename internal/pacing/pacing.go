// Package pacing produces the human-like delays the engine inserts between
// automated actions. A Controller only computes durations; callers sleep with
// Sleep so that waiting suspends only their own goroutine.
package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ahmethakanbesel/autobid/internal/strategy"
)

type Controller interface {
	// ActionDelay is the gap between page-level actions and between
	// consecutive submissions in one cycle.
	ActionDelay() time.Duration
	// KeystrokeDelay is the gap between typed characters.
	KeystrokeDelay() time.Duration
	// PauseDelay is a short hesitation while typing long text.
	PauseDelay() time.Duration
}

// Random samples uniformly from a strategy's ranges. Each platform task owns
// its own instance.
type Random struct {
	cfg strategy.Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a controller for cfg. A zero seed picks a random one.
func NewRandom(cfg strategy.Config, seed uint64) *Random {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Random{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *Random) ActionDelay() time.Duration    { return r.sample(r.cfg.ActionDelay) }
func (r *Random) KeystrokeDelay() time.Duration { return r.sample(r.cfg.KeystrokeDelay) }
func (r *Random) PauseDelay() time.Duration     { return r.sample(r.cfg.PauseDelay) }

func (r *Random) sample(rg strategy.Range) time.Duration {
	span := rg.Max - rg.Min
	if span <= 0 {
		return rg.Min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return rg.Min + time.Duration(r.rng.Int64N(int64(span)+1))
}

// None never delays. Used in tests and dry runs.
type None struct{}

func (None) ActionDelay() time.Duration    { return 0 }
func (None) KeystrokeDelay() time.Duration { return 0 }
func (None) PauseDelay() time.Duration     { return 0 }

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
