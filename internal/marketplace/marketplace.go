// Package marketplace defines the adapter contract every job marketplace
// implements and a registry of the adapters a tenant has configured.
package marketplace

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Listing is a job posting normalised from marketplace-specific markup.
type Listing struct {
	ExternalID  string
	URL         string
	Title       string
	Description string
	BudgetMin   decimal.Decimal
	BudgetMax   decimal.Decimal
	PostedAt    time.Time
}

// Adapter fetches current listings from one marketplace.
//
// FetchRecentJobs returns at most limit listings in the order the marketplace
// presents them. Each call is a fresh fetch. Transient failures are logged and
// reported as an empty result with a nil error; an unauthenticated session is
// reported as apperror.ErrAuthenticationRequired.
type Adapter interface {
	Platform() string
	FetchRecentJobs(ctx context.Context, limit int) ([]Listing, error)
}

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("adapter not found for platform: %s", platform)
	}
	return a, nil
}

// Platforms returns registered platform names in sorted order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
