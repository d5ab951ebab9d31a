// Package tenant holds per-tenant bidding settings as supplied by the account
// layer, loaded from a YAML file.
package tenant

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ahmethakanbesel/autobid/internal/strategy"
)

// Adapter kinds.
const (
	KindListing = "listing"
	KindFeedAPI = "feedapi"
)

type File struct {
	Tenants []Tenant `yaml:"tenants"`
}

type Tenant struct {
	ID             string          `yaml:"id"`
	Strategy       string          `yaml:"strategy"`
	MaxBidsPerHour int             `yaml:"max_bids_per_hour"`
	Profile        BusinessProfile `yaml:"business_profile"`
	Platforms      []Platform      `yaml:"platforms"`
}

// BusinessProfile describes what the tenant sells; it is sent to the
// generative text service with every pricing request.
type BusinessProfile struct {
	Name        string   `yaml:"name" json:"name"`
	Services    []string `yaml:"services" json:"services"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Website     string   `yaml:"website" json:"website,omitempty"`
	HourlyRate  float64  `yaml:"hourly_rate" json:"hourly_rate,omitempty"`
	MinBid      float64  `yaml:"min_bid" json:"min_bid,omitempty"`
	Currency    string   `yaml:"currency" json:"currency,omitempty"`
}

type Platform struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// listing adapters
	SearchURL     string           `yaml:"search_url"`
	BaseURL       string           `yaml:"base_url"`
	LoginMarker   string           `yaml:"login_marker"`
	LoginSelector string           `yaml:"login_selector"`
	Listing       ListingSelectors `yaml:"listing"`

	// feedapi adapters
	Endpoint string `yaml:"endpoint"`
	TokenEnv string `yaml:"token_env"`
	PageSize int    `yaml:"page_size"`

	// bid form, used by the actuator for every kind
	Form FormSelectors `yaml:"form"`
}

// Token reads the feed API bearer token from the configured variable.
func (p Platform) Token() string {
	if p.TokenEnv == "" {
		return ""
	}
	return os.Getenv(p.TokenEnv)
}

type ListingSelectors struct {
	Item        string `yaml:"item"`
	IDAttr      string `yaml:"id_attr"`
	Title       string `yaml:"title"`
	Link        string `yaml:"link"`
	Description string `yaml:"description"`
	Budget      string `yaml:"budget"`
	Posted      string `yaml:"posted"`
}

type FormSelectors struct {
	Amount        string `yaml:"amount"`
	Proposal      string `yaml:"proposal"`
	Question      string `yaml:"question"`
	QuestionLabel string `yaml:"question_label"`
	QuestionInput string `yaml:"question_input"`
	Submit        string `yaml:"submit"`
	Confirmation  string `yaml:"confirmation"`
	// ConfirmationScope limits the confirmation search to one element.
	ConfirmationScope string `yaml:"confirmation_scope"`
}

// Load reads and validates a tenant file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	if len(f.Tenants) == 0 {
		return fmt.Errorf("tenants file defines no tenants")
	}
	seen := make(map[string]bool)
	for i := range f.Tenants {
		t := &f.Tenants[i]
		if t.ID == "" {
			return fmt.Errorf("tenant %d: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tenant %s: duplicate id", t.ID)
		}
		seen[t.ID] = true

		if _, err := strategy.Parse(t.Strategy); err != nil {
			return fmt.Errorf("tenant %s: %w", t.ID, err)
		}
		if t.MaxBidsPerHour < 0 {
			return fmt.Errorf("tenant %s: max_bids_per_hour must not be negative", t.ID)
		}

		platforms := make(map[string]bool)
		for j := range t.Platforms {
			p := &t.Platforms[j]
			p.Name = strings.ToLower(strings.TrimSpace(p.Name))
			if p.Name == "" {
				return fmt.Errorf("tenant %s: platform %d: name is required", t.ID, j)
			}
			if platforms[p.Name] {
				return fmt.Errorf("tenant %s: platform %s listed twice", t.ID, p.Name)
			}
			platforms[p.Name] = true

			if p.Kind == "" {
				p.Kind = KindListing
			}
			switch p.Kind {
			case KindListing:
				if p.SearchURL == "" {
					return fmt.Errorf("tenant %s: platform %s: search_url is required", t.ID, p.Name)
				}
			case KindFeedAPI:
				if p.Endpoint == "" {
					return fmt.Errorf("tenant %s: platform %s: endpoint is required", t.ID, p.Name)
				}
			default:
				return fmt.Errorf("tenant %s: platform %s: unknown kind %q", t.ID, p.Name, p.Kind)
			}
		}
	}
	return nil
}

// StrategyConfig returns the parsed strategy. Validate has already rejected
// unknown names.
func (t Tenant) StrategyConfig() strategy.Config {
	c, _ := strategy.Parse(t.Strategy)
	return c
}
