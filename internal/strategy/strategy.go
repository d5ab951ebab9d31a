// Package strategy maps a named bidding policy to its confidence threshold and
// pacing ranges.
package strategy

import (
	"fmt"
	"strings"
	"time"
)

type Name string

const (
	Aggressive   Name = "aggressive"
	Balanced     Name = "balanced"
	Conservative Name = "conservative"
)

// Range is a closed duration interval [Min, Max].
type Range struct {
	Min time.Duration
	Max time.Duration
}

type Config struct {
	Name           Name
	MinConfidence  float64
	ActionDelay    Range
	KeystrokeDelay Range
	PauseDelay     Range
}

var configs = map[Name]Config{
	Aggressive: {
		Name:           Aggressive,
		MinConfidence:  30,
		ActionDelay:    Range{2 * time.Second, 4 * time.Second},
		KeystrokeDelay: Range{50 * time.Millisecond, 120 * time.Millisecond},
		PauseDelay:     Range{300 * time.Millisecond, 800 * time.Millisecond},
	},
	Balanced: {
		Name:           Balanced,
		MinConfidence:  50,
		ActionDelay:    Range{3 * time.Second, 6 * time.Second},
		KeystrokeDelay: Range{80 * time.Millisecond, 180 * time.Millisecond},
		PauseDelay:     Range{500 * time.Millisecond, 1500 * time.Millisecond},
	},
	Conservative: {
		Name:           Conservative,
		MinConfidence:  70,
		ActionDelay:    Range{5 * time.Second, 8 * time.Second},
		KeystrokeDelay: Range{120 * time.Millisecond, 250 * time.Millisecond},
		PauseDelay:     Range{1 * time.Second, 2500 * time.Millisecond},
	},
}

// Parse resolves a strategy name case-insensitively. An empty name means balanced.
func Parse(name string) (Config, error) {
	n := Name(strings.ToLower(strings.TrimSpace(name)))
	if n == "" {
		n = Balanced
	}
	c, ok := configs[n]
	if !ok {
		return Config{}, fmt.Errorf("unknown strategy %q (want aggressive, balanced or conservative)", name)
	}
	return c, nil
}

// MustParse is Parse for compile-time constants.
func MustParse(name Name) Config {
	c, err := Parse(string(name))
	if err != nil {
		panic(err)
	}
	return c
}

// Accepts reports whether confidence clears the strategy threshold.
func (c Config) Accepts(confidence float64) bool {
	return confidence >= c.MinConfidence
}
