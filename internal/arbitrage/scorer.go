// Package arbitrage detects cross-venue price spreads and drives the
// fixed-interval detection/execution loop.
package arbitrage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Features summarises one pair's PriceSet for a scorer.
type Features struct {
	MinPrice   float64
	MaxPrice   float64
	MeanPrice  float64
	Spread     float64 // MaxPrice - MinPrice
	SpreadPct  float64 // Spread / MinPrice * 100
	NetMargin  float64 // fee-adjusted margin between the extremes
	MinProfit  float64 // threshold the margin rule would apply
	VenueCount int
}

// Prediction is a scorer's verdict on an opportunity candidate. Confidence is
// a probability in (0,1] for model-backed scorers and 0 for deterministic
// rules; callers attach it to the opportunity only when it is non-zero.
type Prediction struct {
	Profitable bool
	Confidence float64
}

// Scorer decides whether a candidate spread is worth acting on. A scorer may
// replace the raw margin test entirely; when it errors the detector falls
// back to the margin rule for that cycle.
type Scorer interface {
	Name() string
	Score(ctx context.Context, f Features) (Prediction, error)
}

// Registry holds named scorers for selection by config.
type Registry struct {
	scorers map[string]Scorer
	mu      sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add scorers.
func NewRegistry() *Registry {
	return &Registry{scorers: make(map[string]Scorer)}
}

// Register adds a scorer under the given name.
func (r *Registry) Register(name string, s Scorer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[name] = s
}

// Get returns the scorer by name, or an error if not found.
func (r *Registry) Get(name string) (Scorer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[name]
	if !ok {
		return nil, fmt.Errorf("arbitrage scorer %q not found", name)
	}
	return s, nil
}

// List returns all registered scorer names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scorers))
	for n := range r.scorers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
