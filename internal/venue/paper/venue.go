// Package paper implements a simulated in-memory venue. Each instance runs
// an independent random walk per pair, so two paper venues drift apart and
// periodically open arbitrage windows for dry runs.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/kjanssen/arbot/internal/domain"
)

// Venue is a simulated exchange. It implements domain.Venue; every order is
// accepted and assumed fully filled.
type Venue struct {
	name   string
	jitter float64
	logger *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[domain.Pair]float64
}

// New creates a paper venue. seed is mixed with the venue name so venues
// sharing a config seed still walk independently. prices sets the starting
// mid price per pair; pairs without an entry default to 100.
func New(name string, seed int64, jitter float64, prices map[string]float64, logger *slog.Logger) *Venue {
	start := make(map[domain.Pair]float64, len(prices))
	for p, v := range prices {
		start[domain.Pair(p)] = v
	}

	h := fnv.New64a()
	h.Write([]byte(name))

	return &Venue{
		name:   name,
		jitter: jitter,
		logger: logger.With(slog.String("venue", name)),
		rng:    rand.New(rand.NewSource(seed ^ int64(h.Sum64()))),
		prices: start,
	}
}

// Name returns the venue identifier.
func (v *Venue) Name() string {
	return v.name
}

// GetPrice advances the random walk for pair one step and returns the new
// price. The walk never goes non-positive.
func (v *Venue) GetPrice(_ context.Context, pair domain.Pair) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.prices[pair]
	if !ok {
		p = 100
	}

	step := 1 + v.jitter*(2*v.rng.Float64()-1)
	p *= step
	if p <= 0 {
		p = v.jitter
	}
	v.prices[pair] = p

	return p, nil
}

// SubmitOrder accepts every well-formed order immediately.
func (v *Venue) SubmitOrder(_ context.Context, pair domain.Pair, side domain.Side, price, amount float64) error {
	if price <= 0 || amount <= 0 {
		return fmt.Errorf("paper: non-positive order %s %s: %w", side, pair, domain.ErrOrderRejected)
	}

	v.logger.Info("simulated fill",
		slog.String("pair", pair.String()),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("amount", amount),
	)
	return nil
}

// SetPrice sets the current price for pair; the walk continues from it.
// Intended for tests and demos that need a known spread.
func (v *Venue) SetPrice(pair domain.Pair, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[pair] = price
}

var _ domain.Venue = (*Venue)(nil)
