package domain

import (
	"sort"
	"time"
)

// Quote is one venue's price for a pair at one instant. Quotes are ephemeral:
// they live for a single detection cycle and are never persisted.
type Quote struct {
	Venue string
	Pair  Pair
	Price float64
	Ts    time.Time
}

// PriceSet holds the usable quotes collected for one pair in one cycle.
// Venues that errored or returned a non-positive price are simply absent.
type PriceSet struct {
	Pair   Pair
	Quotes map[string]Quote // keyed by venue name
}

// NewPriceSet returns an empty PriceSet for the given pair.
func NewPriceSet(pair Pair) PriceSet {
	return PriceSet{Pair: pair, Quotes: make(map[string]Quote)}
}

// Add records a quote, keyed by its venue.
func (s PriceSet) Add(q Quote) {
	s.Quotes[q.Venue] = q
}

// Len returns the number of venues with a usable quote.
func (s PriceSet) Len() int { return len(s.Quotes) }

// Venues returns the venue names in sorted order. Sorting makes iteration,
// and therefore min/max tie-breaking, deterministic.
func (s PriceSet) Venues() []string {
	names := make([]string, 0, len(s.Quotes))
	for v := range s.Quotes {
		names = append(names, v)
	}
	sort.Strings(names)
	return names
}
