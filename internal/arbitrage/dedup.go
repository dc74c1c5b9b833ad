package arbitrage

import (
	"sync"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
)

// Dedup suppresses repeat opportunities on the same route (pair plus buy and
// sell venues) within a time-to-live window, so a spread that persists across
// cycles is acted on once rather than every ten seconds. It is safe for
// concurrent use.
type Dedup struct {
	seen map[string]time.Time // route key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers a route a duplicate if it
// has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if the opportunity's route has been seen within
// the TTL window. If the route has not been seen (or has expired), it is
// recorded and false is returned.
func (d *Dedup) IsDuplicate(opp domain.Opportunity) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := routeKey(opp)
	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// routeKey identifies an opportunity by where it buys and sells, not by its
// unique ID, so the same persisting spread maps to the same key.
func routeKey(opp domain.Opportunity) string {
	return opp.Pair.String() + "|" + opp.BuyVenue + "|" + opp.SellVenue
}
