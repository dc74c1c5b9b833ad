package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kjanssen/arbot/internal/domain"
)

func opp(pair, buy, sell string) domain.Opportunity {
	return domain.Opportunity{
		ID:        "ignored",
		Pair:      domain.Pair(pair),
		BuyVenue:  buy,
		SellVenue: sell,
	}
}

func TestDedupSuppressesRepeatRoute(t *testing.T) {
	d := NewDedup(time.Minute)

	assert.False(t, d.IsDuplicate(opp("INJ/USDT", "binance", "kraken")))
	assert.True(t, d.IsDuplicate(opp("INJ/USDT", "binance", "kraken")))

	// A fresh ID on the same route is still the same route.
	repeat := opp("INJ/USDT", "binance", "kraken")
	repeat.ID = "different"
	assert.True(t, d.IsDuplicate(repeat))
}

func TestDedupDistinguishesRoutes(t *testing.T) {
	d := NewDedup(time.Minute)

	assert.False(t, d.IsDuplicate(opp("INJ/USDT", "binance", "kraken")))
	assert.False(t, d.IsDuplicate(opp("INJ/USDT", "kraken", "binance")), "reversed direction is a new route")
	assert.False(t, d.IsDuplicate(opp("ETH/USDT", "binance", "kraken")), "other pair is a new route")
	assert.False(t, d.IsDuplicate(opp("INJ/USDT", "binance", "helix")))
}

func TestDedupZeroTTLNeverSuppresses(t *testing.T) {
	d := NewDedup(0)

	o := opp("INJ/USDT", "binance", "kraken")
	assert.False(t, d.IsDuplicate(o))
	assert.False(t, d.IsDuplicate(o))
}

func TestDedupCleanup(t *testing.T) {
	d := NewDedup(0)

	d.IsDuplicate(opp("INJ/USDT", "binance", "kraken"))
	d.IsDuplicate(opp("ETH/USDT", "binance", "kraken"))
	assert.Len(t, d.seen, 2)

	d.Cleanup()
	assert.Empty(t, d.seen)
}

func TestRouteKey(t *testing.T) {
	assert.Equal(t, "INJ/USDT|binance|kraken", routeKey(opp("INJ/USDT", "binance", "kraken")))
}
