// Package feed aggregates venue prices into per-pair snapshots.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/metrics"
)

// venueTimeout bounds a single venue's price call so one slow venue cannot
// stall the whole cycle.
const venueTimeout = 5 * time.Second

// Aggregator fans a price request out to every configured venue and collects
// the usable quotes into a PriceSet.
type Aggregator struct {
	venues []domain.PriceSource
	cache  domain.PriceCache // optional write-through
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator over the given price sources.
func NewAggregator(venues []domain.PriceSource, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		venues: venues,
		logger: logger.With(slog.String("component", "feed")),
		now:    time.Now,
	}
}

// SetPriceCache enables best-effort write-through of fetched quotes. Cache
// failures are logged and otherwise ignored.
func (a *Aggregator) SetPriceCache(c domain.PriceCache) {
	a.cache = c
}

// Venues returns the names of the configured price sources.
func (a *Aggregator) Venues() []string {
	names := make([]string, 0, len(a.venues))
	for _, v := range a.venues {
		names = append(names, v.Name())
	}
	return names
}

// Fetch queries every venue for pair concurrently. Venues that error or
// return a non-positive price are left out of the result; a partially
// populated PriceSet is normal operation. Fetch returns ErrNoLiquidity only
// when no venue produced a usable quote.
func (a *Aggregator) Fetch(ctx context.Context, pair domain.Pair) (domain.PriceSet, error) {
	start := a.now()
	set := domain.NewPriceSet(pair)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range a.venues {
		v := v
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, venueTimeout)
			defer cancel()

			price, err := v.GetPrice(vctx, pair)
			if err != nil {
				metrics.VenueErrors.WithLabelValues(v.Name()).Inc()
				a.logger.WarnContext(ctx, "venue quote skipped",
					slog.String("venue", v.Name()),
					slog.String("pair", pair.String()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if price <= 0 {
				metrics.VenueErrors.WithLabelValues(v.Name()).Inc()
				a.logger.WarnContext(ctx, "venue quote skipped: non-positive price",
					slog.String("venue", v.Name()),
					slog.String("pair", pair.String()),
					slog.Float64("price", price),
				)
				return nil
			}

			metrics.VenueQuotes.WithLabelValues(v.Name()).Inc()
			mu.Lock()
			set.Add(domain.Quote{
				Venue: v.Name(),
				Pair:  pair,
				Price: price,
				Ts:    a.now(),
			})
			mu.Unlock()
			return nil
		})
	}

	// Workers swallow their own errors, so Wait only fails on a cancelled
	// context.
	if err := g.Wait(); err != nil {
		return domain.PriceSet{}, fmt.Errorf("feed: fetch %s: %w", pair, err)
	}

	metrics.FetchLatency.Observe(a.now().Sub(start).Seconds())

	if set.Len() == 0 {
		return domain.PriceSet{}, fmt.Errorf("feed: fetch %s: %w", pair, domain.ErrNoLiquidity)
	}

	a.writeThrough(ctx, set)

	a.logger.DebugContext(ctx, "pair aggregated",
		slog.String("pair", pair.String()),
		slog.Int("venues", set.Len()),
	)
	return set, nil
}

// writeThrough pushes the fetched quotes into the price cache.
func (a *Aggregator) writeThrough(ctx context.Context, set domain.PriceSet) {
	if a.cache == nil {
		return
	}
	for _, name := range set.Venues() {
		q := set.Quotes[name]
		if err := a.cache.SetQuote(ctx, q); err != nil {
			a.logger.WarnContext(ctx, "price cache write failed",
				slog.String("venue", name),
				slog.String("pair", q.Pair.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
