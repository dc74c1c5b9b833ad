package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kjanssen/arbot/internal/domain"
)

// MarketService holds the latest price snapshot per pair for the status API
// and dashboard. The in-process loop feeds it directly through Update; an
// API-only process falls back to the shared Redis quote cache.
type MarketService struct {
	pairs  []domain.Pair
	venues []string
	cache  domain.PriceCache
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[domain.Pair]domain.PriceSet
}

// NewMarketService creates a MarketService covering the given pairs and
// venue names.
func NewMarketService(pairs []domain.Pair, venues []string, logger *slog.Logger) *MarketService {
	return &MarketService{
		pairs:  pairs,
		venues: venues,
		logger: logger.With(slog.String("component", "market_service")),
		latest: make(map[domain.Pair]domain.PriceSet, len(pairs)),
	}
}

// SetPriceCache attaches the shared quote cache used when the loop is not
// running in this process.
func (s *MarketService) SetPriceCache(cache domain.PriceCache) {
	s.cache = cache
}

// Update replaces the in-memory snapshot for one pair.
func (s *MarketService) Update(set domain.PriceSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[set.Pair] = set
}

// Snapshot returns the latest known quotes for every configured pair. Pairs
// without an in-memory snapshot are read from the quote cache; pairs with no
// data anywhere are omitted.
func (s *MarketService) Snapshot(ctx context.Context) map[domain.Pair]domain.PriceSet {
	out := make(map[domain.Pair]domain.PriceSet, len(s.pairs))

	s.mu.RLock()
	for pair, set := range s.latest {
		out[pair] = set
	}
	s.mu.RUnlock()

	if s.cache == nil {
		return out
	}

	for _, pair := range s.pairs {
		if _, ok := out[pair]; ok {
			continue
		}
		quotes, err := s.cache.GetPairQuotes(ctx, pair, s.venues)
		if err != nil {
			s.logger.WarnContext(ctx, "quote cache read failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(quotes) == 0 {
			continue
		}
		set := domain.NewPriceSet(pair)
		for _, q := range quotes {
			set.Add(q)
		}
		out[pair] = set
	}

	return out
}
