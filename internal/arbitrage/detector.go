package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kjanssen/arbot/internal/domain"
	"github.com/kjanssen/arbot/internal/metrics"
)

// Detector finds the widest fee-adjusted spread in a PriceSet and decides
// whether it is worth acting on.
type Detector struct {
	scorer Scorer
	logger *slog.Logger
}

// NewDetector creates a Detector using the given scorer. A nil scorer means
// the plain margin rule.
func NewDetector(scorer Scorer, logger *slog.Logger) *Detector {
	return &Detector{
		scorer: scorer,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Detect returns the opportunity in set, or nil when there is none. Fewer
// than two venues, or a margin at or below the threshold, are normal "no
// opportunity" outcomes, not errors. Venue iteration is in sorted name order
// and ties keep the first venue seen, so results are deterministic for a
// given set.
func (d *Detector) Detect(ctx context.Context, set domain.PriceSet, minProfit, feeRate float64) (*domain.Opportunity, error) {
	if set.Len() < 2 {
		return nil, nil
	}

	venues := set.Venues()
	buy, sell := venues[0], venues[0]
	var sum float64
	for _, v := range venues {
		price := set.Quotes[v].Price
		sum += price
		if price < set.Quotes[buy].Price {
			buy = v
		}
		if price > set.Quotes[sell].Price {
			sell = v
		}
	}
	if buy == sell {
		// All venues quote the same price; there is no spread to cross.
		return nil, nil
	}

	buyQuote, sellQuote := set.Quotes[buy], set.Quotes[sell]
	if buyQuote.Price <= 0 {
		return nil, nil
	}

	margin := netMargin(buyQuote.Price, sellQuote.Price, feeRate)
	metrics.BestMargin.WithLabelValues(set.Pair.String()).Set(margin)

	feats := Features{
		MinPrice:   buyQuote.Price,
		MaxPrice:   sellQuote.Price,
		MeanPrice:  sum / float64(set.Len()),
		Spread:     sellQuote.Price - buyQuote.Price,
		SpreadPct:  (sellQuote.Price - buyQuote.Price) / buyQuote.Price * 100,
		NetMargin:  margin,
		MinProfit:  minProfit,
		VenueCount: set.Len(),
	}

	pass, confidence := d.evaluate(ctx, feats)
	if !pass {
		return nil, nil
	}

	opp := &domain.Opportunity{
		ID:           uuid.Must(uuid.NewRandom()).String(),
		Pair:         set.Pair,
		BuyVenue:     buy,
		BuyPrice:     buyQuote.Price,
		SellVenue:    sell,
		SellPrice:    sellQuote.Price,
		ProfitMargin: margin,
		EstProfitPct: margin * 100,
		DetectedAt:   time.Now().UTC(),
	}
	if confidence > 0 {
		opp.Confidence = &confidence
	}

	metrics.OpportunitiesDetected.Inc()
	d.logger.InfoContext(ctx, "opportunity detected",
		slog.String("pair", set.Pair.String()),
		slog.String("buy_venue", buy),
		slog.String("sell_venue", sell),
		slog.Float64("margin", margin),
	)
	return opp, nil
}

// evaluate runs the configured scorer, falling back to the margin rule when
// the scorer is absent or errors.
func (d *Detector) evaluate(ctx context.Context, feats Features) (pass bool, confidence float64) {
	if d.scorer == nil {
		return feats.NetMargin > feats.MinProfit, 0
	}
	pred, err := d.scorer.Score(ctx, feats)
	if err != nil {
		d.logger.WarnContext(ctx, "scorer failed, using margin rule",
			slog.String("scorer", d.scorer.Name()),
			slog.String("error", err.Error()),
		)
		return feats.NetMargin > feats.MinProfit, 0
	}
	return pred.Profitable, pred.Confidence
}
