package arbitrage

import "context"

// netMargin returns the fee-adjusted profit margin for buying at buy and
// selling at sell, with feeRate charged once per leg.
func netMargin(buy, sell, feeRate float64) float64 {
	feeFactor := 1 - feeRate
	return (sell/buy)*feeFactor*feeFactor - 1
}

// MarginScorer is the deterministic baseline rule: profitable exactly when
// the net margin strictly exceeds the threshold. It never errors and never
// produces a confidence, so it doubles as the fallback when a model-backed
// scorer fails.
type MarginScorer struct{}

// NewMarginScorer creates the baseline margin-rule scorer.
func NewMarginScorer() *MarginScorer { return &MarginScorer{} }

// Name returns the scorer identifier.
func (s *MarginScorer) Name() string { return "margin" }

// Score applies the margin rule to the candidate.
func (s *MarginScorer) Score(_ context.Context, f Features) (Prediction, error) {
	return Prediction{Profitable: f.NetMargin > f.MinProfit}, nil
}
