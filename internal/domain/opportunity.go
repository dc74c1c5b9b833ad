package domain

import "time"

// Opportunity is a fee-adjusted profitable spread between two venues.
type Opportunity struct {
	ID           string
	Pair         Pair
	BuyVenue     string  // venue with the lowest price
	BuyPrice     float64
	SellVenue    string  // venue with the highest price
	SellPrice    float64
	ProfitMargin float64  // fractional net margin after the two-sided fee
	EstProfitPct float64  // ProfitMargin * 100, for display
	Confidence   *float64 // attached by a scoring model; nil for the plain margin rule
	DetectedAt   time.Time
	Executed     bool
	ExecutedAt   *time.Time
}
