package domain

import "context"

// PriceSource supplies the current price for a pair on one venue.
// Implementations own their retry/timeout policy; any error returned here
// simply means "no quote this cycle" to callers and must never be fatal.
type PriceSource interface {
	Name() string
	GetPrice(ctx context.Context, pair Pair) (float64, error)
}

// OrderSubmitter places one leg of a trade on a venue. A nil error means the
// order was accepted and filled for the full amount; partial fills are not
// modeled. Implementations should wrap rejections in ErrOrderRejected.
type OrderSubmitter interface {
	Name() string
	SubmitOrder(ctx context.Context, pair Pair, side Side, price, amount float64) error
}

// Venue is a fully-featured venue client: it quotes prices and takes orders.
type Venue interface {
	PriceSource
	OrderSubmitter
}
