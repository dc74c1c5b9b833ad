package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest venue quotes.
type PriceCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, venue string, pair Pair) (Quote, error)
	GetPairQuotes(ctx context.Context, pair Pair, venues []string) (map[string]Quote, error)
}

// RiskCache mirrors the loop's risk snapshot so an API-only process can
// report on a trading process sharing the same Redis.
type RiskCache interface {
	SetSnapshot(ctx context.Context, snap RiskSnapshot) error
	GetSnapshot(ctx context.Context) (RiskSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
