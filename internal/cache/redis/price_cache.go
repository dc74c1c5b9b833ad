package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjanssen/arbot/internal/domain"
)

// quoteTTL bounds how long a quote outlives its writer. The feed refreshes
// every cycle, so anything older than this belongs to a dead process and
// must not be served as current.
const quoteTTL = 60 * time.Second

// PriceCache implements domain.PriceCache using Redis hashes. Each venue's
// quote for a pair lives at "quote:{venue}:{pair}" with fields "price" and
// "ts" (Unix nanoseconds), expiring after quoteTTL.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func quoteKey(venue string, pair domain.Pair) string {
	return "quote:" + venue + ":" + pair.String()
}

// SetQuote stores the latest quote for a venue and pair.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Venue, q.Pair)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(q.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.Ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s %s: %w", q.Venue, q.Pair, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a venue and pair. It returns
// domain.ErrNotFound when the key is missing or expired.
func (pc *PriceCache) GetQuote(ctx context.Context, venue string, pair domain.Pair) (domain.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, quoteKey(venue, pair)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s %s: %w", venue, pair, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return parseQuote(venue, pair, vals)
}

// GetPairQuotes retrieves quotes for one pair across multiple venues using a
// pipeline. Venues with no cached quote are omitted from the result map.
func (pc *PriceCache) GetPairQuotes(ctx context.Context, pair domain.Pair, venues []string) (map[string]domain.Quote, error) {
	if len(venues) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(venues))
	for _, venue := range venues {
		cmds[venue] = pipe.HGetAll(ctx, quoteKey(venue, pair))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes %s: %w", pair, err)
	}

	result := make(map[string]domain.Quote, len(venues))
	for venue, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(venue, pair, vals)
		if err != nil {
			continue
		}
		result[venue] = q
	}

	return result, nil
}

func parseQuote(venue string, pair domain.Pair, vals map[string]string) (domain.Quote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse price for %s %s: %w", venue, pair, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts for %s %s: %w", venue, pair, err)
	}

	return domain.Quote{
		Venue: venue,
		Pair:  pair,
		Price: price,
		Ts:    time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
