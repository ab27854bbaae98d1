package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/crossarb/internal/domain"
)

// quoteTTL bounds how long a last-known-good quote survives in the cache.
// Quotes past this age are useless even for display purposes.
const quoteTTL = 15 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis. Each quote is stored
// as JSON at key "quote:{venue}:{symbol}"; a set at "quote:index" tracks the
// live key population for GetAll.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(venueID, symbol string) string {
	return "quote:" + venueID + ":" + symbol
}

// SetQuote stores the latest quote for a (venue, symbol) pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote: %w", err)
	}

	key := quoteKey(q.VenueID, q.Symbol)
	pipe := qc.rdb.Pipeline()
	pipe.Set(ctx, key, data, quoteTTL)
	pipe.SAdd(ctx, "quote:index", key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote retrieves the most recent cached quote. Returns
// domain.ErrNotFound when no quote has been cached or it has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, venueID, symbol string) (domain.PriceQuote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(venueID, symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s/%s: %w", venueID, symbol, err)
	}

	var q domain.PriceQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: decode quote %s/%s: %w", venueID, symbol, err)
	}
	return q, nil
}

// GetAll returns every cached quote no older than maxStale. Expired index
// entries are pruned opportunistically.
func (qc *QuoteCache) GetAll(ctx context.Context, maxStale time.Duration) ([]domain.PriceQuote, error) {
	keys, err := qc.rdb.SMembers(ctx, "quote:index").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: quote index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	cutoff := time.Now().Add(-maxStale)
	var out []domain.PriceQuote
	var dead []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			dead = append(dead, keys[i])
			continue
		}
		var q domain.PriceQuote
		if err := json.Unmarshal(data, &q); err != nil {
			continue
		}
		if q.ObservedAt.Before(cutoff) {
			continue
		}
		out = append(out, q)
	}

	if len(dead) > 0 {
		_ = qc.rdb.SRem(ctx, "quote:index", dead...).Err()
	}
	return out, nil
}
