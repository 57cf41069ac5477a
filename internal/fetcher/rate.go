package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const rateCacheKey = "balancetracker:rate:tether:rub"

// RateCache stores the last good conversion rate.
type RateCache interface {
	GetRate(ctx context.Context, key string) (decimal.Decimal, bool, error)
	SetRate(ctx context.Context, key string, rate decimal.Decimal, ttl time.Duration) error
}

// RateOptions parameterise the conversion lookup.
type RateOptions struct {
	URL      string
	CacheTTL time.Duration
}

// Rate fetches the tether price in roubles.
type Rate struct {
	opts   RateOptions
	client *Client
	cache  RateCache
	logger zerolog.Logger
}

// NewRate constructs a rate fetcher. cache may be nil.
func NewRate(opts RateOptions, client *Client, cache RateCache, logger zerolog.Logger) *Rate {
	return &Rate{opts: opts, client: client, cache: cache, logger: logger.With().Str("component", "rate_fetcher").Logger()}
}

// FetchRate returns the rate or an error wrapping ErrConversionUnavailable.
func (r *Rate) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	if r.cache != nil {
		if cached, ok, err := r.cache.GetRate(ctx, rateCacheKey); err != nil {
			r.logger.Warn().Err(err).Msg("rate cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	if r.opts.URL == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: rate url not configured", ErrConversionUnavailable)
	}

	resp, err := r.client.Fetch(ctx, Request{Method: http.MethodGet, URL: r.opts.URL})
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrConversionUnavailable, err)
	}

	var payload struct {
		Tether *struct {
			RUB json.RawMessage `json:"rub"`
		} `json:"tether"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode rate: %v", ErrConversionUnavailable, err)
	}
	if payload.Tether == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: tether missing", ErrConversionUnavailable)
	}
	rate, err := parseAmount(payload.Tether.RUB)
	if err != nil || !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: rub rate unusable", ErrConversionUnavailable)
	}

	if r.cache != nil && r.opts.CacheTTL > 0 {
		if err := r.cache.SetRate(ctx, rateCacheKey, rate, r.opts.CacheTTL); err != nil {
			r.logger.Warn().Err(err).Msg("rate cache write failed")
		}
	}
	return rate, nil
}

// RedisRateCache keeps rates in redis with an expiry.
type RedisRateCache struct {
	client *redis.Client
}

// NewRedisRateCache wraps a redis client.
func NewRedisRateCache(client *redis.Client) *RedisRateCache {
	return &RedisRateCache{client: client}
}

// GetRate returns the cached rate, if any.
func (c *RedisRateCache) GetRate(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("get cached rate: %w", err)
	}
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse cached rate: %w", err)
	}
	return rate, true, nil
}

// SetRate stores the rate until ttl elapses.
func (c *RedisRateCache) SetRate(ctx context.Context, key string, rate decimal.Decimal, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, rate.String(), ttl).Err(); err != nil {
		return fmt.Errorf("set cached rate: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisRateCache) Close() error {
	return c.client.Close()
}

var (
	_ RateFetcher = (*Rate)(nil)
	_ RateCache   = (*RedisRateCache)(nil)
)
