package service

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"balance-tracker/internal/alerting"
	"balance-tracker/internal/config"
	"balance-tracker/internal/fetcher"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/logging"
	"balance-tracker/internal/sampler"
	"balance-tracker/internal/storage"
)

// Components are the per-snapshot collaborators rebuilt on every reload.
type Components struct {
	Sampler    *sampler.Sampler
	Dispatcher *alerting.Dispatcher
	closers    []func() error
}

// NewComponents bundles prebuilt collaborators.
func NewComponents(s *sampler.Sampler, d *alerting.Dispatcher, closers ...func() error) *Components {
	return &Components{Sampler: s, Dispatcher: d, closers: closers}
}

// Close releases sink connections and caches.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Factory turns a configuration snapshot into components.
type Factory func(cfg *config.Config, gate *freshness.Gate, ledger *storage.Ledger, logger zerolog.Logger) (*Components, error)

// BuildComponents wires fetchers, the rate cache, and notification sinks from cfg.
func BuildComponents(cfg *config.Config, gate *freshness.Gate, ledger *storage.Ledger, logger zerolog.Logger) (*Components, error) {
	if err := cfg.Exchange.Validate(); err != nil {
		return nil, err
	}
	comps := &Components{}

	exchange := fetcher.NewClient(fetcher.ClientOptions{
		Name:              "exchange",
		MaxAttempts:       cfg.Fetcher.MaxAttempts,
		BackoffUnit:       cfg.Fetcher.BackoffUnit,
		Timeout:           cfg.Exchange.RequestTimeout,
		RequestsPerSecond: cfg.Fetcher.RequestsPerSecond,
		Burst:             cfg.Fetcher.Burst,
		UserAgent:         cfg.Exchange.UserAgent,
		Degrader:          gate,
	}, logger)

	var balance fetcher.BalanceFetcher
	switch cfg.Exchange.Mode {
	case config.ModeCookie:
		balance = fetcher.NewCookieBalance(fetcher.CookieOptions{
			URL:         cfg.Exchange.CookieURL,
			Token:       cfg.Exchange.CookieToken,
			AccountType: cfg.Exchange.CookieAccount,
		}, exchange, logger)
	case config.ModeSigned:
		signer := fetcher.NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RecvWindow)
		balance = fetcher.NewSignedBalance(fetcher.SignedOptions{
			BaseURL:       cfg.Exchange.BaseURL,
			AccountType:   cfg.Exchange.AccountType,
			Coin:          cfg.Exchange.Coin,
			UseServerTime: cfg.Exchange.UseServerTime,
		}, signer, exchange, logger)
	default:
		return nil, fmt.Errorf("unsupported exchange mode %q", cfg.Exchange.Mode)
	}

	var rates fetcher.RateFetcher
	if cfg.Rates.Enabled {
		// No degrader: a failed conversion never pauses sampling.
		rateClient := fetcher.NewClient(fetcher.ClientOptions{
			Name:        "rates",
			MaxAttempts: cfg.Rates.MaxAttempts,
			BackoffUnit: cfg.Fetcher.BackoffUnit,
			Timeout:     cfg.Rates.RequestTimeout,
			UserAgent:   cfg.Exchange.UserAgent,
		}, logger)

		var cache fetcher.RateCache
		if cfg.Rates.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Rates.RedisAddr,
				Password: cfg.Rates.RedisPassword,
				DB:       cfg.Rates.RedisDB,
			})
			redisCache := fetcher.NewRedisRateCache(rdb)
			cache = redisCache
			comps.closers = append(comps.closers, redisCache.Close)
		}
		rates = fetcher.NewRate(fetcher.RateOptions{URL: cfg.Rates.URL, CacheTTL: cfg.Rates.CacheTTL}, rateClient, cache, logger)
	}

	comps.Sampler = sampler.New(gate, balance, rates, ledger, logging.Component(logger, "sampler"))

	var sinks alerting.Fanout
	if cfg.Alerting.Telegram.Enabled {
		sinks = append(sinks, alerting.NewTelegramNotifier(cfg.Alerting.Telegram.BotToken, cfg.Alerting.Telegram.APIBase, cfg.Alerting.Telegram.Timeout, logger))
	}
	if cfg.Alerting.AMQP.Enabled {
		amqpSink, err := alerting.NewAMQPNotifier(cfg.Alerting.AMQP.URL, cfg.Alerting.AMQP.Exchange, cfg.Alerting.AMQP.Queue, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp sink unavailable, continuing without it")
		} else {
			sinks = append(sinks, amqpSink)
			comps.closers = append(comps.closers, amqpSink.Close)
		}
	}

	var notifier alerting.Notifier
	switch len(sinks) {
	case 0:
	case 1:
		notifier = sinks[0]
	default:
		notifier = sinks
	}
	comps.Dispatcher = alerting.NewDispatcher(notifier, cfg.Alerting.Operators, cfg.Alerting.DefaultChat, logger)

	return comps, nil
}
