package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"balance-tracker/internal/fetcher"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/storage"
)

// Lookback is the distance to the reference sample used for change_pct.
const Lookback = 24 * time.Hour

// referenceEpsilon guards change_pct against near-zero reference balances.
var referenceEpsilon = decimal.New(1, -8)

var hundred = decimal.NewFromInt(100)

// Reading is the structured result of one sample.
type Reading struct {
	Timestamp time.Time
	Primary   decimal.Decimal
	// Secondary is invalid when the conversion rate was unavailable.
	Secondary decimal.NullDecimal
	Rate      decimal.NullDecimal
	// ChangePct is invalid when the reference balance was zero.
	ChangePct   decimal.NullDecimal
	ReferenceAt time.Time
	Recorded    bool
}

// Sample converts the reading to a ledger row.
func (r Reading) Sample() storage.Sample {
	return storage.Sample{
		Timestamp: r.Timestamp,
		Primary:   r.Primary,
		Secondary: r.Secondary,
		ChangePct: r.ChangePct,
	}
}

// Sampler fetches the balance, derives the 24h change, and optionally records it.
type Sampler struct {
	gate    *freshness.Gate
	balance fetcher.BalanceFetcher
	rate    fetcher.RateFetcher
	ledger  *storage.Ledger
	logger  zerolog.Logger

	// Now is the clock; tests pin it.
	Now func() time.Time
}

// New wires a sampler. rate may be nil when conversion is disabled.
func New(gate *freshness.Gate, balance fetcher.BalanceFetcher, rate fetcher.RateFetcher, ledger *storage.Ledger, logger zerolog.Logger) *Sampler {
	return &Sampler{
		gate:    gate,
		balance: balance,
		rate:    rate,
		ledger:  ledger,
		logger:  logger,
		Now:     time.Now,
	}
}

// Sample performs one gated reading. With record set the reading is appended
// to the ledger before returning.
func (s *Sampler) Sample(ctx context.Context, record bool) (Reading, error) {
	if s.gate.Blocked() {
		return Reading{}, freshness.ErrDegraded
	}

	primary, err := s.balance.FetchBalance(ctx)
	if err != nil {
		if fetcher.Blocking(err) && !errors.Is(ctx.Err(), context.Canceled) {
			s.gate.EnterDegraded(ctx, err.Error())
		}
		return Reading{}, fmt.Errorf("fetch balance: %w", err)
	}

	now := s.Now()
	reading := Reading{Timestamp: now.Truncate(time.Second), Primary: primary}

	if s.rate != nil {
		rate, err := s.rate.FetchRate(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("conversion unavailable")
		} else {
			reading.Rate = decimal.NewNullDecimal(rate)
			reading.Secondary = decimal.NewNullDecimal(primary.Mul(rate).Round(2))
		}
	}

	ref, ok, err := s.ledger.Nearest(ctx, now.Add(-Lookback))
	if err != nil {
		return Reading{}, fmt.Errorf("load reference sample: %w", err)
	}
	if ok {
		reading.ReferenceAt = ref.Timestamp
	}
	reading.ChangePct = ChangePct(primary, ref.Primary, ok)

	if record {
		if err := s.ledger.Append(ctx, reading.Sample()); err != nil {
			return Reading{}, fmt.Errorf("record sample: %w", err)
		}
		reading.Recorded = true
	}

	s.logger.Info().
		Str("primary", reading.Primary.String()).
		Bool("recorded", reading.Recorded).
		Msg("balance sampled")
	return reading, nil
}

// ChangePct returns the percentage change of current over reference, rounded
// to two places. Without a reference the change is zero; a near-zero
// reference yields an invalid (undefined) value.
func ChangePct(current, reference decimal.Decimal, hasReference bool) decimal.NullDecimal {
	if !hasReference {
		return decimal.NewNullDecimal(decimal.Zero)
	}
	if reference.Abs().LessThan(referenceEpsilon) {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(current.Sub(reference).Div(reference).Mul(hundred).Round(2))
}
