package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrRetriesExhausted means every attempt failed at the transport level.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCredentialExpired means the remote service rejected the stored credential.
	ErrCredentialExpired = errors.New("credential rejected")
	// ErrDataShape means a successful response lacked the expected balance field.
	ErrDataShape = errors.New("unexpected response shape")
	// ErrConversionUnavailable means no secondary-currency rate could be obtained.
	ErrConversionUnavailable = errors.New("conversion rate unavailable")
)

// BalanceFetcher retrieves the tracked account balance.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context) (decimal.Decimal, error)
}

// RateFetcher retrieves the primary-to-secondary conversion rate.
type RateFetcher interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Blocking reports whether err must put the system into degraded mode.
func Blocking(err error) bool {
	return errors.Is(err, ErrCredentialExpired) || errors.Is(err, ErrDataShape) || errors.Is(err, ErrRetriesExhausted)
}
