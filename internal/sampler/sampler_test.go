package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"balance-tracker/internal/fetcher"
	"balance-tracker/internal/freshness"
	"balance-tracker/internal/storage"
)

type stubBalance struct {
	calls int32
	value decimal.Decimal
	err   error
}

func (s *stubBalance) FetchBalance(context.Context) (decimal.Decimal, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.value, s.err
}

type stubRate struct {
	value decimal.Decimal
	err   error
}

func (s *stubRate) FetchRate(context.Context) (decimal.Decimal, error) {
	return s.value, s.err
}

var fixedNow = time.Date(2024, 6, 2, 12, 0, 0, 0, time.Local)

func newTestSampler(balance fetcher.BalanceFetcher, rate fetcher.RateFetcher, seed ...storage.Sample) (*Sampler, *freshness.Gate, *storage.MemoryStore) {
	gate := freshness.NewGate(zerolog.Nop())
	store := storage.NewMemoryStore(seed...)
	s := New(gate, balance, rate, storage.NewLedger(store), zerolog.Nop())
	s.Now = func() time.Time { return fixedNow }
	return s, gate, store
}

func TestSampleBlockedGateSkipsFetch(t *testing.T) {
	balance := &stubBalance{value: decimal.NewFromInt(1)}
	s, gate, store := newTestSampler(balance, nil)
	gate.EnterDegraded(context.Background(), "expired")

	_, err := s.Sample(context.Background(), true)
	if !errors.Is(err, freshness.ErrDegraded) {
		t.Fatalf("want ErrDegraded, got %v", err)
	}
	if atomic.LoadInt32(&balance.calls) != 0 {
		t.Fatal("no fetch may be attempted while blocked")
	}
	if store.Len() != 0 {
		t.Fatal("ledger must not change while blocked")
	}
}

func TestSampleChangePct(t *testing.T) {
	ref := storage.Sample{Timestamp: fixedNow.Add(-24 * time.Hour), Primary: decimal.NewFromInt(100)}
	s, _, _ := newTestSampler(&stubBalance{value: decimal.NewFromInt(110)}, nil, ref)

	reading, err := s.Sample(context.Background(), false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !reading.ChangePct.Valid || reading.ChangePct.Decimal.StringFixed(2) != "10.00" {
		t.Fatalf("change = %+v, want 10.00", reading.ChangePct)
	}
	if !reading.ReferenceAt.Equal(ref.Timestamp) {
		t.Fatalf("reference at %v", reading.ReferenceAt)
	}
}

func TestSampleZeroReferenceIsUndefined(t *testing.T) {
	ref := storage.Sample{Timestamp: fixedNow.Add(-24 * time.Hour), Primary: decimal.Zero}
	s, _, _ := newTestSampler(&stubBalance{value: decimal.NewFromInt(110)}, nil, ref)

	reading, err := s.Sample(context.Background(), false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if reading.ChangePct.Valid {
		t.Fatalf("zero reference must be undefined, got %s", reading.ChangePct.Decimal)
	}
}

func TestSampleEmptyLedgerIsZeroChange(t *testing.T) {
	s, _, _ := newTestSampler(&stubBalance{value: decimal.NewFromInt(5)}, nil)

	reading, err := s.Sample(context.Background(), false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !reading.ChangePct.Valid || !reading.ChangePct.Decimal.IsZero() {
		t.Fatalf("change = %+v, want 0", reading.ChangePct)
	}
}

func TestSampleRecordFlag(t *testing.T) {
	s, _, store := newTestSampler(&stubBalance{value: decimal.NewFromInt(7)}, nil)

	for i := 0; i < 3; i++ {
		if _, err := s.Sample(context.Background(), false); err != nil {
			t.Fatalf("sample: %v", err)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("record=false wrote %d rows", store.Len())
	}

	for i := 0; i < 4; i++ {
		reading, err := s.Sample(context.Background(), true)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if !reading.Recorded {
			t.Fatal("reading should be marked recorded")
		}
	}
	if store.Len() != 4 {
		t.Fatalf("record=true wrote %d rows, want 4", store.Len())
	}
}

func TestSampleConversion(t *testing.T) {
	s, _, _ := newTestSampler(&stubBalance{value: decimal.NewFromInt(10)}, &stubRate{value: decimal.RequireFromString("92.5")})

	reading, err := s.Sample(context.Background(), false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !reading.Secondary.Valid || !reading.Secondary.Decimal.Equal(decimal.NewFromInt(925)) {
		t.Fatalf("secondary = %+v", reading.Secondary)
	}
}

func TestSampleConversionUnavailableIsNotFatal(t *testing.T) {
	rate := &stubRate{err: fmt.Errorf("%w: timeout", fetcher.ErrConversionUnavailable)}
	s, gate, store := newTestSampler(&stubBalance{value: decimal.NewFromInt(10)}, rate)

	reading, err := s.Sample(context.Background(), true)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if reading.Secondary.Valid {
		t.Fatal("secondary should be unavailable")
	}
	if gate.Blocked() {
		t.Fatal("conversion failure must not degrade")
	}
	if store.Len() != 1 {
		t.Fatal("sample should still be recorded")
	}
}

func TestSampleBlockingErrorsDegrade(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		blocked bool
	}{
		{"credential", fmt.Errorf("%w: retCode 10003", fetcher.ErrCredentialExpired), true},
		{"data shape", fmt.Errorf("%w: no bot account", fetcher.ErrDataShape), true},
		{"exhausted", fmt.Errorf("%w: 502", fetcher.ErrRetriesExhausted), true},
		{"canceled", context.Canceled, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, gate, store := newTestSampler(&stubBalance{err: tc.err}, nil)

			if _, err := s.Sample(context.Background(), true); !errors.Is(err, tc.err) {
				t.Fatalf("want %v, got %v", tc.err, err)
			}
			if gate.Blocked() != tc.blocked {
				t.Fatalf("blocked = %v, want %v", gate.Blocked(), tc.blocked)
			}
			if store.Len() != 0 {
				t.Fatal("failed sample must not be recorded")
			}
		})
	}
}

func TestChangePct(t *testing.T) {
	cases := []struct {
		current, reference string
		has                bool
		want               string
	}{
		{"110", "100", true, "10.00"},
		{"90", "100", true, "-10.00"},
		{"1", "3", true, "-66.67"},
		{"5", "0", false, "0.00"},
		{"5", "0.000000001", true, ""},
	}
	for _, tc := range cases {
		got := ChangePct(decimal.RequireFromString(tc.current), decimal.RequireFromString(tc.reference), tc.has)
		if tc.want == "" {
			if got.Valid {
				t.Fatalf("%s/%s: want undefined, got %s", tc.current, tc.reference, got.Decimal)
			}
			continue
		}
		if !got.Valid || got.Decimal.StringFixed(2) != tc.want {
			t.Fatalf("%s/%s: got %+v, want %s", tc.current, tc.reference, got, tc.want)
		}
	}
}
