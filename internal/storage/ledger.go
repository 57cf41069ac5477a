package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned after the ledger has been closed.
var ErrClosed = errors.New("storage: ledger closed")

// SampleStore is an append-only backend. Append must be durable before it returns.
type SampleStore interface {
	Append(ctx context.Context, sample Sample) error
	All(ctx context.Context) ([]Sample, error)
	Close() error
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Ledger serialises appends to a backend and lets reads run concurrently.
// Readers never observe a half-written append.
type Ledger struct {
	mu     sync.RWMutex
	store  SampleStore
	closed bool
}

// NewLedger wraps a backend.
func NewLedger(store SampleStore) *Ledger {
	return &Ledger{store: store}
}

// Append writes one sample. Timestamps are kept at second precision.
func (l *Ledger) Append(ctx context.Context, sample Sample) error {
	sample.Timestamp = sample.Timestamp.Truncate(time.Second)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.store.Append(ctx, sample)
}

// All returns every sample in stored order.
func (l *Ledger) All(ctx context.Context) ([]Sample, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.store.All(ctx)
}

// Nearest returns the sample closest in time to target.
func (l *Ledger) Nearest(ctx context.Context, target time.Time) (Sample, bool, error) {
	samples, err := l.All(ctx)
	if err != nil {
		return Sample{}, false, err
	}
	sample, ok := NearestSample(samples, target)
	return sample, ok, nil
}

// Recent returns up to n samples, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Sample, error) {
	samples, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(samples) {
		n = len(samples)
	}
	out := make([]Sample, 0, n)
	for i := len(samples) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, samples[i])
	}
	return out, nil
}

// Locker returns the backend's advisory locker, if it has one.
func (l *Ledger) Locker() (AdvisoryLocker, bool) {
	locker, ok := l.store.(AdvisoryLocker)
	return locker, ok
}

// Close closes the backend. Later calls fail with ErrClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.store.Close()
}

// NearestSample scans samples for the smallest |timestamp - target|. On an
// exact tie the sample seen first in stored order wins.
func NearestSample(samples []Sample, target time.Time) (Sample, bool) {
	var (
		best     Sample
		bestDiff time.Duration
		found    bool
	)
	for _, s := range samples {
		diff := s.Timestamp.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < bestDiff {
			best, bestDiff, found = s, diff, true
		}
	}
	return best, found
}
