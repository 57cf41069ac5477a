package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps samples in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	samples []Sample
}

// NewMemoryStore returns a store seeded with samples.
func NewMemoryStore(seed ...Sample) *MemoryStore {
	return &MemoryStore{samples: append([]Sample(nil), seed...)}
}

// Append stores the sample.
func (s *MemoryStore) Append(_ context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

// All returns a copy of the stored samples.
func (s *MemoryStore) All(_ context.Context) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...), nil
}

// Len reports how many samples are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *MemoryStore) Close() error { return nil }

var _ SampleStore = (*MemoryStore)(nil)
