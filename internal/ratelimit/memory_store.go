package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counterKey struct {
	identifier string
	category   string
	window     Window
	index      int64
}

type counterRecord struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore is an in-process CounterStore. Counters live only
// in this process, so it is NOT fleet-safe: two instances each enforce
// their own quota. It exists as a degraded single-instance mode for
// when Redis is unreachable at startup, and for tests.
type MemoryCounterStore struct {
	mu   sync.Mutex
	data map[counterKey]*counterRecord
	ops  int
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		data: make(map[counterKey]*counterRecord),
	}
}

func (s *MemoryCounterStore) IncrementAll(ctx context.Context, identifier, category string, now time.Time) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make([]int64, len(CountingWindows))
	for i, w := range CountingWindows {
		key := counterKey{identifier: identifier, category: category, window: w, index: w.Index(now)}

		record, ok := s.data[key]
		if !ok || record.expiresAt.Before(now) {
			record = &counterRecord{expiresAt: now.Add(w.TTL())}
			s.data[key] = record
		}
		record.count++
		record.expiresAt = now.Add(w.TTL())
		counts[i] = record.count
	}

	s.ops++
	if s.ops%1024 == 0 {
		s.evictExpired(now)
	}

	return Counts{Minute: counts[0], Hour: counts[1], Day: counts[2]}, nil
}

func (s *MemoryCounterStore) PeekAll(ctx context.Context, identifier, category string, now time.Time) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make([]int64, len(CountingWindows))
	for i, w := range CountingWindows {
		key := counterKey{identifier: identifier, category: category, window: w, index: w.Index(now)}
		if record, ok := s.data[key]; ok && !record.expiresAt.Before(now) {
			counts[i] = record.count
		}
	}

	return Counts{Minute: counts[0], Hour: counts[1], Day: counts[2]}, nil
}

func (s *MemoryCounterStore) Reset(ctx context.Context, identifier, category string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := false
	for key := range s.data {
		if key.identifier == identifier && key.category == category {
			delete(s.data, key)
			deleted = true
		}
	}

	return deleted, nil
}

func (s *MemoryCounterStore) Ping(ctx context.Context) error {
	return nil
}

// evictExpired drops dead buckets so long-running processes don't
// accumulate one record per identifier per window forever. Called with
// the lock held.
func (s *MemoryCounterStore) evictExpired(now time.Time) {
	for key, record := range s.data {
		if record.expiresAt.Before(now) {
			delete(s.data, key)
		}
	}
}
