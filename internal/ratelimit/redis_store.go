package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptforge/admission-gateway/internal/storage"
)

// DefaultKeyPrefix namespaces all counter keys in Redis.
const DefaultKeyPrefix = "rate_limit"

// RedisCounterStore counts against a shared Redis so admission control
// is correct across every serving instance, not just one process.
type RedisCounterStore struct {
	redis     *storage.RedisClient
	keyPrefix string
}

func NewRedisCounterStore(client *storage.RedisClient, keyPrefix string) *RedisCounterStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisCounterStore{
		redis:     client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisCounterStore) key(identifier, category string, w Window, index int64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", s.keyPrefix, category, identifier, w, index)
}

// IncrementAll issues the three INCRs and their EXPIREs as one
// MULTI/EXEC batch. Two concurrent callers can never both observe a
// pre-increment value: each sees its own post-increment counts.
func (s *RedisCounterStore) IncrementAll(ctx context.Context, identifier, category string, now time.Time) (Counts, error) {
	incrs := make([]*redis.IntCmd, len(CountingWindows))

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, w := range CountingWindows {
			key := s.key(identifier, category, w, w.Index(now))
			incrs[i] = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, w.TTL())
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}

	return Counts{
		Minute: incrs[0].Val(),
		Hour:   incrs[1].Val(),
		Day:    incrs[2].Val(),
	}, nil
}

// PeekAll reads the three current-window counters with a single MGET.
// Missing keys read as zero.
func (s *RedisCounterStore) PeekAll(ctx context.Context, identifier, category string, now time.Time) (Counts, error) {
	keys := make([]string, len(CountingWindows))
	for i, w := range CountingWindows {
		keys[i] = s.key(identifier, category, w, w.Index(now))
	}

	values, err := s.redis.MGet(ctx, keys...)
	if err != nil {
		return Counts{}, err
	}

	counts := make([]int64, len(CountingWindows))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		counts[i] = n
	}

	return Counts{Minute: counts[0], Hour: counts[1], Day: counts[2]}, nil
}

// Reset deletes the current and previous bucket for every window, which
// covers every live key given the 2x-window TTLs.
func (s *RedisCounterStore) Reset(ctx context.Context, identifier, category string) (bool, error) {
	now := time.Now()

	var keys []string
	for _, w := range CountingWindows {
		index := w.Index(now)
		keys = append(keys,
			s.key(identifier, category, w, index),
			s.key(identifier, category, w, index-1),
		)
	}

	deleted, err := s.redis.Del(ctx, keys...)
	if err != nil {
		return false, err
	}

	return deleted > 0, nil
}

func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}
