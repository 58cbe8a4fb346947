package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/admission-gateway/internal/storage"
)

func newTestRedisStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounterStore(storage.NewRedisFromClient(client), "rate_limit"), mr
}

func TestRedisStore_IncrementAll(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Unix(1_000_000_020, 0)

	for i := int64(1); i <= 3; i++ {
		counts, err := store.IncrementAll(ctx, "user:a", "auth", now)
		require.NoError(t, err)
		assert.Equal(t, Counts{Minute: i, Hour: i, Day: i}, counts)
	}

	// Keys carry roughly 2x-window TTLs so rolled-over buckets stay
	// inspectable briefly.
	minuteKey := fmt.Sprintf("rate_limit:auth:user:a:minute:%d", WindowMinute.Index(now))
	require.True(t, mr.Exists(minuteKey))
	ttl := mr.TTL(minuteKey)
	assert.True(t, ttl > 0 && ttl <= 2*time.Minute, "minute TTL was %v", ttl)

	dayKey := fmt.Sprintf("rate_limit:auth:user:a:day:%d", WindowDay.Index(now))
	assert.True(t, mr.TTL(dayKey) > 24*time.Hour)
}

func TestRedisStore_WindowBuckets(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Unix(1_000_000_020, 0)

	for i := 0; i < 3; i++ {
		_, err := store.IncrementAll(ctx, "user:b", "auth", now)
		require.NoError(t, err)
	}

	counts, err := store.IncrementAll(ctx, "user:b", "auth", now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Minute)
	assert.Equal(t, int64(4), counts.Hour)
	assert.Equal(t, int64(4), counts.Day)
}

func TestRedisStore_PeekAll(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Unix(1_000_000_020, 0)

	counts, err := store.PeekAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts, "missing keys read as zero")

	_, err = store.IncrementAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)

	counts, err = store.PeekAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{Minute: 1, Hour: 1, Day: 1}, counts)

	counts, err = store.PeekAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Minute, "peek never increments")
}

func TestRedisStore_Reset(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := store.IncrementAll(ctx, "user:d", "auth", now)
	require.NoError(t, err)

	deleted, err := store.Reset(ctx, "user:d", "auth")
	require.NoError(t, err)
	assert.True(t, deleted)

	counts, err := store.PeekAll(ctx, "user:d", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	deleted, err = store.Reset(ctx, "user:d", "auth")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisStore_ConcurrentChecksAllowExactlyTheLimit(t *testing.T) {
	store, _ := newTestRedisStore(t)
	clock := newTestClock()
	limiter := NewLimiter(NewRegistry(), store,
		WithClock(clock.Now), WithLogger(quietLogger()))
	ctx := context.Background()

	const callers = 30
	limit := int64(NewRegistry().LimitsFor("auth", TierFree).RequestsPerMinute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limiter.Check(ctx, "user:e", "auth", TierFree); err == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed.Load())
}

func TestRedisStore_UnreachableServerReturnsError(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.IncrementAll(context.Background(), "user:f", "auth", time.Now())
	assert.Error(t, err)

	_, err = store.PeekAll(context.Background(), "user:f", "auth", time.Now())
	assert.Error(t, err)

	assert.Error(t, store.Ping(context.Background()))
}
