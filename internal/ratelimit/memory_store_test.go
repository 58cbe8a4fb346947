package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IncrementAll(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()
	now := time.Unix(1_000_000_020, 0)

	counts, err := store.IncrementAll(ctx, "user:a", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{Minute: 1, Hour: 1, Day: 1}, counts)

	counts, err = store.IncrementAll(ctx, "user:a", "auth", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, Counts{Minute: 2, Hour: 2, Day: 2}, counts)
}

func TestMemoryStore_WindowBuckets(t *testing.T) {
	store := NewMemoryCounterStore()
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

func TestMemoryStore_PeekAll(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()
	now := time.Unix(1_000_000_020, 0)

	// Missing keys read as zero.
	counts, err := store.PeekAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	_, err = store.IncrementAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)

	counts, err = store.PeekAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{Minute: 1, Hour: 1, Day: 1}, counts)

	// Peeking never increments.
	counts, err = store.PeekAll(ctx, "user:c", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Minute)
}

func TestMemoryStore_Reset(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()
	now := time.Unix(1_000_000_020, 0)

	_, err := store.IncrementAll(ctx, "user:d", "auth", now)
	require.NoError(t, err)
	_, err = store.IncrementAll(ctx, "user:d", "feedback", now)
	require.NoError(t, err)

	deleted, err := store.Reset(ctx, "user:d", "auth")
	require.NoError(t, err)
	assert.True(t, deleted)

	counts, err := store.PeekAll(ctx, "user:d", "auth", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	// The other category's counters survive.
	counts, err = store.PeekAll(ctx, "user:d", "feedback", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Minute)

	deleted, err = store.Reset(ctx, "user:d", "auth")
	require.NoError(t, err)
	assert.False(t, deleted, "nothing left to delete")
}

func TestWindowMath(t *testing.T) {
	now := time.Unix(1_000_000_020, 0)

	assert.Equal(t, int64(60), WindowMinute.Seconds())
	assert.Equal(t, int64(3600), WindowHour.Seconds())
	assert.Equal(t, int64(86400), WindowDay.Seconds())

	assert.Equal(t, 2*time.Minute, WindowMinute.TTL())
	assert.Equal(t, 2*time.Hour, WindowHour.TTL())
	assert.Equal(t, 48*time.Hour, WindowDay.TTL())

	assert.Equal(t, now.Unix()/60, WindowMinute.Index(now))
	assert.Equal(t, WindowMinute.Index(now)+1, WindowMinute.Index(now.Add(time.Minute)))

	next := WindowMinute.Next(now)
	assert.Equal(t, int64(0), next.Unix()%60)
	assert.True(t, next.After(now))
	assert.Equal(t, 40*time.Second, WindowMinute.Remaining(now))
}
