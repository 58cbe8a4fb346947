package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/admission-gateway/internal/ratelimit"
	"github.com/promptforge/admission-gateway/internal/storage"
)

func TestStaticTierResolver(t *testing.T) {
	resolver := StaticTierResolver{Tier: ratelimit.TierBasic}
	assert.Equal(t, ratelimit.TierBasic, resolver.Resolve(context.Background(), "user-1"))
	assert.Equal(t, ratelimit.TierBasic, resolver.Resolve(context.Background(), ""))
}

func TestDBTierResolver_EmptyUserID(t *testing.T) {
	resolver := NewDBTierResolver(nil, nil, logrus.New())
	assert.Equal(t, ratelimit.DefaultTier, resolver.Resolve(context.Background(), ""))
}

func TestDBTierResolver_CacheHitSkipsDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// A warm cache entry must answer the lookup without a users
	// repository at all.
	require.NoError(t, mr.Set("tier:user-7", "enterprise"))

	resolver := NewDBTierResolver(nil, storage.NewRedisFromClient(client), logrus.New())
	assert.Equal(t, ratelimit.TierEnterprise, resolver.Resolve(context.Background(), "user-7"))
}

func TestDBTierResolver_CachedGarbageFallsBackToDefault(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	require.NoError(t, mr.Set("tier:user-8", "platinum"))

	resolver := NewDBTierResolver(nil, storage.NewRedisFromClient(client), logrus.New())
	assert.Equal(t, ratelimit.DefaultTier, resolver.Resolve(context.Background(), "user-8"))
}
