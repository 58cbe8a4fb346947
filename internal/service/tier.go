package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/promptforge/admission-gateway/internal/ratelimit"
	"github.com/promptforge/admission-gateway/internal/repository"
	"github.com/promptforge/admission-gateway/internal/storage"
)

// TierResolver maps an authenticated user id to a subscription tier.
// Resolution failures must degrade to the default tier, never block a
// request.
type TierResolver interface {
	Resolve(ctx context.Context, userID string) ratelimit.Tier
}

// StaticTierResolver answers every lookup with one fixed tier. This is
// the default wiring when no user database is configured.
type StaticTierResolver struct {
	Tier ratelimit.Tier
}

func (r StaticTierResolver) Resolve(ctx context.Context, userID string) ratelimit.Tier {
	return r.Tier
}

// DBTierResolver reads the tier column off the user row, with a short
// Redis cache in front so tier lookups don't add a Postgres round trip
// to every request.
type DBTierResolver struct {
	users    *repository.UserRepository
	redis    *storage.RedisClient
	log      *logrus.Logger
	cacheTTL time.Duration
}

func NewDBTierResolver(users *repository.UserRepository, redis *storage.RedisClient, log *logrus.Logger) *DBTierResolver {
	return &DBTierResolver{
		users:    users,
		redis:    redis,
		log:      log,
		cacheTTL: 5 * time.Minute,
	}
}

func (r *DBTierResolver) cacheKey(userID string) string {
	return "tier:" + userID
}

func (r *DBTierResolver) Resolve(ctx context.Context, userID string) ratelimit.Tier {
	if userID == "" {
		return ratelimit.DefaultTier
	}

	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, r.cacheKey(userID)); err == nil && cached != "" {
			return ratelimit.ParseTier(cached)
		}
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Warn("tier lookup failed, using default tier")
		return ratelimit.DefaultTier
	}
	if user == nil {
		return ratelimit.DefaultTier
	}

	tier := ratelimit.ParseTier(user.Tier)

	if r.redis != nil {
		if err := r.redis.Set(ctx, r.cacheKey(userID), tier.String(), r.cacheTTL); err != nil {
			r.log.WithField("user_id", userID).Debug("failed to cache tier")
		}
	}

	return tier
}
