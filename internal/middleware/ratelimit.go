package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/promptforge/admission-gateway/internal/ratelimit"
	"github.com/promptforge/admission-gateway/internal/service"
)

// RateLimit runs every request through the admission decision engine:
// bypass check, endpoint classification, identifier construction, tier
// resolution, then the quota check. Allowed requests continue with
// quota headers attached; violations get a 429 with Retry-After.
func RateLimit(limiter *ratelimit.Limiter, resolver service.TierResolver, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		registry := limiter.Registry()

		if registry.IsBypassed(path) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		category := registry.Classify(path)
		identifier, userID := Identify(c)

		tier := ratelimit.DefaultTier
		if userID != "" && resolver != nil {
			tier = resolver.Resolve(ctx, userID)
		}

		decision, err := limiter.Check(ctx, identifier, category, tier)
		if err != nil {
			if exceeded, ok := ratelimit.AsLimitExceeded(err); ok {
				setQuotaHeaders(c, exceeded.Decision)
				retryAfter := int(exceeded.RetryAfter.Seconds())
				c.Header("Retry-After", strconv.Itoa(retryAfter))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":       "rate_limit_exceeded",
					"message":     fmt.Sprintf("Rate limit exceeded for %s endpoint", category),
					"retry_after": retryAfter,
					"limit_type":  exceeded.LimitType,
					"category":    category,
					"identifier":  identifier,
				})
				return
			}

			if errors.Is(err, ratelimit.ErrStoreUnavailable) {
				// Strict mode only: operators chose blocking over
				// uncounted traffic.
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "admission control unavailable",
				})
				return
			}

			// The engine contract is fail-open; anything else is a bug
			// on our side and must not block the request.
			log.WithError(err).Error("unexpected admission check error, allowing request")
			c.Next()
			return
		}

		setQuotaHeaders(c, decision)
		c.Next()
	}
}

// Identify builds the quota identifier: "user:<id>" when the auth
// middleware attached one, else "ip:<addr>" preferring the first hop of
// X-Forwarded-For over the raw peer address.
func Identify(c *gin.Context) (identifier, userID string) {
	if id := c.GetString("user_id"); id != "" {
		return "user:" + id, id
	}

	ip := c.GetHeader("X-Forwarded-For")
	if ip != "" {
		if idx := strings.Index(ip, ","); idx != -1 {
			ip = ip[:idx]
		}
		ip = strings.TrimSpace(ip)
	} else {
		ip = c.ClientIP()
	}
	if ip == "" {
		ip = "unknown"
	}

	return "ip:" + ip, ""
}

func setQuotaHeaders(c *gin.Context, decision *ratelimit.Decision) {
	if decision == nil {
		return
	}

	for _, w := range ratelimit.CountingWindows {
		suffix := titleWindow(w)
		c.Header("X-RateLimit-Limit-"+suffix, strconv.FormatInt(decision.Limit(w), 10))
		c.Header("X-RateLimit-Remaining-"+suffix, strconv.FormatInt(decision.Remaining(w), 10))
		c.Header("X-RateLimit-Reset-"+suffix, strconv.FormatInt(decision.ResetAt(w).Unix(), 10))
	}

	c.Header("X-RateLimit-Tier", decision.Tier.String())
}

func titleWindow(w ratelimit.Window) string {
	switch w {
	case ratelimit.WindowMinute:
		return "Minute"
	case ratelimit.WindowHour:
		return "Hour"
	case ratelimit.WindowDay:
		return "Day"
	default:
		return "None"
	}
}
