package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/promptforge/admission-gateway/internal/circuitbreaker"
)

// Decision is the ephemeral result of one admission check. Counts and
// limits ride along so the dispatch layer can populate quota headers.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Tier       Tier          `json:"tier"`
	Category   string        `json:"category"`
	Identifier string        `json:"identifier"`
	LimitType  Window        `json:"limit_type"`
	RetryAfter time.Duration `json:"-"`
	Counts     Counts        `json:"counts"`
	Limits     LimitConfig   `json:"limits"`

	// Degraded marks a decision made without counts because the store
	// was unreachable (fail-open).
	Degraded bool `json:"degraded,omitempty"`

	checkedAt time.Time
}

// Limit returns the configured ceiling for a window.
func (d *Decision) Limit(w Window) int64 {
	switch w {
	case WindowMinute:
		return int64(d.Limits.RequestsPerMinute)
	case WindowHour:
		return int64(d.Limits.RequestsPerHour)
	case WindowDay:
		return int64(d.Limits.RequestsPerDay)
	default:
		return 0
	}
}

// Remaining returns the quota left in a window, never negative.
func (d *Decision) Remaining(w Window) int64 {
	remaining := d.Limit(w) - d.Counts.Get(w)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAt returns the start of the window's next bucket as of the check.
func (d *Decision) ResetAt(w Window) time.Time {
	return w.Next(d.checkedAt)
}

// StatusReport is the read-only quota view served by the admin surface.
type StatusReport struct {
	Tier             Tier               `json:"tier"`
	Category         string             `json:"category"`
	Identifier       string             `json:"identifier"`
	Counts           Counts             `json:"counts"`
	Limits           LimitConfig        `json:"limits"`
	UsagePercentages map[Window]float64 `json:"usage_percentages"`
}

// HealthReport is a point-in-time liveness snapshot of the subsystem.
type HealthReport struct {
	Healthy        bool      `json:"healthy"`
	StoreReachable bool      `json:"store_reachable"`
	BreakerState   string    `json:"breaker_state"`
	Categories     []string  `json:"categories_configured"`
	Tiers          []Tier    `json:"tiers_available"`
	Timestamp      time.Time `json:"timestamp"`
}

// Limiter is the admission decision engine. It is stateless between
// calls except through the counter store, so any number of goroutines
// and instances may call it concurrently.
type Limiter struct {
	registry *Registry
	store    CounterStore
	breaker  *circuitbreaker.CircuitBreaker
	log      *logrus.Logger
	strict   bool
	now      func() time.Time
}

// LimiterOption customizes a Limiter.
type LimiterOption func(*Limiter)

// WithStrictMode makes store unavailability a rejection instead of an
// allow. Default is fail-open: availability over strictness.
func WithStrictMode(strict bool) LimiterOption {
	return func(l *Limiter) {
		l.strict = strict
	}
}

// WithLogger substitutes the logger.
func WithLogger(log *logrus.Logger) LimiterOption {
	return func(l *Limiter) {
		l.log = log
	}
}

// WithBreaker substitutes the store-guarding circuit breaker config.
func WithBreaker(cfg circuitbreaker.Config) LimiterOption {
	return func(l *Limiter) {
		l.breaker = circuitbreaker.New(cfg)
	}
}

// WithClock substitutes the time source. Tests use this to cross
// window boundaries without sleeping.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(registry *Registry, store CounterStore, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		registry: registry,
		store:    store,
		breaker:  circuitbreaker.New(circuitbreaker.Config{}),
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check decides whether one request may proceed, consuming one unit of
// quota in all three windows. The increment happens before the
// comparison and is not rolled back on rejection: a rejected request
// still counts. That keeps the store interaction to one atomic batch
// and is deliberate, so once the day ceiling is hit the minute and hour
// counters keep climbing until they roll over.
//
// On violation Check returns the rejected Decision together with a
// *LimitExceededError. Store failures and internal failures never
// propagate: the request is allowed with unknown counts, unless strict
// mode is on, in which case store failures surface as
// ErrStoreUnavailable.
func (l *Limiter) Check(ctx context.Context, identifier, category string, tier Tier) (decision *Decision, err error) {
	now := l.now()

	// The engine's own malfunction must never take down the serving
	// path. Anything unanticipated degrades to allow.
	defer func() {
		if r := recover(); r != nil {
			l.log.WithFields(logrus.Fields{
				"identifier": identifier,
				"category":   category,
				"panic":      r,
			}).Error("admission check panicked, allowing request")
			decision = l.degradedDecision(identifier, category, tier, now)
			err = nil
		}
	}()

	category, tier = l.normalize(category, tier)
	limits := l.registry.LimitsFor(category, tier)

	var counts Counts
	storeErr := l.breaker.Call(func() error {
		var err error
		counts, err = l.store.IncrementAll(ctx, identifier, category, now)
		return err
	})
	if storeErr != nil {
		if l.strict {
			return nil, ErrStoreUnavailable
		}
		l.log.WithFields(logrus.Fields{
			"identifier": identifier,
			"category":   category,
			"error":      storeErr,
		}).Warn("counter store unavailable, failing open")
		return l.degradedDecision(identifier, category, tier, now), nil
	}

	decision = &Decision{
		Allowed:    true,
		Tier:       tier,
		Category:   category,
		Identifier: identifier,
		LimitType:  WindowNone,
		Counts:     counts,
		Limits:     limits,
		checkedAt:  now,
	}

	// Report the tightest violated window: its rollover is the earliest
	// moment a retry can possibly succeed.
	for _, w := range CountingWindows {
		if counts.Get(w) > decision.Limit(w) {
			decision.Allowed = false
			decision.LimitType = w
			decision.RetryAfter = w.Remaining(now)

			l.log.WithFields(logrus.Fields{
				"identifier":  identifier,
				"category":    category,
				"tier":        tier,
				"limit_type":  w,
				"count":       counts.Get(w),
				"limit":       decision.Limit(w),
				"retry_after": decision.RetryAfter,
			}).Warn("rate limit exceeded")

			return decision, &LimitExceededError{
				Category:   category,
				Identifier: identifier,
				LimitType:  w,
				RetryAfter: decision.RetryAfter,
				Decision:   decision,
			}
		}
	}

	return decision, nil
}

// Status reports current counts without consuming quota. Inspecting a
// caller's quota must never change subsequent Check outcomes, so this
// only ever peeks. Store failures yield zero counts rather than an
// error.
func (l *Limiter) Status(ctx context.Context, identifier, category string, tier Tier) *StatusReport {
	now := l.now()
	category, tier = l.normalize(category, tier)
	limits := l.registry.LimitsFor(category, tier)

	var counts Counts
	storeErr := l.breaker.Call(func() error {
		var err error
		counts, err = l.store.PeekAll(ctx, identifier, category, now)
		return err
	})
	if storeErr != nil {
		l.log.WithFields(logrus.Fields{
			"identifier": identifier,
			"category":   category,
			"error":      storeErr,
		}).Warn("counter store unavailable, reporting zero counts")
	}

	usage := make(map[Window]float64, len(CountingWindows))
	report := &StatusReport{
		Tier:             tier,
		Category:         category,
		Identifier:       identifier,
		Counts:           counts,
		Limits:           limits,
		UsagePercentages: usage,
	}

	limitFor := map[Window]int{
		WindowMinute: limits.RequestsPerMinute,
		WindowHour:   limits.RequestsPerHour,
		WindowDay:    limits.RequestsPerDay,
	}
	for _, w := range CountingWindows {
		if limit := limitFor[w]; limit > 0 {
			usage[w] = float64(counts.Get(w)) / float64(limit) * 100
		}
	}

	return report
}

// Reset wipes every counter for the identifier and category. Meant for
// support interventions. It reports success and never propagates store
// errors.
func (l *Limiter) Reset(ctx context.Context, identifier, category string) bool {
	category, _ = l.normalize(category, DefaultTier)

	deleted, err := l.store.Reset(ctx, identifier, category)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"identifier": identifier,
			"category":   category,
			"error":      err,
		}).Error("failed to reset rate limits")
		return false
	}

	if deleted {
		l.log.WithFields(logrus.Fields{
			"identifier": identifier,
			"category":   category,
		}).Info("rate limits reset")
	}

	return deleted
}

// Health probes the counter store synchronously and snapshots the
// registry. The degraded fail-open condition is visible here and
// nowhere else on the caller-facing path.
func (l *Limiter) Health(ctx context.Context) HealthReport {
	reachable := l.store.Ping(ctx) == nil

	return HealthReport{
		Healthy:        reachable,
		StoreReachable: reachable,
		BreakerState:   l.breaker.State().String(),
		Categories:     l.registry.Categories(),
		Tiers:          Tiers(),
		Timestamp:      l.now().UTC(),
	}
}

// BreakerMetrics exposes the store breaker for diagnostics.
func (l *Limiter) BreakerMetrics() circuitbreaker.Metrics {
	return l.breaker.Metrics()
}

// Registry returns the limiter's configuration registry.
func (l *Limiter) Registry() *Registry {
	return l.registry
}

func (l *Limiter) normalize(category string, tier Tier) (string, Tier) {
	if !l.registry.HasCategory(category) {
		l.log.WithField("category", category).Debug("unknown category, using default limits")
		category = DefaultCategory
	}
	return category, ParseTier(string(tier))
}

func (l *Limiter) degradedDecision(identifier, category string, tier Tier, now time.Time) *Decision {
	return &Decision{
		Allowed:    true,
		Tier:       tier,
		Category:   category,
		Identifier: identifier,
		LimitType:  WindowNone,
		Limits:     l.registry.LimitsFor(category, tier),
		Degraded:   true,
		checkedAt:  now,
	}
}
