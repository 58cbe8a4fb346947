package ratelimit

import (
	"sort"
	"strings"
)

// DefaultCategory is the category used for any path or category name
// that isn't explicitly mapped. Inference limits are the strictest
// general-purpose limits, so unmapped traffic degrades safely.
const DefaultCategory = "inference"

// LimitConfig holds the ceilings for one (category, tier) pair.
// BurstLimit is carried for configuration and status output but is not
// separately enforced by the counting algorithm.
type LimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day"`
	BurstLimit        int `json:"burst_limit"`
}

// Registry is the single canonical lookup table for limits, endpoint
// classification, and bypass rules. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	limits         map[string]map[Tier]LimitConfig
	routes         map[string]string // exact path -> category
	routePrefixes  []routePrefix     // ordered prefix -> category
	bypassPaths    map[string]struct{}
	bypassPrefixes []string
}

type routePrefix struct {
	prefix   string
	category string
}

// Option customizes a Registry during construction.
type Option func(*Registry)

// WithLimits replaces the limits for one (category, tier) pair.
func WithLimits(category string, tier Tier, cfg LimitConfig) Option {
	return func(r *Registry) {
		if r.limits[category] == nil {
			r.limits[category] = make(map[Tier]LimitConfig)
		}
		r.limits[category][tier] = cfg
	}
}

// WithRoute maps an exact request path to a category.
func WithRoute(path, category string) Option {
	return func(r *Registry) {
		r.routes[path] = category
	}
}

// WithBypass adds exact paths that skip admission control entirely.
func WithBypass(paths ...string) Option {
	return func(r *Registry) {
		for _, p := range paths {
			r.bypassPaths[p] = struct{}{}
		}
	}
}

// WithBypassPrefix adds path prefixes that skip admission control.
func WithBypassPrefix(prefixes ...string) Option {
	return func(r *Registry) {
		r.bypassPrefixes = append(r.bypassPrefixes, prefixes...)
	}
}

// NewRegistry builds a registry from the built-in limit table, the
// built-in route and bypass tables, and any overrides.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		limits:      defaultLimits(),
		routes:      defaultRoutes(),
		bypassPaths: make(map[string]struct{}),
	}

	for _, p := range defaultBypassPaths {
		r.bypassPaths[p] = struct{}{}
	}
	r.bypassPrefixes = append(r.bypassPrefixes, defaultBypassPrefixes...)

	for _, opt := range opts {
		opt(r)
	}

	// Prefix matching checks route table entries in a stable order.
	for path, category := range r.routes {
		r.routePrefixes = append(r.routePrefixes, routePrefix{prefix: path, category: category})
	}
	sort.Slice(r.routePrefixes, func(i, j int) bool {
		// Longest prefix first so /api/v1/auth wins over /api/v1
		if len(r.routePrefixes[i].prefix) != len(r.routePrefixes[j].prefix) {
			return len(r.routePrefixes[i].prefix) > len(r.routePrefixes[j].prefix)
		}
		return r.routePrefixes[i].prefix < r.routePrefixes[j].prefix
	})

	return r
}

// LimitsFor returns the configured limits for a category and tier.
// Unknown categories fall back to DefaultCategory, unknown tiers to
// DefaultTier. It never fails.
func (r *Registry) LimitsFor(category string, tier Tier) LimitConfig {
	tiers, ok := r.limits[category]
	if !ok {
		tiers = r.limits[DefaultCategory]
	}

	cfg, ok := tiers[tier]
	if !ok {
		cfg = tiers[DefaultTier]
	}

	return cfg
}

// Classify maps a request path to a category: exact match first, then
// first (longest) prefix match, then DefaultCategory.
func (r *Registry) Classify(path string) string {
	if category, ok := r.routes[path]; ok {
		return category
	}

	for _, rp := range r.routePrefixes {
		if strings.HasPrefix(path, rp.prefix) {
			return rp.category
		}
	}

	return DefaultCategory
}

// IsBypassed reports whether a path skips admission control.
func (r *Registry) IsBypassed(path string) bool {
	if _, ok := r.bypassPaths[path]; ok {
		return true
	}

	for _, prefix := range r.bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// Categories returns the configured category names, sorted.
func (r *Registry) Categories() []string {
	categories := make([]string, 0, len(r.limits))
	for category := range r.limits {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// HasCategory reports whether the category has its own limit table.
func (r *Registry) HasCategory(category string) bool {
	_, ok := r.limits[category]
	return ok
}

func defaultLimits() map[string]map[Tier]LimitConfig {
	return map[string]map[Tier]LimitConfig{
		// Inference calls hit the upstream model and are the most
		// expensive, so they get the tightest ceilings.
		"inference": {
			TierFree:       {RequestsPerMinute: 5, RequestsPerHour: 50, RequestsPerDay: 200, BurstLimit: 3},
			TierBasic:      {RequestsPerMinute: 15, RequestsPerHour: 200, RequestsPerDay: 1000, BurstLimit: 5},
			TierPremium:    {RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 5000, BurstLimit: 10},
			TierEnterprise: {RequestsPerMinute: 200, RequestsPerHour: 5000, RequestsPerDay: 25000, BurstLimit: 20},
		},
		"auth": {
			TierFree:       {RequestsPerMinute: 5, RequestsPerHour: 20, RequestsPerDay: 100, BurstLimit: 3},
			TierBasic:      {RequestsPerMinute: 10, RequestsPerHour: 50, RequestsPerDay: 200, BurstLimit: 5},
			TierPremium:    {RequestsPerMinute: 20, RequestsPerHour: 100, RequestsPerDay: 500, BurstLimit: 10},
			TierEnterprise: {RequestsPerMinute: 50, RequestsPerHour: 300, RequestsPerDay: 1000, BurstLimit: 20},
		},
		"prompt_history": {
			TierFree:       {RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 500, BurstLimit: 5},
			TierBasic:      {RequestsPerMinute: 30, RequestsPerHour: 300, RequestsPerDay: 1500, BurstLimit: 10},
			TierPremium:    {RequestsPerMinute: 100, RequestsPerHour: 1000, RequestsPerDay: 5000, BurstLimit: 20},
			TierEnterprise: {RequestsPerMinute: 300, RequestsPerHour: 3000, RequestsPerDay: 15000, BurstLimit: 50},
		},
		"feedback": {
			TierFree:       {RequestsPerMinute: 20, RequestsPerHour: 200, RequestsPerDay: 1000, BurstLimit: 10},
			TierBasic:      {RequestsPerMinute: 60, RequestsPerHour: 600, RequestsPerDay: 3000, BurstLimit: 20},
			TierPremium:    {RequestsPerMinute: 200, RequestsPerHour: 2000, RequestsPerDay: 10000, BurstLimit: 50},
			TierEnterprise: {RequestsPerMinute: 500, RequestsPerHour: 5000, RequestsPerDay: 25000, BurstLimit: 100},
		},
		"cache": {
			TierFree:       {RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 500, BurstLimit: 5},
			TierBasic:      {RequestsPerMinute: 30, RequestsPerHour: 300, RequestsPerDay: 1500, BurstLimit: 10},
			TierPremium:    {RequestsPerMinute: 100, RequestsPerHour: 1000, RequestsPerDay: 5000, BurstLimit: 20},
			TierEnterprise: {RequestsPerMinute: 300, RequestsPerHour: 3000, RequestsPerDay: 15000, BurstLimit: 50},
		},
	}
}

func defaultRoutes() map[string]string {
	return map[string]string{
		"/api/v1/optimize-prompt": "inference",
		"/api/v1/auth/signup":     "auth",
		"/api/v1/auth/login":      "auth",
		"/api/v1/auth/logout":     "auth",
		"/api/v1/auth/refresh":    "auth",
		"/api/v1/auth/profile":    "auth",
		"/api/v1/auth/validate":   "auth",
		"/api/v1/prompt-history":  "prompt_history",
		"/api/v1/feedback":        "feedback",
		"/api/v1/cache/stats":     "cache",
		"/api/v1/cache/clear":     "cache",
	}
}

var defaultBypassPaths = []string{
	"/health",
	"/docs",
	"/redoc",
	"/openapi.json",
	"/static",
}

var defaultBypassPrefixes = []string{
	"/static/",
	"/docs/",
	"/redoc/",
}
