package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptforge/admission-gateway/internal/ratelimit"
)

// RateLimitHandler serves the administrative quota surface: inspect,
// reset, and health. Inspection only ever peeks at counters.
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
}

func NewRateLimitHandler(limiter *ratelimit.Limiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// Status returns current counts, limits, and usage percentages for an
// identifier and category without consuming quota.
func (h *RateLimitHandler) Status(c *gin.Context) {
	identifier := c.Query("identifier")
	if identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "identifier query parameter is required",
		})
		return
	}

	category := c.DefaultQuery("category", ratelimit.DefaultCategory)
	tier := ratelimit.ParseTier(c.DefaultQuery("tier", ratelimit.DefaultTier.String()))

	report := h.limiter.Status(c.Request.Context(), identifier, category, tier)
	c.JSON(http.StatusOK, report)
}

type resetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Category   string `json:"category"`
}

// Reset wipes counters for an identifier and category, e.g. for
// support interventions.
func (h *RateLimitHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if req.Category == "" {
		req.Category = ratelimit.DefaultCategory
	}

	deleted := h.limiter.Reset(c.Request.Context(), req.Identifier, req.Category)

	c.JSON(http.StatusOK, gin.H{
		"reset":      deleted,
		"identifier": req.Identifier,
		"category":   req.Category,
	})
}

// Health reports store reachability, breaker state, and the registry
// snapshot.
func (h *RateLimitHandler) Health(c *gin.Context) {
	report := h.limiter.Health(c.Request.Context())

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, report)
}
