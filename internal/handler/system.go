package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archivist/gateway/internal/circuitbreaker"
	"github.com/archivist/gateway/internal/healthcheck"
)

type UpstreamStatus interface {
	OverallHealth() healthcheck.HealthStatus
	Upstreams() []healthcheck.Status
	CircuitBreakerMetrics() circuitbreaker.Metrics
}

type EventCounters interface {
	Recorded() int64
	Dropped() int64
}

// Handles system-related admin endpoints
type SystemHandler struct {
	storeBreaker *circuitbreaker.CircuitBreaker
	upstreams    UpstreamStatus
	events       EventCounters
	startedAt    time.Time
}

func NewSystemHandler(storeBreaker *circuitbreaker.CircuitBreaker, upstreams UpstreamStatus, events EventCounters) *SystemHandler {
	return &SystemHandler{
		storeBreaker: storeBreaker,
		upstreams:    upstreams,
		events:       events,
		startedAt:    time.Now(),
	}
}

// Handles GET /admin/status
func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":        "running",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().Unix(),
		"breakers": gin.H{
			"store":    h.storeBreaker.Metrics(),
			"upstream": h.upstreams.CircuitBreakerMetrics(),
		},
		"upstreams": gin.H{
			"health":  h.upstreams.OverallHealth(),
			"targets": h.upstreams.Upstreams(),
		},
		"throttle_events": gin.H{
			"recorded": h.events.Recorded(),
			"dropped":  h.events.Dropped(),
		},
	})
}

// Handles POST /admin/breakers/store/reset
func (h *SystemHandler) ResetStoreBreaker(c *gin.Context) {
	h.storeBreaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"state":   h.storeBreaker.State(),
	})
}
