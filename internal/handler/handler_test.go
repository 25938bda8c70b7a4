package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist/gateway/internal/circuitbreaker"
	"github.com/archivist/gateway/internal/healthcheck"
	"github.com/archivist/gateway/internal/models"
	"github.com/archivist/gateway/internal/ratelimit"
	"github.com/archivist/gateway/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStats struct {
	query     service.EventQuery
	from, to  time.Time
	retention int
	err       error
}

func (f *fakeStats) Summary(ctx context.Context, from, to time.Time) (*service.ThrottleSummary, error) {
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	return &service.ThrottleSummary{From: from, To: to, Rejected: 4}, nil
}

func (f *fakeStats) Events(ctx context.Context, q service.EventQuery) ([]models.ThrottleEvent, error) {
	f.query = q
	if q.Outcome == "admitted" {
		return nil, service.ErrInvalidOutcome
	}
	return []models.ThrottleEvent{{Identity: "9.9.9.9", Outcome: models.OutcomeRejected}}, f.err
}

func (f *fakeStats) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	f.retention = retentionDays
	return 12, f.err
}

func serve(router http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func throttleRouter(stats ThrottleStats) *gin.Engine {
	h := NewThrottleHandler(stats)
	router := gin.New()
	router.GET("/admin/throttle/summary", h.Summary)
	router.GET("/admin/throttle/events", h.Events)
	router.DELETE("/admin/throttle/events", h.Cleanup)
	return router
}

func TestThrottleSummary(t *testing.T) {
	stats := &fakeStats{}
	router := throttleRouter(stats)

	w := serve(router, http.MethodGet, "/admin/throttle/summary?from=2026-03-01T00:00:00Z&to=1772409600")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), stats.from.UTC())
	assert.Equal(t, int64(1772409600), stats.to.Unix())

	var body service.ThrottleSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(4), body.Rejected)

	w = serve(router, http.MethodGet, "/admin/throttle/summary?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, http.MethodGet, "/admin/throttle/summary?from=2000&to=1000")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stats.err = errors.New("db down")
	w = serve(router, http.MethodGet, "/admin/throttle/summary")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestThrottleEvents(t *testing.T) {
	stats := &fakeStats{}
	router := throttleRouter(stats)

	w := serve(router, http.MethodGet, "/admin/throttle/events?identity=9.9.9.9&outcome=rejected&limit=5000&offset=20")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9.9.9.9", stats.query.Identity)
	assert.Equal(t, models.OutcomeRejected, stats.query.Outcome)
	assert.Equal(t, 100, stats.query.Limit)
	assert.Equal(t, 20, stats.query.Offset)
	assert.Contains(t, w.Body.String(), `"identity":"9.9.9.9"`)

	w = serve(router, http.MethodGet, "/admin/throttle/events?outcome=admitted")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThrottleCleanup(t *testing.T) {
	stats := &fakeStats{}
	router := throttleRouter(stats)

	w := serve(router, http.MethodDelete, "/admin/throttle/events")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultRetentionDays, stats.retention)
	assert.JSONEq(t, `{"deleted":12,"before_days":30}`, w.Body.String())

	w = serve(router, http.MethodDelete, "/admin/throttle/events?before_days=7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, stats.retention)

	w = serve(router, http.MethodDelete, "/admin/throttle/events?before_days=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeInspector struct {
	state ratelimit.WindowState
	err   error
}

func (f *fakeInspector) Peek(ctx context.Context, identity string) (ratelimit.WindowState, error) {
	return f.state, f.err
}

func TestRateLimitWindow(t *testing.T) {
	inspector := &fakeInspector{state: ratelimit.WindowState{
		Key: "rate_limit:9.9.9.9", Count: 3, Limit: 50, Remaining: 47, TTLSeconds: 42, Active: true,
	}}
	router := gin.New()
	router.GET("/admin/ratelimit/:identity", NewRateLimitHandler(inspector).Window)

	w := serve(router, http.MethodGet, "/admin/ratelimit/9.9.9.9")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"identity": "9.9.9.9",
		"window": {"key":"rate_limit:9.9.9.9","count":3,"limit":50,"remaining":47,"ttl_seconds":42,"active":true}
	}`, w.Body.String())

	inspector.err = fmt.Errorf("%w: read: connection refused", ratelimit.ErrStoreUnavailable)
	w = serve(router, http.MethodGet, "/admin/ratelimit/9.9.9.9")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	inspector.err = ratelimit.ErrPeekUnsupported
	w = serve(router, http.MethodGet, "/admin/ratelimit/9.9.9.9")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

type fakeUpstreams struct{}

func (fakeUpstreams) OverallHealth() healthcheck.HealthStatus { return healthcheck.Degraded }

func (fakeUpstreams) Upstreams() []healthcheck.Status {
	return []healthcheck.Status{{Target: "http://api-1:3001", Healthy: true}}
}

func (fakeUpstreams) CircuitBreakerMetrics() circuitbreaker.Metrics {
	return circuitbreaker.Metrics{Name: "upstream"}
}

type fakeCounters struct{}

func (fakeCounters) Recorded() int64 { return 9 }
func (fakeCounters) Dropped() int64  { return 1 }

func TestSystemStatusAndReset(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "redis", MaxFailures: 1})
	_ = breaker.Call(func() error { return errors.New("down") })
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	h := NewSystemHandler(breaker, fakeUpstreams{}, fakeCounters{})
	router := gin.New()
	router.GET("/admin/status", h.Status)
	router.POST("/admin/breakers/store/reset", h.ResetStoreBreaker)

	w := serve(router, http.MethodGet, "/admin/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Breakers struct {
			Store circuitbreaker.Metrics `json:"store"`
		} `json:"breakers"`
		Upstreams struct {
			Health string `json:"health"`
		} `json:"upstreams"`
		ThrottleEvents map[string]int64 `json:"throttle_events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "redis", body.Breakers.Store.Name)
	assert.Equal(t, "degraded", body.Upstreams.Health)
	assert.Equal(t, map[string]int64{"recorded": 9, "dropped": 1}, body.ThrottleEvents)

	w = serve(router, http.MethodPost, "/admin/breakers/store/reset")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.Contains(t, w.Body.String(), `"state":"closed"`)
}
