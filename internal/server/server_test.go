package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivist/gateway/internal/circuitbreaker"
	"github.com/archivist/gateway/internal/config"
	"github.com/archivist/gateway/internal/models"
	"github.com/archivist/gateway/internal/proxy"
	"github.com/archivist/gateway/internal/ratelimit"
	"github.com/archivist/gateway/internal/service"
	"github.com/archivist/gateway/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type memoryRecorder struct {
	mu     sync.Mutex
	events []models.ThrottleEvent
}

func (m *memoryRecorder) Record(event models.ThrottleEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memoryRecorder) Recorded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events))
}

func (m *memoryRecorder) Dropped() int64 { return 0 }

type noStats struct{}

func (noStats) Summary(ctx context.Context, from, to time.Time) (*service.ThrottleSummary, error) {
	return &service.ThrottleSummary{From: from, To: to}, nil
}

func (noStats) Events(ctx context.Context, q service.EventQuery) ([]models.ThrottleEvent, error) {
	return []models.ThrottleEvent{}, nil
}

func (noStats) Cleanup(ctx context.Context, retentionDays int) (int64, error) { return 0, nil }

type fixture struct {
	router   *gin.Engine
	redis    *miniredis.Miniredis
	recorder *memoryRecorder
	breaker  *circuitbreaker.CircuitBreaker
}

func newFixture(t *testing.T, adminSecret string, postgres pinger) *fixture {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `","xff":"` + r.Header.Get("X-Forwarded-For") + `"}`))
	}))
	t.Cleanup(upstream.Close)

	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(context.Background(), "redis://"+mr.Addr(), storage.RedisOptions{MaxRetries: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "redis", MaxFailures: 2, Timeout: time.Minute})
	limiter, err := ratelimit.NewFixedWindow(ratelimit.NewGuardedStore(client, breaker), ratelimit.Config{Limit: 2})
	require.NoError(t, err)

	p, err := proxy.New(proxy.Config{Targets: []string{upstream.URL}}, zap.NewNop())
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:    config.EnvTest,
		Port:           "0",
		CORSOrigin:     "*",
		RateLimit:      2,
		AdminJWTSecret: adminSecret,
	}
	recorder := &memoryRecorder{}
	srv, err := New(cfg, Dependencies{
		Redis:        client,
		Postgres:     postgres,
		Limiter:      limiter,
		StoreBreaker: breaker,
		Recorder:     recorder,
		Proxy:        p,
		Stats:        noStats{},
	}, zap.NewNop())
	require.NoError(t, err)

	return &fixture{router: srv.Router(), redis: mr, recorder: recorder, breaker: breaker}
}

func (f *fixture) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:51000"
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T) http.Header {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestAPIIsRateLimitedAndProxied(t *testing.T) {
	f := newFixture(t, "", pinger{})

	w := f.do(http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path":"/api/categories","xff":"203.0.113.7"}`, w.Body.String())
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.do(http.MethodPost, "/api/reviews", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/days", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, int64(1), f.recorder.Recorded())
}

func TestAPIFailsOpenWhenStoreIsDown(t *testing.T) {
	f := newFixture(t, "", pinger{})
	f.redis.SetError("ERR simulated outage")

	for i := 0; i < 5; i++ {
		w := f.do(http.MethodGet, "/api/days", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, circuitbreaker.StateOpen, f.breaker.State())
	assert.Equal(t, int64(5), f.recorder.Recorded())
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "", pinger{})
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	// /health is not rate limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)
	}

	f = newFixture(t, "", pinger{err: errors.New("connection refused")})
	w = f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":false`)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, "", pinger{})
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/admin/status", nil).Code)

	f = newFixture(t, testSecret, pinger{})
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/status", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/admin/status", adminToken(t)).Code)

	f.do(http.MethodGet, "/api/days", nil)
	w := f.do(http.MethodGet, "/admin/ratelimit/203.0.113.7", adminToken(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"remaining":1`)

	// inspecting does not count
	v, err := f.redis.Get("rate_limit:203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/admin/throttle/summary", adminToken(t)).Code)
}
