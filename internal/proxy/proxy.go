package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/archivist/gateway/internal/circuitbreaker"
	"github.com/archivist/gateway/internal/healthcheck"
	"github.com/archivist/gateway/internal/loadbalancer"
	"github.com/archivist/gateway/internal/middleware"
)

var errUpstreamFailed = errors.New("upstream returned a server error")

type forwardedKey struct{}

type forwarded struct {
	identity  string
	requestID string
}

// Proxy forwards admitted requests to the API upstreams.
type Proxy struct {
	proxies  map[string]*httputil.ReverseProxy
	breaker  *circuitbreaker.CircuitBreaker
	balancer loadbalancer.Strategy
	checker  *healthcheck.Checker
	logger   *zap.Logger
}

type Config struct {
	Targets        []string
	Strategy       string
	CircuitBreaker circuitbreaker.Config
	HealthCheck    healthcheck.Config
}

func New(cfg Config, logger *zap.Logger) (*Proxy, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one upstream target is required")
	}

	balancer, err := loadbalancer.NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	logger = logger.Named("proxy")
	proxies := make(map[string]*httputil.ReverseProxy, len(cfg.Targets))
	for _, raw := range cfg.Targets {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream target %q", raw)
		}
		proxies[raw] = newReverseProxy(target, logger)
	}

	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = "upstream"
	}
	cfg.HealthCheck.Targets = cfg.Targets

	p := &Proxy{
		proxies:  proxies,
		breaker:  circuitbreaker.New(cfg.CircuitBreaker),
		balancer: balancer,
		checker:  healthcheck.NewChecker(cfg.HealthCheck, logger),
		logger:   logger,
	}

	logger.Info("proxy initialized",
		zap.Strings("targets", cfg.Targets),
		zap.String("strategy", balancer.Name()))
	return p, nil
}

func newReverseProxy(target *url.URL, logger *zap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Header.Set("X-Forwarded-Host", pr.In.Host)
			if pr.In.TLS != nil {
				pr.Out.Header.Set("X-Forwarded-Proto", "https")
			} else {
				pr.Out.Header.Set("X-Forwarded-Proto", "http")
			}

			// Upstreams see the same client address the limiter counted.
			if fwd, ok := pr.In.Context().Value(forwardedKey{}).(forwarded); ok {
				pr.Out.Header.Set("X-Forwarded-For", fwd.identity)
				if fwd.requestID != "" {
					pr.Out.Header.Set(middleware.RequestIDHeader, fwd.requestID)
				}
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed",
				zap.String("target", target.String()),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"Bad Gateway"}`))
		},
	}
}

// Start begins background health probes.
func (p *Proxy) Start() {
	p.checker.Start()
}

func (p *Proxy) Stop() {
	p.checker.Stop()
}

// Handle forwards the request to a healthy upstream chosen by the balancer.
func (p *Proxy) Handle(c *gin.Context) {
	healthy := p.checker.HealthyTargets()
	if len(healthy) == 0 {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy upstream available",
		})
		return
	}

	selected := p.balancer.Next(healthy)
	rp, ok := p.proxies[selected]
	if !ok {
		p.logger.Error("balancer returned unknown target", zap.String("target", selected))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy upstream available",
		})
		return
	}

	if tracker, ok := p.balancer.(loadbalancer.ConnectionTracker); ok {
		tracker.Acquire(selected)
		defer tracker.Release(selected)
	}

	ctx := context.WithValue(c.Request.Context(), forwardedKey{}, forwarded{
		identity:  middleware.RequestIdentity(c),
		requestID: c.GetString("request_id"),
	})
	req := c.Request.WithContext(ctx)

	err := p.breaker.CallContext(ctx, func() error {
		rec := &statusRecorder{ResponseWriter: c.Writer, status: http.StatusOK}
		rp.ServeHTTP(rec, req)
		if rec.status >= http.StatusInternalServerError {
			return errUpstreamFailed
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
	}
}

func (p *Proxy) OverallHealth() healthcheck.HealthStatus {
	return p.checker.OverallHealth()
}

func (p *Proxy) Upstreams() []healthcheck.Status {
	return p.checker.Statuses()
}

func (p *Proxy) CircuitBreakerMetrics() circuitbreaker.Metrics {
	return p.breaker.Metrics()
}

// CheckNow runs one probe round synchronously.
func (p *Proxy) CheckNow(ctx context.Context) {
	p.checker.CheckNow(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
