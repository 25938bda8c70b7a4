package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/archivist/gateway/internal/circuitbreaker"
	"github.com/archivist/gateway/internal/config"
	"github.com/archivist/gateway/internal/handler"
	"github.com/archivist/gateway/internal/middleware"
	"github.com/archivist/gateway/internal/proxy"
)

const version = "1.0.0"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Limiter interface {
	middleware.Admitter
	handler.WindowInspector
}

type Recorder interface {
	middleware.EventRecorder
	handler.EventCounters
}

// Dependencies are built and owned by the caller; the server never closes
// them.
type Dependencies struct {
	Redis        Pinger
	Postgres     Pinger
	Limiter      Limiter
	StoreBreaker *circuitbreaker.CircuitBreaker
	Recorder     Recorder
	Proxy        *proxy.Proxy
	Stats        handler.ThrottleStats
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Dependencies
	logger     *zap.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	// The peer address is the only trusted source; X-Forwarded-For is
	// interpreted by the rate limiter itself.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	s := &Server{
		router: router,
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.CORS(s.config.CORSOrigin))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.config.AdminEnabled() {
		throttleHandler := handler.NewThrottleHandler(s.deps.Stats)
		rateLimitHandler := handler.NewRateLimitHandler(s.deps.Limiter)
		systemHandler := handler.NewSystemHandler(s.deps.StoreBreaker, s.deps.Proxy, s.deps.Recorder)

		admin := s.router.Group("/admin")
		admin.Use(middleware.RequireAdmin([]byte(s.config.AdminJWTSecret)))
		{
			admin.GET("/status", systemHandler.Status)
			admin.POST("/breakers/store/reset", systemHandler.ResetStoreBreaker)
			admin.GET("/throttle/summary", throttleHandler.Summary)
			admin.GET("/throttle/events", throttleHandler.Events)
			admin.DELETE("/throttle/events", throttleHandler.Cleanup)
			admin.GET("/ratelimit/:identity", rateLimitHandler.Window)
		}
	} else {
		s.logger.Info("ADMIN_JWT_SECRET not set, admin endpoints disabled")
	}

	api := s.router.Group("/api")
	api.Use(middleware.RateLimit(s.deps.Limiter, s.deps.Recorder, s.logger))
	{
		api.Any("", s.deps.Proxy.Handle)
		api.Any("/*path", s.deps.Proxy.Handle)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	redisHealthy := true
	if err := s.deps.Redis.Ping(ctx); err != nil {
		redisHealthy = false
		s.logger.Warn("redis health check failed", zap.Error(err))
	}

	dbHealthy := true
	if err := s.deps.Postgres.Ping(ctx); err != nil {
		dbHealthy = false
		s.logger.Warn("database health check failed", zap.Error(err))
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "archivist-gateway",
		"version":   version,
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":     redisHealthy,
			"database":  dbHealthy,
			"upstreams": s.deps.Proxy.OverallHealth(),
		},
	})
}

// Run blocks serving HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("starting archivist gateway",
		zap.String("addr", s.httpServer.Addr),
		zap.String("environment", s.config.Environment),
		zap.Int("rate_limit", s.config.RateLimit))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
