package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/archivist/gateway/internal/circuitbreaker"
	"github.com/archivist/gateway/internal/events"
	"github.com/archivist/gateway/internal/proxy"
	"github.com/archivist/gateway/internal/ratelimit"
	"github.com/archivist/gateway/internal/repository"
	"github.com/archivist/gateway/internal/server"
	"github.com/archivist/gateway/internal/service"
	"github.com/archivist/gateway/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway HTTP server.

Requests under /api are rate limited per client IP and forwarded to the
configured upstreams. SIGINT or SIGTERM triggers a graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), !skipMigrate)
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not migrate the throttle event table on startup")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	cfg, logger := a.config, a.logger
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redis, err := storage.NewRedis(ctx, cfg.RedisURL, storage.RedisOptions{})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redis.Close()
	logger.Info("connected to redis")

	postgres, err := storage.NewPostgres(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer postgres.Close()
	if err := postgres.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	if migrate {
		if err := postgres.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	logger.Info("connected to database")

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name: "redis",
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	limiter, err := ratelimit.NewFixedWindow(ratelimit.NewGuardedStore(redis, breaker), ratelimit.Config{
		Limit:     cfg.RateLimit,
		KeyPrefix: cfg.RateLimitKeyPrefix,
	})
	if err != nil {
		return err
	}

	eventRepo := repository.NewThrottleEventRepository(postgres)
	recorder := events.NewRecorder(eventRepo, cfg.EventBufferSize, logger)
	recorder.Start()

	upstreams, err := proxy.New(proxy.Config{
		Targets:  cfg.Upstream.Targets,
		Strategy: cfg.Upstream.Strategy,
	}, logger)
	if err != nil {
		return err
	}
	upstreams.Start()

	srv, err := server.New(cfg, server.Dependencies{
		Redis:        redis,
		Postgres:     postgres,
		Limiter:      limiter,
		StoreBreaker: breaker,
		Recorder:     recorder,
		Proxy:        upstreams,
		Stats:        service.NewThrottleStatsService(eventRepo),
	}, logger)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Run()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("server stopped unexpectedly", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	upstreams.Stop()
	if err := recorder.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush throttle events: %w", err))
	}

	logger.Info("gateway stopped",
		zap.Int64("throttle_events_recorded", recorder.Recorded()),
		zap.Int64("throttle_events_dropped", recorder.Dropped()))

	if runErr != nil {
		errs = append(errs, runErr)
	}
	return errors.Join(errs...)
}
