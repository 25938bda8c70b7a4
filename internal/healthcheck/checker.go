package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Targets     []string
	Endpoint    string        // default "/health"
	Interval    time.Duration // default 10s
	Timeout     time.Duration // default 5s
	MaxFailures int           // consecutive failures before unhealthy, default 3
	Client      *http.Client
}

// Checker probes every upstream on an interval. Targets start out healthy
// and are taken out of rotation after MaxFailures consecutive failed probes.
type Checker struct {
	mu      sync.RWMutex
	targets []string
	status  map[string]*Status
	healthy []string

	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	client      *http.Client
	logger      *zap.Logger

	start sync.Once
	stop  sync.Once
	quit  chan struct{}
	done  chan struct{}
}

func NewChecker(cfg Config, logger *zap.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	c := &Checker{
		targets:     slices.Clone(cfg.Targets),
		status:      make(map[string]*Status, len(cfg.Targets)),
		healthy:     slices.Clone(cfg.Targets),
		endpoint:    cfg.Endpoint,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		client:      cfg.Client,
		logger:      logger.Named("healthcheck"),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, target := range cfg.Targets {
		c.status[target] = &Status{Target: target, Healthy: true}
	}
	return c
}

// Start runs one probe round in the background, then one per interval.
func (c *Checker) Start() {
	c.start.Do(func() {
		c.logger.Info("starting upstream health checks",
			zap.Int("targets", len(c.targets)),
			zap.Duration("interval", c.interval))
		go c.run()
	})
}

func (c *Checker) Stop() {
	c.stop.Do(func() { close(c.quit) })
	c.start.Do(func() { close(c.done) })
	<-c.done
}

func (c *Checker) run() {
	defer close(c.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.CheckNow(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.CheckNow(ctx)
		case <-c.quit:
			return
		}
	}
}

// CheckNow probes all targets concurrently and refreshes the healthy set.
func (c *Checker) CheckNow(ctx context.Context) {
	var g errgroup.Group
	for _, target := range c.targets {
		g.Go(func() error {
			if err := c.probe(ctx, target); err != nil {
				c.recordFailure(target, err)
			} else {
				c.recordSuccess(target)
			}
			return nil
		})
	}
	_ = g.Wait()
	c.updateHealthy()
}

func (c *Checker) probe(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Checker) recordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	s := c.status[target]
	s.LastCheck = now
	s.LastSuccess = now
	s.FailureCount = 0
	s.LastError = ""

	if !s.Healthy {
		s.Healthy = true
		c.logger.Info("upstream recovered", zap.String("target", target))
	}
}

func (c *Checker) recordFailure(target string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	s := c.status[target]
	s.LastCheck = now
	s.LastFailure = now
	s.FailureCount++
	s.LastError = err.Error()

	if s.Healthy && s.FailureCount >= c.maxFailures {
		s.Healthy = false
		c.logger.Warn("upstream marked unhealthy",
			zap.String("target", target),
			zap.Int("failures", s.FailureCount),
			zap.Error(err))
	}
}

func (c *Checker) updateHealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.status[target].Healthy {
			healthy = append(healthy, target)
		}
	}
	c.healthy = healthy
}

func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.healthy)
}

func (c *Checker) Targets() []string {
	return slices.Clone(c.targets)
}

// Statuses returns a copy of every target's status in configuration order.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.targets))
	for _, target := range c.targets {
		out = append(out, *c.status[target])
	}
	return out
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case len(c.healthy) == 0:
		return Unhealthy
	case len(c.healthy) < len(c.targets):
		return Degraded
	default:
		return Healthy
	}
}
