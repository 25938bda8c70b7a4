package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultLimit     = 50
	DefaultWindow    = 60 * time.Second
	DefaultKeyPrefix = "rate_limit"
)

type Config struct {
	Limit     int
	Window    time.Duration
	KeyPrefix string

	// Used for reset timestamps; defaults to time.Now
	Now func() time.Time
}

// FixedWindowLimiter counts requests per identity in a window that starts
// with the first request and is reset by store expiry. The TTL is set only
// when a window is created, so later requests never extend it. Rejected
// requests are counted too.
type FixedWindowLimiter struct {
	store     Store
	limit     int
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewFixedWindow(store Store, cfg Config) (*FixedWindowLimiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be a positive integer, got %d", cfg.Limit)
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Window < time.Second || cfg.Window%time.Second != 0 {
		return nil, fmt.Errorf("ratelimit: window must be a whole number of seconds, got %v", cfg.Window)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &FixedWindowLimiter{
		store:     store,
		limit:     cfg.Limit,
		window:    cfg.Window,
		keyPrefix: cfg.KeyPrefix,
		now:       cfg.Now,
	}, nil
}

// Admit counts one request for identity and decides whether it may pass.
// Any store failure is returned wrapped in ErrStoreUnavailable; callers
// are expected to let the request through in that case.
func (f *FixedWindowLimiter) Admit(ctx context.Context, identity string) (Decision, error) {
	key := f.Key(identity)

	count, ttl, err := f.increment(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: increment %s: %w", ErrStoreUnavailable, key, err)
	}

	switch {
	case count == 1:
		if _, err := f.store.Expire(ctx, key, f.window); err != nil {
			return Decision{}, fmt.Errorf("%w: expire %s: %w", ErrStoreUnavailable, key, err)
		}
		// A TTL read right after creation may predate the expiry.
		ttl = f.window
	case ttl == TTLNoExpiry:
		// The expiry of this window never landed. Give it one so the
		// counter cannot outlive the window forever.
		if _, err := f.store.Expire(ctx, key, f.window); err != nil {
			return Decision{}, fmt.Errorf("%w: expire %s: %w", ErrStoreUnavailable, key, err)
		}
	}

	if ttl <= 0 {
		ttl = f.window
	}
	retryAfter := ceilSeconds(ttl)

	remaining := f.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    count <= int64(f.limit),
		Count:      count,
		Limit:      f.limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
		ResetAt:    f.now().Add(retryAfter).Truncate(time.Second),
		Window:     f.window,
	}, nil
}

// Returns the counter and, for pipelined stores, its TTL in one round trip
func (f *FixedWindowLimiter) increment(ctx context.Context, key string) (int64, time.Duration, error) {
	if p, ok := f.store.(IncrTTLStore); ok {
		return p.IncrWithTTL(ctx, key)
	}

	count, err := f.store.Incr(ctx, key)
	if err != nil || count == 1 {
		return count, 0, err
	}

	ttl, err := f.store.TTL(ctx, key)
	return count, ttl, err
}

// Peek reports the current window of identity without counting a request.
func (f *FixedWindowLimiter) Peek(ctx context.Context, identity string) (WindowState, error) {
	reader, ok := f.store.(CountReader)
	if !ok {
		return WindowState{}, ErrPeekUnsupported
	}

	key := f.Key(identity)
	count, err := reader.Count(ctx, key)
	if errors.Is(err, ErrPeekUnsupported) {
		return WindowState{}, err
	}
	if err != nil {
		return WindowState{}, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, key, err)
	}

	ttl, err := f.store.TTL(ctx, key)
	if err != nil {
		return WindowState{}, fmt.Errorf("%w: ttl %s: %w", ErrStoreUnavailable, key, err)
	}

	state := WindowState{
		Key:       key,
		Count:     count,
		Limit:     f.limit,
		Remaining: f.limit,
		Active:    ttl > 0 || ttl == TTLNoExpiry,
	}
	if state.Active {
		state.Remaining = max(0, f.limit-int(count))
	}
	if ttl > 0 {
		state.TTLSeconds = int64(ceilSeconds(ttl) / time.Second)
	}

	return state, nil
}

// Key is the store key holding identity's window record.
func (f *FixedWindowLimiter) Key(identity string) string {
	return f.keyPrefix + ":" + identity
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}

func ceilSeconds(d time.Duration) time.Duration {
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
