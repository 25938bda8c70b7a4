package ratelimit

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels reported by a Store, matching the Redis TTL replies.
const (
	TTLNoExpiry  time.Duration = -1
	TTLKeyAbsent time.Duration = -2
)

var (
	// ErrStoreUnavailable wraps every failure of the counting store.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrPeekUnsupported is returned when the store cannot read a counter
	// without incrementing it.
	ErrPeekUnsupported = errors.New("rate limit store cannot read counters")
)

// Store is the counting store backing the window records.
// Incr must be atomic across concurrent callers on the same key.
type Store interface {
	// Increments the key, creating it at 1 when absent
	Incr(ctx context.Context, key string) (int64, error)

	// Sets a TTL on an existing key, false when the key is absent
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Remaining time to live, or TTLNoExpiry / TTLKeyAbsent
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// IncrTTLStore is implemented by stores that can increment a key and read
// its TTL in a single round trip.
type IncrTTLStore interface {
	IncrWithTTL(ctx context.Context, key string) (int64, time.Duration, error)
}

// CountReader reads a counter without incrementing it. A missing key
// reads as zero.
type CountReader interface {
	Count(ctx context.Context, key string) (int64, error)
}

// Decision is the outcome of admitting one request.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	Window     time.Duration
}

// RetryAfterSeconds is RetryAfter in whole seconds, as sent in Retry-After.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

// WindowState is a read-only view of an identity's current window.
type WindowState struct {
	Key        string `json:"key"`
	Count      int64  `json:"count"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Active     bool   `json:"active"`
}
