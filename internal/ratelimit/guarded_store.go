package ratelimit

import (
	"context"
	"time"

	"github.com/archivist/gateway/internal/circuitbreaker"
)

// GuardedStore routes store calls through a circuit breaker so that an
// unreachable store fails fast with circuitbreaker.ErrCircuitOpen instead
// of paying the client's retry budget on every request. Calls abandoned
// by the caller's context are not held against the store.
type GuardedStore struct {
	next    Store
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuardedStore(next Store, breaker *circuitbreaker.CircuitBreaker) *GuardedStore {
	return &GuardedStore{next: next, breaker: breaker}
}

func (g *GuardedStore) Incr(ctx context.Context, key string) (int64, error) {
	var count int64
	err := g.breaker.CallContext(ctx, func() error {
		var err error
		count, err = g.next.Incr(ctx, key)
		return err
	})
	return count, err
}

func (g *GuardedStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := g.breaker.CallContext(ctx, func() error {
		var err error
		ok, err = g.next.Expire(ctx, key, ttl)
		return err
	})
	return ok, err
}

func (g *GuardedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := g.breaker.CallContext(ctx, func() error {
		var err error
		ttl, err = g.next.TTL(ctx, key)
		return err
	})
	return ttl, err
}

// IncrWithTTL pipelines when the wrapped store can, otherwise it issues
// INCR and TTL separately inside a single breaker call.
func (g *GuardedStore) IncrWithTTL(ctx context.Context, key string) (int64, time.Duration, error) {
	var (
		count int64
		ttl   time.Duration
	)
	err := g.breaker.CallContext(ctx, func() error {
		var err error
		if p, ok := g.next.(IncrTTLStore); ok {
			count, ttl, err = p.IncrWithTTL(ctx, key)
			return err
		}

		if count, err = g.next.Incr(ctx, key); err != nil {
			return err
		}
		ttl, err = g.next.TTL(ctx, key)
		return err
	})
	return count, ttl, err
}

func (g *GuardedStore) Count(ctx context.Context, key string) (int64, error) {
	reader, ok := g.next.(CountReader)
	if !ok {
		return 0, ErrPeekUnsupported
	}

	var count int64
	err := g.breaker.CallContext(ctx, func() error {
		var err error
		count, err = reader.Count(ctx, key)
		return err
	})
	return count, err
}

func (g *GuardedStore) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}
