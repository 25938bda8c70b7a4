package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// memoryStore mimics the Redis counter semantics the limiter depends on.
type memoryStore struct {
	mu      sync.Mutex
	clock   *testClock
	entries map[string]*memoryEntry

	incrCalls   int
	expireCalls int
	ttlCalls    int
}

func newMemoryStore(clock *testClock) *memoryStore {
	return &memoryStore{clock: clock, entries: make(map[string]*memoryEntry)}
}

// Must be called with mu held
func (m *memoryStore) live(key string) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *memoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrCalls++

	e := m.live(key)
	if e == nil {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (m *memoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCalls++

	e := m.live(key)
	if e == nil {
		return false, nil
	}
	e.expiresAt = m.clock.Now().Add(ttl)
	return true, nil
}

func (m *memoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttlCalls++
	return m.ttlLocked(key), nil
}

func (m *memoryStore) ttlLocked(key string) time.Duration {
	e := m.live(key)
	if e == nil {
		return TTLKeyAbsent
	}
	if e.expiresAt.IsZero() {
		return TTLNoExpiry
	}
	return e.expiresAt.Sub(m.clock.Now()).Truncate(time.Second)
}

func (m *memoryStore) Count(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.live(key); e != nil {
		return e.count, nil
	}
	return 0, nil
}

func (m *memoryStore) seed(key string, count int64, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &memoryEntry{count: count}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *memoryStore) counter(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.live(key); e != nil {
		return e.count
	}
	return 0
}

// pipelinedStore adds the single round trip INCR+TTL path.
type pipelinedStore struct {
	*memoryStore
	pipelineCalls int
}

func (p *pipelinedStore) IncrWithTTL(ctx context.Context, key string) (int64, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipelineCalls++

	e := p.live(key)
	if e == nil {
		e = &memoryEntry{}
		p.entries[key] = e
	}
	e.count++
	return e.count, p.ttlLocked(key), nil
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

type failingStore struct {
	calls int
}

func (f *failingStore) Incr(ctx context.Context, key string) (int64, error) {
	f.calls++
	return 0, errStoreDown
}

func (f *failingStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.calls++
	return false, errStoreDown
}

func (f *failingStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	f.calls++
	return 0, errStoreDown
}
