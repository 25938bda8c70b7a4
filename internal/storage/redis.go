package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Retry policy applied to every command before a failure is surfaced
const (
	DefaultRedisMaxRetries      = 3
	DefaultRedisMinRetryBackoff = 100 * time.Millisecond
	DefaultRedisMaxRetryBackoff = 3 * time.Second
)

type RedisOptions struct {
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultRedisMaxRetries
	}
	if o.MinRetryBackoff == 0 {
		o.MinRetryBackoff = DefaultRedisMinRetryBackoff
	}
	if o.MaxRetryBackoff == 0 {
		o.MaxRetryBackoff = DefaultRedisMaxRetryBackoff
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = time.Second
	}
	return o
}

// RedisClient is the single pooled connection to the counting store.
// It is safe for concurrent use.
type RedisClient struct {
	client *redis.Client
}

// NewRedis parses a redis:// or rediss:// URL, applies the retry policy
// and verifies the connection with PING.
func NewRedis(ctx context.Context, url string, opts RedisOptions) (*RedisClient, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}

	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	opts = opts.withDefaults()
	parsed.MaxRetries = opts.MaxRetries
	parsed.MinRetryBackoff = opts.MinRetryBackoff
	parsed.MaxRetryBackoff = opts.MaxRetryBackoff
	parsed.DialTimeout = opts.DialTimeout
	parsed.ReadTimeout = opts.ReadTimeout
	parsed.WriteTimeout = opts.WriteTimeout
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}

	r := &RedisClient{client: redis.NewClient(parsed)}

	if err := r.Ping(ctx); err != nil {
		_ = r.client.Close()
		return nil, fmt.Errorf("failed to verify redis connection: %w", err)
	}

	return r, nil
}

func (r *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, key, ttl).Result()
}

// TTL returns -1 for a key without expiry and -2 for a missing key, as Redis does
func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

// IncrWithTTL sends INCR and TTL in one pipeline
func (r *RedisClient) IncrWithTTL(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	return incr.Val(), ttl.Val(), nil
}

// Count reads an integer counter, a missing key reads as zero
func (r *RedisClient) Count(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("key %s does not hold a counter: %w", key, err)
	}
	return n, nil
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.client.Del(ctx, keys...).Result()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	res, err := r.client.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if res != "PONG" {
		return fmt.Errorf("unexpected PING response: %s", res)
	}
	return nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
