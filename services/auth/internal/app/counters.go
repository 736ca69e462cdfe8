package app

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFailureCounter counts failures in redis with a rolling expiry, so the
// count survives restarts and is shared across replicas.
type RedisFailureCounter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisFailureCounter builds a counter over an existing client.
func NewRedisFailureCounter(client *redis.Client, window time.Duration) *RedisFailureCounter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisFailureCounter{client: client, window: window}
}

func (c *RedisFailureCounter) RecordFailure(key string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, c.window).Err(); err != nil {
			return int(count), err
		}
	}
	return int(count), nil
}

// MemoryFailureCounter is the in-process fallback used without redis.
type MemoryFailureCounter struct {
	mu      sync.Mutex
	window  time.Duration
	counts  map[string]int
	expires map[string]time.Time
}

// NewMemoryFailureCounter builds an in-process counter.
func NewMemoryFailureCounter(window time.Duration) *MemoryFailureCounter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &MemoryFailureCounter{
		window:  window,
		counts:  make(map[string]int),
		expires: make(map[string]time.Time),
	}
}

func (c *MemoryFailureCounter) RecordFailure(key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if expiry, ok := c.expires[key]; !ok || now.After(expiry) {
		c.counts[key] = 0
		c.expires[key] = now.Add(c.window)
	}
	c.counts[key]++
	return c.counts[key], nil
}
