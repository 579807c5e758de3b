package fraud

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores assessments by transaction id for a bounded time.
type Cache interface {
	Get(ctx context.Context, transactionID string) (Assessment, bool)
	Set(ctx context.Context, transactionID string, a Assessment)
}

type runEntry struct {
	assessment Assessment
	expiresAt  time.Time
}

// RunCache is an in-memory cache meant to live for one processing run.
type RunCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]runEntry
}

func NewRunCache(ttl time.Duration, now func() time.Time) *RunCache {
	if now == nil {
		now = time.Now
	}
	return &RunCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]runEntry),
	}
}

func (c *RunCache) Get(_ context.Context, transactionID string) (Assessment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[transactionID]
	if !ok {
		return Assessment{}, false
	}
	if c.ttl > 0 && !c.now().Before(e.expiresAt) {
		delete(c.entries, transactionID)
		return Assessment{}, false
	}
	return e.assessment, true
}

func (c *RunCache) Set(_ context.Context, transactionID string, a Assessment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[transactionID] = runEntry{assessment: a, expiresAt: c.now().Add(c.ttl)}
}

func (c *RunCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares assessments between replicas working on the same run.
// Redis errors degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, prefix: prefix + "fraud:assessment:", ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, transactionID string) (Assessment, bool) {
	raw, err := c.client.Get(ctx, c.prefix+transactionID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("fraud cache read failed", "transaction_id", transactionID, "error", err)
		}
		return Assessment{}, false
	}
	var a Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		c.logger.Warn("fraud cache entry corrupt", "transaction_id", transactionID, "error", err)
		return Assessment{}, false
	}
	return a, true
}

func (c *RedisCache) Set(ctx context.Context, transactionID string, a Assessment) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+transactionID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("fraud cache write failed", "transaction_id", transactionID, "error", err)
	}
}
