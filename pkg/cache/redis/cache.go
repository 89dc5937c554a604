// Package redis implements the cache on Redis so several bridge processes
// can share one index.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/cache"
	"github.com/pario-ai/meshbridge/pkg/models"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "meshbridge:cache:"

// Cache stores key → asset reference pairs as plain Redis strings without TTL.
type Cache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

var _ cache.Cache = (*Cache)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("redis cache connected", zap.String("addr", opts.Addr), zap.String("prefix", prefix))

	return &Cache{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "cache.redis")),
	}, nil
}

// Get returns the reference stored under key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	ref, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	c.hits.Add(1)
	return ref, true, nil
}

// Put stores ref with SETNX, so the first writer across all processes wins.
func (c *Cache) Put(ctx context.Context, key, ref string) error {
	ok, err := c.client.SetNX(ctx, c.prefix+key, ref, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return nil
	}

	existing, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis get after setnx: %w", err)
	}
	if existing != ref {
		c.logger.Warn("cache key already mapped",
			zap.String("key", key),
			zap.String("existing", existing),
			zap.String("rejected", ref),
		)
		return fmt.Errorf("put %s: %w", key, cache.ErrConflict)
	}
	return nil
}

// Stats counts keys under the prefix with SCAN.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return models.CacheStats{}, fmt.Errorf("redis scan: %w", err)
	}
	return models.CacheStats{
		Backend: "redis",
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
