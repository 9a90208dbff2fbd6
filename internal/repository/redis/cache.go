// Package redis provides a Redis backed cache of solved plans.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

var _ repository.PlanCache = (*Cache)(nil)

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client  redis.UniversalClient
	planTTL time.Duration
	logger  *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	return NewCacheWithClient(client, cfg.PlanTTL, logger), nil
}

// NewCacheWithClient wraps an existing client.
func NewCacheWithClient(client redis.UniversalClient, planTTL time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		client:  client,
		planTTL: planTTL,
		logger:  logger.With(zap.String("component", "plan-cache")),
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal(val, dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a key from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// DeletePattern removes all keys matching a pattern.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("Failed to delete key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	return iter.Err()
}

func planKey(fingerprint string) string {
	return fmt.Sprintf("plan:%s", fingerprint)
}

// GetPlan returns the plan cached for an instance fingerprint.
func (c *Cache) GetPlan(ctx context.Context, fingerprint string) (*domain.PlanRecord, error) {
	var p domain.PlanRecord
	if err := c.Get(ctx, planKey(fingerprint), &p); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	c.logger.Debug("Plan cache hit", zap.String("fingerprint", fingerprint), zap.String("plan_id", p.ID))
	return &p, nil
}

// SetPlan caches the plan of an instance fingerprint.
func (c *Cache) SetPlan(ctx context.Context, fingerprint string, p *domain.PlanRecord) error {
	return c.Set(ctx, planKey(fingerprint), p, c.planTTL)
}

// InvalidatePlans drops every cached plan, for instance after an inventory change.
func (c *Cache) InvalidatePlans(ctx context.Context) error {
	return c.DeletePattern(ctx, planKey("*"))
}
