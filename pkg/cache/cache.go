// Package cache provides a Redis-based caching layer with JSON serialization.
// It backs the persisted session slot, the read-through profile cache and the
// rate-limit counters.
//
// Features:
//   - Automatic JSON serialization/deserialization
//   - TTL-based expiration (zero TTL keeps the key until deleted)
//   - GetOrSet for the cache-aside pattern
//   - Atomic counters (Increment, Expire)
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache stores JSON-encoded values in Redis.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance wrapping a Redis client.
//
// Example:
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := cache.NewCache(redisClient)
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get unmarshals the value at key into target.
// Returns ErrCacheMiss if the key doesn't exist and ErrCorrupt if the stored
// bytes are not valid JSON for target.
//
// Example:
//
//	var profile models.UserProfile
//	err := c.Get(ctx, cache.ProfileKey(userID), &profile)
//	if errors.Is(err, cache.ErrCacheMiss) {
//	    // load from the database
//	}
func (c *Cache) Get(ctx context.Context, key string, target interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		log.Error().Err(err).Str("key", key).Msg("Failed to get from cache")
		return fmt.Errorf("cache get error: %w", err)
	}

	// A stored null decodes to a nil pointer, which callers cannot use.
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return ErrCacheMiss
	}

	if err := json.Unmarshal(data, target); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cached data is corrupt")
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return nil
}

// Set stores value under key. A zero ttl stores the key without expiry.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to set cache")
		return fmt.Errorf("cache set error: %w", err)
	}

	log.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cached data")
	return nil
}

// Delete removes one or more keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Error().Err(err).Strs("keys", keys).Msg("Failed to delete from cache")
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}

	return nil
}

// GetOrSet implements the cache-aside pattern: on a miss (or a corrupt entry)
// it calls loader and caches the result. Cache write failures are logged and
// do not fail the call; loader errors are returned unchanged.
//
// Example:
//
//	profile, err := cache.GetOrSet(ctx, c, cache.ProfileKey(userID), ttl, func() (*models.UserProfile, error) {
//	    return db.GetProfileByUserID(ctx, userID)
//	})
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func() (T, error)) (T, error) {
	var cached T
	err := c.Get(ctx, key, &cached)
	if err == nil {
		log.Debug().Str("key", key).Msg("Cache hit")
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) && !errors.Is(err, ErrCorrupt) {
		log.Warn().Err(err).Str("key", key).Msg("Cache unavailable, loading directly")
	}

	value, err := loader()
	if err != nil {
		var zero T
		return zero, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache loaded data")
	}

	return value, nil
}

// Increment atomically adds delta to the counter at key.
func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	val, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to increment counter")
		return 0, fmt.Errorf("cache increment error: %w", err)
	}
	return val, nil
}

// Expire sets a TTL on an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to set expiration")
		return fmt.Errorf("cache expire error: %w", err)
	}
	return nil
}
