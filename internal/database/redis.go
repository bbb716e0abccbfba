package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/pkg/cache"
	"github.com/ieraasyl/FitnessShell/pkg/config"
	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSessionSlotEmpty means no session was persisted for the installation.
	ErrSessionSlotEmpty = errors.New("no persisted session")

	// ErrSessionSlotCorrupt means the persisted bytes could not be decoded.
	ErrSessionSlotCorrupt = errors.New("persisted session is corrupt")
)

// RedisDB wraps a Redis client. It stands in for the device's secure storage
// and holds:
//   - the persisted session slot, one per installation
//   - rate-limit counters for the control surface
//
// All keys are built by pkg/cache so they share one naming scheme.
type RedisDB struct {
	client *redis.Client
	cache  *cache.Cache
}

// NewRedisDB creates a new Redis connection, retrying the initial ping with
// exponential backoff while the server comes up.
//
// Example:
//
//	redisDB, err := database.NewRedisDB(&cfg.Redis)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Redis connection failed")
//	}
//	defer redisDB.Close()
func NewRedisDB(cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := utils.Retry(ctx, utils.DatabaseRetryConfig(), func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to ping Redis, retrying...")
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", cfg.Address()).Msg("Successfully connected to Redis")

	return &RedisDB{client: client, cache: cache.NewCache(client)}, nil
}

// Close closes the Redis connection.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client, e.g. to build a cache.Cache
// for profiles.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is alive and responsive.
func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// SaveSession writes the persisted session of an installation. The slot has
// no expiry; it is replaced on every session change and deleted on clear.
//
// Key pattern: "session_slot:{installationID}"
func (r *RedisDB) SaveSession(ctx context.Context, installationID string, ps *models.PersistedSession) error {
	start := time.Now()
	if err := r.cache.Set(ctx, cache.SessionSlotKey(installationID), ps, 0); err != nil {
		recordQuery("redis", "SET", "error", time.Since(start))
		return fmt.Errorf("failed to save session: %w", err)
	}
	recordQuery("redis", "SET", "success", time.Since(start))
	return nil
}

// LoadSession reads the persisted session of an installation.
// Returns ErrSessionSlotEmpty when nothing is stored and ErrSessionSlotCorrupt
// when the payload cannot be decoded or carries no tokens.
func (r *RedisDB) LoadSession(ctx context.Context, installationID string) (*models.PersistedSession, error) {
	var ps models.PersistedSession
	start := time.Now()
	err := r.cache.Get(ctx, cache.SessionSlotKey(installationID), &ps)
	recordQuery("redis", "GET", queryStatus(err), time.Since(start))
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return nil, ErrSessionSlotEmpty
	case errors.Is(err, cache.ErrCorrupt):
		return nil, fmt.Errorf("%w: %v", ErrSessionSlotCorrupt, err)
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if ps.Session.AccessToken == "" || ps.Session.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing tokens", ErrSessionSlotCorrupt)
	}

	return &ps, nil
}

// DeleteSession clears the slot. Deleting an empty slot is not an error.
func (r *RedisDB) DeleteSession(ctx context.Context, installationID string) error {
	start := time.Now()
	if err := r.cache.Delete(ctx, cache.SessionSlotKey(installationID)); err != nil {
		recordQuery("redis", "DEL", "error", time.Since(start))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	recordQuery("redis", "DEL", "success", time.Since(start))
	return nil
}

// IncrementRateLimit increments the counter for an IP+endpoint and starts the
// window on the first request.
//
// Key pattern: "ratelimit:{ip}:{endpoint}"
//
// Example:
//
//	count, err := redisDB.IncrementRateLimit(ctx, "203.0.113.42", "sign_in", time.Minute)
//	if count > 20 {
//	    // reject with 429
//	}
func (r *RedisDB) IncrementRateLimit(ctx context.Context, ip, endpoint string, window time.Duration) (int64, error) {
	key := cache.RateLimitKey(ip, endpoint)

	count, err := r.cache.Increment(ctx, key, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		if err := r.cache.Expire(ctx, key, window); err != nil {
			return count, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	return count, nil
}
