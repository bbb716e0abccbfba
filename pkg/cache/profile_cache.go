package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/rs/zerolog/log"
)

// ProfileDatabase is the subset of the profile repository the cache fronts.
type ProfileDatabase interface {
	GetProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	InsertProfile(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error)
}

// ProfileCache is a read-through cache over ProfileDatabase. Lookups that
// fail in the database are not cached, so a not-found result is retried on
// the next call.
type ProfileCache struct {
	cache *Cache
	db    ProfileDatabase
	ttl   time.Duration
}

// NewProfileCache creates a new profile cache
func NewProfileCache(cache *Cache, db ProfileDatabase, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		cache: cache,
		db:    db,
		ttl:   ttl,
	}
}

// GetProfileByUserID retrieves a profile by user ID with caching
func (pc *ProfileCache) GetProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	return GetOrSet(ctx, pc.cache, ProfileKey(userID), pc.ttl, func() (*models.UserProfile, error) {
		return pc.db.GetProfileByUserID(ctx, userID)
	})
}

// InsertProfile writes through to the database and caches the stored row.
func (pc *ProfileCache) InsertProfile(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	stored, err := pc.db.InsertProfile(ctx, profile)
	if err != nil {
		return nil, err
	}

	if err := pc.cache.Set(ctx, ProfileKey(stored.UserID), stored, pc.ttl); err != nil {
		log.Warn().Err(err).Str("user_id", stored.UserID.String()).Msg("Failed to cache inserted profile")
	}

	return stored, nil
}

// Invalidate drops the cached profile of a user.
func (pc *ProfileCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return pc.cache.Delete(ctx, ProfileKey(userID))
}
