package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/FitnessShell/internal/database"
	"github.com/ieraasyl/FitnessShell/pkg/config"
)

// SetupMiniRedis starts an in-memory Redis for one test. The returned
// cleanup stops it early, which tests use to simulate an outage.
func SetupMiniRedis(t *testing.T) (*miniredis.Miniredis, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	return mr, mr.Close
}

// NewTestRedisDB connects a database.RedisDB to mr. It backs the session
// slot and rate-limit counters in tests.
func NewTestRedisDB(t *testing.T, mr *miniredis.Miniredis) *database.RedisDB {
	t.Helper()

	db, err := database.NewRedisDB(&config.RedisConfig{
		Host:     mr.Host(),
		Port:     mr.Port(),
		PoolSize: 5,
	})
	if err != nil {
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}
