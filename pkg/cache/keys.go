package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// Key prefixes. All keys follow "prefix:identifier".
const (
	ProfilePrefix     = "profile:"
	SessionSlotPrefix = "session_slot:"
	RateLimitPrefix   = "ratelimit:"
)

// ProfileKey is the cache key of a user's profile.
//
// Example: "profile:550e8400-e29b-41d4-a716-446655440000"
func ProfileKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s%s", ProfilePrefix, userID.String())
}

// SessionSlotKey is the key of the persisted session for one installation.
//
// Example: "session_slot:ios-4F1A"
func SessionSlotKey(installationID string) string {
	return fmt.Sprintf("%s%s", SessionSlotPrefix, installationID)
}

// RateLimitKey is the counter key for a client and endpoint.
//
// Example: "ratelimit:203.0.113.42:sign_in"
func RateLimitKey(ip, endpoint string) string {
	return fmt.Sprintf("%s%s:%s", RateLimitPrefix, ip, endpoint)
}
