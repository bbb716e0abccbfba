// Package models defines the core domain models shared by the session
// controller: credential sessions, user profiles, navigation locations,
// app lifecycle states and the store snapshot observed by the guard.
//
// Session keeps its tokens JSON-tagged because it is written to the
// persisted slot. API responses carry SessionView instead, which has no
// credential fields.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the credential bundle issued by the auth backend.
// It is owned by the session store; every other component receives copies.
//
// JSON example (persisted slot only, never an API response):
//
//	{
//	  "access_token": "eyJhbGciOiJIUzI1NiIs...",
//	  "refresh_token": "v1.MnR3...",
//	  "expires_at": "2025-04-22T21:37:38Z",
//	  "user": {"id": "550e8400-e29b-41d4-a716-446655440000", "email": "user@example.com"}
//	}
type Session struct {
	AccessToken  string    `json:"access_token"`  // Bearer token for backend calls
	RefreshToken string    `json:"refresh_token"` // Long-lived token used for silent renewal
	ExpiresAt    time.Time `json:"expires_at"`    // Access token expiry
	User         AuthUser  `json:"user"`          // Identity the tokens were issued for
}

// Expired reports whether the access token is past its expiry, allowing
// for clock skew between device and backend.
func (s *Session) Expired(now time.Time, skew time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.ExpiresAt)
}

// Clone returns a copy safe to hand to readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// AuthUser is the raw identity returned by the backend's user endpoint.
type AuthUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// SessionView is the sanitized projection of a Session for API responses.
type SessionView struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// View strips credentials from the session.
func (s *Session) View() *SessionView {
	if s == nil {
		return nil
	}
	return &SessionView{
		UserID:    s.User.ID,
		Email:     s.User.Email,
		ExpiresAt: s.ExpiresAt,
	}
}

// PersistedSession is the record written to the device's secure slot.
// DeviceInfo is informational and is logged on restore.
type PersistedSession struct {
	Session    Session   `json:"session"`
	DeviceInfo string    `json:"device_info"`
	SavedAt    time.Time `json:"saved_at"`
}
