// Package testutil provides fixtures and helpers shared by the test files of
// the session controller, its persistence layers and the control surface.
package testutil

import (
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/models"
)

// TestJWTSecret is a 32-byte HS256 secret for token fixtures.
var TestJWTSecret = []byte("test-secret-key-for-testing-only-32b")

// TestAuthUser creates an identity with a random email.
func TestAuthUser() models.AuthUser {
	return models.AuthUser{
		ID:    uuid.New(),
		Email: strings.ToLower(gofakeit.Email()),
	}
}

// TestSession creates a session valid for one hour for a random user.
func TestSession() *models.Session {
	return TestSessionFor(TestAuthUser())
}

// TestSessionFor creates a session valid for one hour for the given user.
// The access token is a real HS256 JWT signed with TestJWTSecret.
func TestSessionFor(user models.AuthUser) *models.Session {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	return &models.Session{
		AccessToken:  SignAccessToken(user, exp),
		RefreshToken: "refresh-" + gofakeit.LetterN(24),
		ExpiresAt:    exp,
		User:         user,
	}
}

// ExpiredSession creates a session whose access token expired an hour ago.
func ExpiredSession() *models.Session {
	s := TestSession()
	s.ExpiresAt = time.Now().Add(-time.Hour).Truncate(time.Second)
	s.AccessToken = SignAccessToken(s.User, s.ExpiresAt)
	return s
}

// SignAccessToken builds an access token carrying sub, email and exp the way
// the auth backend issues them.
func SignAccessToken(user models.AuthUser, exp time.Time) string {
	return SignAccessTokenWithKey(user, exp, TestJWTSecret)
}

// SignAccessTokenWithKey is SignAccessToken with a caller-chosen HS256 key,
// for tokens the backend never issued.
func SignAccessTokenWithKey(user models.AuthUser, exp time.Time, key []byte) string {
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"exp":   exp.Unix(),
		"iat":   time.Now().Unix(),
		"role":  "authenticated",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		panic(err)
	}
	return signed
}

// TestProfile creates a profile owned by userID.
func TestProfile(userID uuid.UUID) *models.UserProfile {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.UserProfile{
		ID:          uuid.New(),
		UserID:      userID,
		Username:    gofakeit.Username(),
		Preferences: models.DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UserAgents provides common user agent strings for testing
var UserAgents = struct {
	IPhone  string
	Android string
	Desktop string
	Unknown string
}{
	IPhone:  "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	Android: "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
	Desktop: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	Unknown: "",
}
