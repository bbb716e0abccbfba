package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/models"
)

// AccessClaims are the claims the backend puts into access tokens.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenInspector reads access tokens locally. With a secret it verifies the
// HS256 signature; without one it only decodes the claims, leaving
// authenticity to the backend's user endpoint.
type TokenInspector struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time
}

// NewTokenInspector creates an inspector. skew is subtracted from token
// lifetimes so a token about to expire is treated as expired.
func NewTokenInspector(secret []byte, skew time.Duration) *TokenInspector {
	return &TokenInspector{
		secret: secret,
		skew:   skew,
		now:    time.Now,
	}
}

// VerifiesSignature reports whether Parse checks the token signature.
// When it does not, sessions from untrusted sources must be confirmed with
// the backend.
func (ti *TokenInspector) VerifiesSignature() bool {
	return len(ti.secret) > 0
}

// Parse decodes an access token and returns its claims.
func (ti *TokenInspector) Parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	if len(ti.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("malformed access token: %w", err)
		}
		return claims, nil
	}

	// Expiry is judged by CheckExpiry with the configured skew.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	return claims, nil
}

// SessionFromToken builds a Session from a freshly issued token pair. The
// identity and expiry come from the access token's claims; expiresAt is used
// when the token carries no exp.
func (ti *TokenInspector) SessionFromToken(accessToken, refreshToken string, expiresAt time.Time) (*models.Session, error) {
	claims, err := ti.Parse(accessToken)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("access token subject is not a user id: %w", err)
	}

	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &models.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User: models.AuthUser{
			ID:    userID,
			Email: claims.Email,
		},
	}, nil
}

// Validate checks a session locally: VerifyIdentity plus CheckExpiry.
func (ti *TokenInspector) Validate(s *models.Session) error {
	if err := ti.VerifyIdentity(s); err != nil {
		return err
	}
	return ti.CheckExpiry(s)
}

// VerifyIdentity checks that both tokens are present and the access token
// decodes to the session's user. Expiry is not considered.
func (ti *TokenInspector) VerifyIdentity(s *models.Session) error {
	if s == nil || s.AccessToken == "" || s.RefreshToken == "" {
		return fmt.Errorf("session has no tokens")
	}

	claims, err := ti.Parse(s.AccessToken)
	if err != nil {
		return err
	}
	if claims.Subject != s.User.ID.String() {
		return fmt.Errorf("access token belongs to another user")
	}

	return nil
}

// CheckExpiry reports whether the session's access token is past its expiry.
func (ti *TokenInspector) CheckExpiry(s *models.Session) error {
	if s.Expired(ti.now(), ti.skew) {
		return fmt.Errorf("access token expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
