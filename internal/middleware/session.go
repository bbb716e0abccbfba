package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/rs/zerolog"
)

type contextKey string

// UserIDKey holds the signed-in user's ID. Set by RequireSession.
const UserIDKey contextKey = "user_id"

// SessionSource is the part of the session store RequireSession reads.
type SessionSource interface {
	Snapshot() models.State
}

// RequireSession rejects requests with 401 unless the store holds a session
// whose access token has not expired. The user's identity is added to the
// request context and to the request logger.
//
//	r.With(middleware.RequireSession(store)).Post("/profile/fetch", h.FetchProfile)
//
// Handlers read it back with GetUserID:
//
//	userID, ok := middleware.GetUserID(r.Context())
func RequireSession(source SessionSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := source.Snapshot()
			if st.Session == nil {
				zerolog.Ctx(r.Context()).Debug().Msg("No active session")
				utils.RespondWithErrorKind(w, r, http.StatusUnauthorized, "session_invalid", "Sign in to continue")
				return
			}
			if st.Session.Expired(time.Now(), 0) {
				zerolog.Ctx(r.Context()).Debug().
					Str("user_id", st.Session.User.ID.String()).
					Time("expires_at", st.Session.ExpiresAt).
					Msg("Session expired")
				utils.RespondWithErrorKind(w, r, http.StatusUnauthorized, "session_invalid", "Session expired, refresh or sign in again")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, st.Session.User.ID)

			logger := zerolog.Ctx(ctx).With().Str("user_id", st.Session.User.ID.String()).Logger()
			ctx = logger.WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID returns the user ID set by RequireSession.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

