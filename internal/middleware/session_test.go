package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/internal/testutil"
	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateFunc func() models.State

func (f stateFunc) Snapshot() models.State { return f() }

func withSession(s *models.Session) SessionSource {
	return stateFunc(func() models.State {
		return models.State{Session: s, Initialized: true}
	})
}

// echoUser writes the identity RequireSession put in the context.
func echoUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			http.Error(w, "No user ID in context", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(userID.String()))
	}
}

func TestRequireSession(t *testing.T) {
	t.Run("passes identity of a live session", func(t *testing.T) {
		s := testutil.TestSession()
		handler := RequireSession(withSession(s))(echoUser())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/profile/fetch", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, s.User.ID.String(), rec.Body.String())
	})

	t.Run("rejects without session", func(t *testing.T) {
		handler := RequireSession(withSession(nil))(echoUser())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/profile/fetch", nil))

		testutil.AssertStatusCode(t, rec, http.StatusUnauthorized)
		var resp utils.ErrorResponse
		testutil.ParseJSONResponse(t, rec, &resp)
		assert.Equal(t, "session_invalid", resp.Kind)
	})

	t.Run("rejects expired session", func(t *testing.T) {
		handler := RequireSession(withSession(testutil.ExpiredSession()))(echoUser())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/profile/fetch", nil))

		testutil.AssertStatusCode(t, rec, http.StatusUnauthorized)
	})

	t.Run("reads the store on every request", func(t *testing.T) {
		var current *models.Session
		handler := RequireSession(stateFunc(func() models.State {
			return models.State{Session: current}
		}))(echoUser())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/profile/fetch", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		current = testutil.TestSession()
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/profile/fetch", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGetUserID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := GetUserID(req.Context())
	assert.False(t, ok)
}
