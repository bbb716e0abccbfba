package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/middleware"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/internal/services"
	"github.com/ieraasyl/FitnessShell/internal/testutil"
	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAuthBackend is a mock implementation of services.AuthBackend
type MockAuthBackend struct {
	mock.Mock
}

func (m *MockAuthBackend) SignInWithPassword(ctx context.Context, identifier, secret string) (*models.Session, error) {
	args := m.Called(ctx, identifier, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockAuthBackend) SignUp(ctx context.Context, identifier, secret string) (*models.Session, error) {
	args := m.Called(ctx, identifier, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockAuthBackend) SignOut(ctx context.Context, accessToken string) error {
	return m.Called(ctx, accessToken).Error(0)
}

func (m *MockAuthBackend) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockAuthBackend) GetUser(ctx context.Context, accessToken string) (*models.AuthUser, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthUser), args.Error(1)
}

// memoryProfiles is an in-memory services.ProfileRepository.
type memoryProfiles struct {
	byUser map[uuid.UUID]*models.UserProfile
}

func (m *memoryProfiles) GetProfileByUserID(_ context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if p, ok := m.byUser[userID]; ok {
		return p, nil
	}
	return testutil.TestProfile(userID), nil
}

func (m *memoryProfiles) InsertProfile(_ context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	m.byUser[p.UserID] = p
	return p, nil
}

type shellFixture struct {
	router  http.Handler
	handler *ShellHandler
	auth   *MockAuthBackend
	store  *services.SessionStore
	nav    *services.RecordingNavigator
	events chan models.AuthEvent
}

func setupShell(t *testing.T, location string) *shellFixture {
	t.Helper()

	mr, cleanup := testutil.SetupMiniRedis(t)
	t.Cleanup(cleanup)

	inspector := services.NewTokenInspector(testutil.TestJWTSecret, 30*time.Second)
	auth := new(MockAuthBackend)
	store := services.NewSessionStore(auth, &memoryProfiles{byUser: map[uuid.UUID]*models.UserProfile{}},
		testutil.NewTestRedisDB(t, mr), inspector, services.StoreOptions{InstallationID: "device-test"})

	nav := services.NewRecordingNavigator(location)
	guard := services.NewNavigationGuard(services.Routes{
		AuthGroup:       "(auth)",
		ProtectedGroups: []string{"(tabs)", "modals"},
		LoginPath:       "/(auth)/login",
		HomePath:        "/(tabs)",
	}, nav, services.InlineScheduler{})
	guard.SetLocation(location)
	t.Cleanup(guard.Attach(context.Background(), store))

	require.NoError(t, store.Initialize(context.Background()))

	events := make(chan models.AuthEvent, 1)
	observer := services.NewLifecycleObserver(store, guard)
	h := NewShellHandler(store, guard, observer, nav, inspector, events)

	return &shellFixture{
		router:  h.Routes(nil, middleware.RequireSession(store)),
		handler: h,
		auth:   auth,
		store:  store,
		nav:    nav,
		events: events,
	}
}

func (f *shellFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, testutil.MakeRequest(t, method, path, body))
	return rec
}

func TestShellHandler_State(t *testing.T) {
	f := setupShell(t, "/(auth)/login")

	rec := f.do(t, http.MethodGet, "/state", nil)
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var resp StateResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	assert.True(t, resp.Initialized)
	assert.False(t, resp.Authenticated)
	assert.Nil(t, resp.Session)
	assert.Equal(t, models.PhaseUnauthenticated, resp.Phase)
	assert.Equal(t, models.AppStateActive, resp.AppState)
	assert.Equal(t, "/(auth)/login", resp.Guard.Location)
}

func TestShellHandler_SignIn(t *testing.T) {
	t.Run("success redirects home and hides tokens", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")
		s := testutil.TestSession()
		f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil)

		rec := f.do(t, http.MethodPost, "/auth/sign-in", CredentialsRequest{Email: s.User.Email, Password: "correctpass"})
		testutil.AssertStatusCode(t, rec, http.StatusOK)

		var resp StateResponse
		testutil.ParseJSONResponse(t, rec, &resp)
		assert.True(t, resp.Authenticated)
		require.NotNil(t, resp.Session)
		assert.Equal(t, s.User.ID, resp.Session.UserID)
		assert.Equal(t, "/(tabs)", resp.Screen)
		assert.NotContains(t, rec.Body.String(), s.AccessToken)
		assert.NotContains(t, rec.Body.String(), s.RefreshToken)
	})

	t.Run("error kinds map to status codes", func(t *testing.T) {
		cases := []struct {
			kind   services.ErrorKind
			status int
		}{
			{services.KindInvalidCredentials, http.StatusUnauthorized},
			{services.KindNetwork, http.StatusServiceUnavailable},
			{services.KindServer, http.StatusBadGateway},
		}
		for _, c := range cases {
			t.Run(string(c.kind), func(t *testing.T) {
				f := setupShell(t, "/(auth)/login")
				f.auth.On("SignInWithPassword", mock.Anything, "user@example.com", "pass").
					Return(nil, &services.AuthError{Kind: c.kind, Op: services.OpSignIn})

				rec := f.do(t, http.MethodPost, "/auth/sign-in", CredentialsRequest{Email: "user@example.com", Password: "pass"})
				testutil.AssertStatusCode(t, rec, c.status)

				var resp utils.ErrorResponse
				testutil.ParseJSONResponse(t, rec, &resp)
				assert.Equal(t, string(c.kind), resp.Kind)
			})
		}
	})

	t.Run("validation error carries its message", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")

		rec := f.do(t, http.MethodPost, "/auth/sign-in", CredentialsRequest{Email: "nope", Password: "x"})
		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)

		var resp utils.ErrorResponse
		testutil.ParseJSONResponse(t, rec, &resp)
		assert.Equal(t, string(services.KindValidation), resp.Kind)
		assert.Equal(t, "email address is malformed", resp.Message)
		f.auth.AssertNotCalled(t, "SignInWithPassword", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")

		rec := f.do(t, http.MethodPost, "/auth/sign-in", map[string]string{"username": "x"})
		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
	})
}

func TestShellHandler_SignUp(t *testing.T) {
	f := setupShell(t, "/(auth)/signup")

	rec := f.do(t, http.MethodPost, "/auth/sign-up", CredentialsRequest{Email: "new@example.com", Password: "123"})
	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)

	s := testutil.TestSession()
	f.auth.On("SignUp", mock.Anything, s.User.Email, "longenough").Return(s, nil)
	rec = f.do(t, http.MethodPost, "/auth/sign-up", CredentialsRequest{Email: s.User.Email, Password: "longenough"})
	testutil.AssertStatusCode(t, rec, http.StatusCreated)
}

func TestShellHandler_SignOut(t *testing.T) {
	f := setupShell(t, "/(tabs)")
	s := testutil.TestSession()
	f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil)
	f.auth.On("SignOut", mock.Anything, s.AccessToken).Return(&services.AuthError{Kind: services.KindNetwork, Op: services.OpSignOut})
	require.NoError(t, f.store.SignIn(context.Background(), s.User.Email, "correctpass"))

	rec := f.do(t, http.MethodPost, "/auth/sign-out", nil)
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var resp SignOutResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	assert.False(t, resp.State.Authenticated)
	assert.Nil(t, resp.State.Session)
	assert.NotEmpty(t, resp.RemoteError)
	assert.Equal(t, "/(auth)/login", f.nav.Current())
}

func TestShellHandler_Refresh(t *testing.T) {
	t.Run("no session is 401", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")

		rec := f.do(t, http.MethodPost, "/auth/refresh", nil)
		testutil.AssertStatusCode(t, rec, http.StatusUnauthorized)
	})

	t.Run("superseded is 409", func(t *testing.T) {
		rec := httptest.NewRecorder()
		respondAuthError(rec, httptest.NewRequest(http.MethodPost, "/auth/refresh", nil), services.ErrSuperseded)
		testutil.AssertStatusCode(t, rec, http.StatusConflict)
	})
}

func TestShellHandler_AuthEvent(t *testing.T) {
	f := setupShell(t, "/(auth)/login")

	t.Run("signed out is queued", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/auth/events", AuthEventRequest{Type: models.AuthEventSignedOut})
		testutil.AssertStatusCode(t, rec, http.StatusAccepted)
		assert.Equal(t, models.AuthEventSignedOut, (<-f.events).Kind)
	})

	t.Run("signed in carries a session", func(t *testing.T) {
		s := testutil.TestSession()
		rec := f.do(t, http.MethodPost, "/auth/events", AuthEventRequest{
			Type:         models.AuthEventSignedIn,
			AccessToken:  s.AccessToken,
			RefreshToken: s.RefreshToken,
		})
		testutil.AssertStatusCode(t, rec, http.StatusAccepted)

		ev := <-f.events
		require.NotNil(t, ev.Session)
		assert.Equal(t, s.User.ID, ev.Session.User.ID)
	})

	t.Run("bad token is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/auth/events", AuthEventRequest{Type: models.AuthEventSignedIn, AccessToken: "garbage"})
		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
	})

	t.Run("token signed with another key is rejected", func(t *testing.T) {
		s := testutil.TestSession()
		forged := testutil.SignAccessTokenWithKey(s.User, s.ExpiresAt, []byte("some-other-key-of-thirty-two-byte"))

		rec := f.do(t, http.MethodPost, "/auth/events", AuthEventRequest{
			Type:         models.AuthEventSignedIn,
			AccessToken:  forged,
			RefreshToken: s.RefreshToken,
		})
		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
		assert.Empty(t, f.events)
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/auth/events", AuthEventRequest{Type: "token_refreshed"})
		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
	})
}

func TestShellHandler_Lifecycle(t *testing.T) {
	t.Run("resume with failed refresh reports the kind", func(t *testing.T) {
		f := setupShell(t, "/(tabs)")
		s := testutil.TestSession()
		f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil)
		f.auth.On("RefreshSession", mock.Anything, s.RefreshToken).
			Return(nil, &services.AuthError{Kind: services.KindSessionInvalid, Op: services.OpRefresh})
		require.NoError(t, f.store.SignIn(context.Background(), s.User.Email, "correctpass"))

		testutil.AssertStatusCode(t, f.do(t, http.MethodPost, "/lifecycle", AppStateRequest{State: "background"}), http.StatusOK)
		rec := f.do(t, http.MethodPost, "/lifecycle", AppStateRequest{State: "active"})
		testutil.AssertStatusCode(t, rec, http.StatusOK)

		var resp AppStateResponse
		testutil.ParseJSONResponse(t, rec, &resp)
		assert.Equal(t, string(services.KindSessionInvalid), resp.RefreshError)
		assert.False(t, resp.State.AppResuming)
		assert.Nil(t, resp.State.Session)
		assert.Equal(t, "/(auth)/login", resp.State.Screen)
	})

	t.Run("unknown state is rejected", func(t *testing.T) {
		f := setupShell(t, "/(tabs)")
		rec := f.do(t, http.MethodPost, "/lifecycle", AppStateRequest{State: "suspended"})
		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
	})
}

func TestShellHandler_Navigation(t *testing.T) {
	t.Run("location in protected group redirects to login", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")

		rec := f.do(t, http.MethodPut, "/navigation/location", PathRequest{Path: "/(tabs)/history"})
		testutil.AssertStatusCode(t, rec, http.StatusOK)
		assert.Equal(t, "/(auth)/login", f.nav.Current())

		rec = f.do(t, http.MethodGet, "/navigation/history", nil)
		var hist HistoryResponse
		testutil.ParseJSONResponse(t, rec, &hist)
		require.Len(t, hist.Entries, 1)
		assert.Equal(t, services.NavigationReplace, hist.Entries[0].Kind)
	})

	t.Run("relative path is rejected", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")
		rec := f.do(t, http.MethodPut, "/navigation/location", PathRequest{Path: "tabs"})
		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
	})

	t.Run("pending modal restore without user is 401", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")

		rec := f.do(t, http.MethodPut, "/navigation/pending-modal", PathRequest{Path: "/modals/body-weight"})
		testutil.AssertStatusCode(t, rec, http.StatusOK)
		var resp StateResponse
		testutil.ParseJSONResponse(t, rec, &resp)
		assert.Equal(t, "/modals/body-weight", resp.Guard.PendingModalPath)

		rec = f.do(t, http.MethodPost, "/navigation/pending-modal/restore", nil)
		testutil.AssertStatusCode(t, rec, http.StatusUnauthorized)
	})

	t.Run("pending modal holds redirect until cleared", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")
		s := testutil.TestSession()
		f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil)

		f.do(t, http.MethodPut, "/navigation/pending-modal", PathRequest{Path: "/modals/body-weight"})
		require.NoError(t, f.store.SignIn(context.Background(), s.User.Email, "correctpass"))
		assert.Equal(t, "/(auth)/login", f.nav.Current())

		rec := f.do(t, http.MethodDelete, "/navigation/pending-modal", nil)
		testutil.AssertStatusCode(t, rec, http.StatusOK)
		assert.Equal(t, "/(tabs)", f.nav.Current())
	})

	t.Run("pending modal restore pushes it", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")
		s := testutil.TestSession()
		f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil)

		f.do(t, http.MethodPut, "/navigation/pending-modal", PathRequest{Path: "/modals/body-weight"})
		require.NoError(t, f.store.SignIn(context.Background(), s.User.Email, "correctpass"))

		rec := f.do(t, http.MethodPost, "/navigation/pending-modal/restore", nil)
		testutil.AssertStatusCode(t, rec, http.StatusOK)
		assert.Equal(t, "/modals/body-weight", f.nav.Current())
	})
}

func TestShellHandler_FetchProfile(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")

		rec := f.do(t, http.MethodPost, "/profile/fetch", nil)
		testutil.AssertStatusCode(t, rec, http.StatusUnauthorized)
	})

	t.Run("reloads the profile", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")
		s := testutil.TestSession()
		f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil)
		require.NoError(t, f.store.SignIn(context.Background(), s.User.Email, "correctpass"))

		rec := f.do(t, http.MethodPost, "/profile/fetch", nil)
		testutil.AssertStatusCode(t, rec, http.StatusOK)

		var resp StateResponse
		testutil.ParseJSONResponse(t, rec, &resp)
		require.NotNil(t, resp.Profile)
		assert.Equal(t, s.User.ID, resp.Profile.UserID)
	})

	t.Run("user changed after the gate is 409", func(t *testing.T) {
		f := setupShell(t, "/(auth)/login")
		s := testutil.TestSession()
		f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil)
		require.NoError(t, f.store.SignIn(context.Background(), s.User.Email, "correctpass"))

		req := httptest.NewRequest(http.MethodPost, "/profile/fetch", nil)
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, uuid.New()))
		rec := httptest.NewRecorder()
		f.handler.FetchProfile(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusConflict)
	})
}
