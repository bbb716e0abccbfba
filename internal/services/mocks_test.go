package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/database"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/internal/testutil"
	"github.com/stretchr/testify/mock"
)

// MockAuthBackend is a mock implementation of AuthBackend
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
	args := m.Called(ctx, accessToken)
	return args.Error(0)
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

// MockProfileRepository is a mock implementation of ProfileRepository
type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func (m *MockProfileRepository) InsertProfile(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

const testInstallation = "device-test"

type storeFixture struct {
	store    *SessionStore
	auth     *MockAuthBackend
	profiles *MockProfileRepository
	slot     *database.RedisDB
	mr       *miniredis.Miniredis
}

func setupStore(t *testing.T) *storeFixture {
	t.Helper()
	return newStoreFixture(t, NewTokenInspector(testutil.TestJWTSecret, 30*time.Second))
}

// setupDecodingStore builds a store whose inspector has no secret, as when
// AUTH_JWT_SECRET is unset.
func setupDecodingStore(t *testing.T) *storeFixture {
	t.Helper()
	return newStoreFixture(t, NewTokenInspector(nil, 30*time.Second))
}

func newStoreFixture(t *testing.T, inspector *TokenInspector) *storeFixture {
	t.Helper()

	mr, cleanup := testutil.SetupMiniRedis(t)
	t.Cleanup(cleanup)
	slot := testutil.NewTestRedisDB(t, mr)

	auth := new(MockAuthBackend)
	profiles := new(MockProfileRepository)
	store := NewSessionStore(auth, profiles, slot, inspector, StoreOptions{
		InstallationID:  testInstallation,
		UserAgent:       testutil.UserAgents.IPhone,
		MinSecretLength: 6,
	})

	return &storeFixture{store: store, auth: auth, profiles: profiles, slot: slot, mr: mr}
}

// persist writes s into the slot as a previous run would have.
func (f *storeFixture) persist(t *testing.T, s *models.Session) {
	t.Helper()
	err := f.slot.SaveSession(context.Background(), testInstallation, &models.PersistedSession{
		Session:    *s,
		DeviceInfo: "Safari 17.0 · iOS 17.1 · Mobile",
		SavedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to persist session: %v", err)
	}
}

// expectProfile makes the repository return a stored profile for user.
func (f *storeFixture) expectProfile(user models.AuthUser) *models.UserProfile {
	p := testutil.TestProfile(user.ID)
	f.profiles.On("GetProfileByUserID", mock.Anything, user.ID).Return(p, nil)
	return p
}

// initialized brings the store to the signed-out, initialized phase.
func (f *storeFixture) initialized(t *testing.T) {
	t.Helper()
	if err := f.store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
}

// signedIn brings the store to an authenticated state with a profile.
func (f *storeFixture) signedIn(t *testing.T) (*models.Session, *models.UserProfile) {
	t.Helper()
	f.initialized(t)

	s := testutil.TestSession()
	p := f.expectProfile(s.User)
	f.auth.On("SignInWithPassword", mock.Anything, s.User.Email, "correctpass").Return(s, nil).Once()

	if err := f.store.SignIn(context.Background(), s.User.Email, "correctpass"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	return s, p
}

func (f *storeFixture) slotSession(t *testing.T) *models.Session {
	t.Helper()
	ps, err := f.slot.LoadSession(context.Background(), testInstallation)
	if err != nil {
		return nil
	}
	return &ps.Session
}
