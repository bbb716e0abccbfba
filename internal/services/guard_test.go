package services

import (
	"context"
	"errors"
	"testing"

	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoutes = Routes{
	AuthGroup:       "(auth)",
	ProtectedGroups: []string{"(tabs)", "modals"},
	LoginPath:       "/(auth)/login",
	HomePath:        "/(tabs)",
}

func TestDecide(t *testing.T) {
	at := models.ParseLocation

	tests := []struct {
		name string
		in   DecisionInput
		want Decision
	}{
		{
			name: "not initialized waits",
			in:   DecisionInput{Location: at("/(tabs)")},
			want: Decision{Action: ActionLoading},
		},
		{
			name: "resuming suppresses login redirect",
			in:   DecisionInput{Initialized: true, AppResuming: true, Location: at("/(tabs)/workouts")},
			want: Decision{Action: ActionSuppressed, Reason: ReasonResuming},
		},
		{
			name: "pending modal suppresses home redirect",
			in:   DecisionInput{Initialized: true, HasSession: true, HasProfile: true, PendingModalPath: "/modals/body-weight", Location: at("/(auth)/login")},
			want: Decision{Action: ActionSuppressed, Reason: ReasonPendingModal},
		},
		{
			name: "authenticated in auth group goes home",
			in:   DecisionInput{Initialized: true, HasSession: true, HasProfile: true, Location: at("/(auth)/login")},
			want: Decision{Action: ActionRedirectHome, Target: "/(tabs)"},
		},
		{
			name: "session without profile in auth group stays",
			in:   DecisionInput{Initialized: true, HasSession: true, Location: at("/(auth)/login")},
			want: Decision{Action: ActionNone},
		},
		{
			name: "session without profile in protected group goes to login",
			in:   DecisionInput{Initialized: true, HasSession: true, Location: at("/(tabs)")},
			want: Decision{Action: ActionRedirectLogin, Target: "/(auth)/login"},
		},
		{
			name: "signed out in modal goes to login",
			in:   DecisionInput{Initialized: true, Location: at("/modals/body-weight")},
			want: Decision{Action: ActionRedirectLogin, Target: "/(auth)/login"},
		},
		{
			name: "signed out in auth group stays",
			in:   DecisionInput{Initialized: true, Location: at("/(auth)/signup")},
			want: Decision{Action: ActionNone},
		},
		{
			name: "authenticated in protected group stays",
			in:   DecisionInput{Initialized: true, HasSession: true, HasProfile: true, Location: at("/(tabs)/history")},
			want: Decision{Action: ActionNone},
		},
		{
			name: "unknown group is left alone",
			in:   DecisionInput{Initialized: true, Location: at("/")},
			want: Decision{Action: ActionNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Routes = testRoutes
			assert.Equal(t, tt.want, Decide(tt.in))
		})
	}
}

// guardFixture drives a guard with hand-built snapshots.
type guardFixture struct {
	guard   *NavigationGuard
	nav     *RecordingNavigator
	version uint64
}

func setupGuard(t *testing.T, location string) *guardFixture {
	t.Helper()
	nav := NewRecordingNavigator(location)
	g := NewNavigationGuard(testRoutes, nav, InlineScheduler{})
	g.SetLocation(location)
	return &guardFixture{guard: g, nav: nav}
}

func (f *guardFixture) push(st models.State) {
	f.version++
	st.Version = f.version
	f.guard.OnState(st)
}

func (f *guardFixture) signedOut() {
	f.push(models.State{Initialized: true, Phase: models.PhaseUnauthenticated})
}

func (f *guardFixture) authenticated() {
	s := testutil.TestSession()
	f.push(models.State{
		Initialized: true,
		Phase:       models.PhaseAuthenticated,
		Session:     s,
		Profile:     testutil.TestProfile(s.User.ID),
	})
}

func TestNavigationGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("does nothing before initialization", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.push(models.State{Phase: models.PhaseInitializing, Loading: true})

		assert.Empty(t, f.nav.History())
		assert.Equal(t, "loading", f.guard.Status().LastDecision)
	})

	t.Run("redirects signed out user to login once", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.signedOut()
		f.signedOut()

		assert.Equal(t, []string{"/(auth)/login"}, f.nav.Replaces())
		assert.Equal(t, "/(auth)/login", f.guard.Status().Location)
	})

	t.Run("redirects authenticated user home", func(t *testing.T) {
		f := setupGuard(t, "/(auth)/login")
		f.authenticated()

		assert.Equal(t, []string{"/(tabs)"}, f.nav.Replaces())
	})

	t.Run("location change re-evaluates", func(t *testing.T) {
		f := setupGuard(t, "/(auth)/login")
		f.signedOut()
		require.Empty(t, f.nav.Replaces())

		f.guard.SetLocation("/(tabs)/history")
		assert.Equal(t, []string{"/(auth)/login"}, f.nav.Replaces())
	})

	t.Run("older snapshots are ignored", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.authenticated()
		f.guard.OnState(models.State{Version: 0, Initialized: true})

		assert.Empty(t, f.nav.Replaces())
	})

	t.Run("no redirect while resuming, login after it ends", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.authenticated()
		f.guard.SetAppResuming(true)
		f.signedOut()

		assert.Empty(t, f.nav.Replaces())
		assert.True(t, f.guard.Status().AppResuming)

		f.guard.SetAppResuming(false)
		assert.Equal(t, []string{"/(auth)/login"}, f.nav.Replaces())
	})

	t.Run("request login redirect only acts when the rule says so", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.authenticated()

		f.guard.RequestLoginRedirect()
		assert.Empty(t, f.nav.Replaces())
	})

	t.Run("failed replace is not retried in a loop", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.nav.FailWith(errors.New("screen stack busy"))
		f.signedOut()

		assert.Empty(t, f.nav.History())
		assert.False(t, f.guard.Status().Navigating)

		f.nav.FailWith(nil)
		f.guard.SetLocation("/(tabs)")
		assert.Equal(t, []string{"/(auth)/login"}, f.nav.Replaces())
	})

	t.Run("in protected group", func(t *testing.T) {
		f := setupGuard(t, "/modals/body-weight")
		assert.True(t, f.guard.InProtectedGroup())
		f.guard.SetLocation("/(auth)/login")
		assert.False(t, f.guard.InProtectedGroup())
	})

	t.Run("attach follows a store", func(t *testing.T) {
		sf := setupStore(t)
		nav := NewRecordingNavigator("/(tabs)")
		g := NewNavigationGuard(testRoutes, nav, InlineScheduler{})
		g.SetLocation("/(tabs)")

		detach := g.Attach(ctx, sf.store)
		defer detach()
		sf.initialized(t)

		assert.Equal(t, []string{"/(auth)/login"}, nav.Replaces())
	})
}

func TestNavigationGuard_PendingModal(t *testing.T) {
	ctx := context.Background()

	t.Run("suppresses redirects until restored", func(t *testing.T) {
		f := setupGuard(t, "/(auth)/login")
		f.guard.SetPendingModalPath("modals/body-weight")
		assert.Equal(t, "/modals/body-weight", f.guard.Status().PendingModalPath)

		f.authenticated()
		assert.Empty(t, f.nav.Replaces())

		require.NoError(t, f.guard.RestorePendingModal(ctx))

		history := f.nav.History()
		require.Len(t, history, 1)
		assert.Equal(t, NavigationPush, history[0].Kind)
		assert.Equal(t, "/modals/body-weight", history[0].Path)
		assert.Empty(t, f.guard.Status().PendingModalPath)
		assert.Equal(t, "/modals/body-weight", f.nav.Current())
		assert.Empty(t, f.nav.Replaces())
	})

	t.Run("nothing pending is a no-op", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.authenticated()

		require.NoError(t, f.guard.RestorePendingModal(ctx))
		assert.Empty(t, f.nav.History())
	})

	t.Run("refuses while resuming", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.authenticated()
		f.guard.SetPendingModalPath("/modals/body-weight")
		f.guard.SetAppResuming(true)

		assert.ErrorIs(t, f.guard.RestorePendingModal(ctx), ErrResuming)
		assert.Equal(t, "/modals/body-weight", f.guard.Status().PendingModalPath)
	})

	t.Run("dropped when signed out", func(t *testing.T) {
		f := setupGuard(t, "/(tabs)")
		f.guard.SetPendingModalPath("/modals/body-weight")
		f.signedOut()
		assert.Empty(t, f.nav.Replaces())

		assert.ErrorIs(t, f.guard.RestorePendingModal(ctx), ErrNotAuthenticated)
		assert.Empty(t, f.guard.Status().PendingModalPath)
		assert.Equal(t, []string{"/(auth)/login"}, f.nav.Replaces())
	})

	t.Run("clear re-enables redirects", func(t *testing.T) {
		f := setupGuard(t, "/(auth)/login")
		f.guard.SetPendingModalPath("/modals/body-weight")
		f.authenticated()

		f.guard.ClearPendingModalPath()
		assert.Equal(t, []string{"/(tabs)"}, f.nav.Replaces())
	})
}
