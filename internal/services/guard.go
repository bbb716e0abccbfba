package services

import (
	"context"
	"errors"
	"sync"

	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/pkg/config"
	"github.com/rs/zerolog/log"
)

// Navigator performs navigation in the host's screen stack.
type Navigator interface {
	// Replace swaps the current screen for path without adding history.
	Replace(ctx context.Context, path string) error
	// Push opens path on top of the current screen.
	Push(ctx context.Context, path string) error
}

// Routes names the screen groups and redirect targets.
type Routes struct {
	AuthGroup       string
	ProtectedGroups []string
	LoginPath       string
	HomePath        string
}

// RoutesFromConfig builds Routes from the navigation configuration.
func RoutesFromConfig(cfg *config.NavigationConfig) Routes {
	return Routes{
		AuthGroup:       cfg.AuthGroup,
		ProtectedGroups: cfg.ProtectedGroups,
		LoginPath:       cfg.LoginPath,
		HomePath:        cfg.HomePath,
	}
}

// Action is the outcome of a guard decision.
type Action int

const (
	ActionNone Action = iota
	ActionLoading
	ActionSuppressed
	ActionRedirectHome
	ActionRedirectLogin
)

func (a Action) String() string {
	switch a {
	case ActionLoading:
		return "loading"
	case ActionSuppressed:
		return "suppressed"
	case ActionRedirectHome:
		return "redirect_home"
	case ActionRedirectLogin:
		return "redirect_login"
	default:
		return "none"
	}
}

// Suppression reasons.
const (
	ReasonResuming     = "resuming"
	ReasonPendingModal = "pending_modal"
	ReasonNavigating   = "navigating"
)

// DecisionInput is everything a redirect decision depends on.
type DecisionInput struct {
	Routes           Routes
	Initialized      bool
	HasSession       bool
	HasProfile       bool
	AppResuming      bool
	PendingModalPath string
	Location         models.Location
}

// Decision is the result of Decide. Target is set for redirects and Reason
// for suppressions.
type Decision struct {
	Action Action
	Target string
	Reason string
}

// Redirect reports whether the decision asks for navigation.
func (d Decision) Redirect() bool {
	return d.Action == ActionRedirectHome || d.Action == ActionRedirectLogin
}

// Decide is the redirect rule. It has no side effects.
//
//  1. Not initialized: loading, no decision.
//  2. Resuming or a modal pending restoration: suppressed.
//  3. Authenticated means session AND profile.
//  4. Authenticated in the auth group: replace with home.
//  5. Not authenticated in a protected group: replace with login.
//  6. Otherwise nothing.
func Decide(in DecisionInput) Decision {
	if !in.Initialized {
		return Decision{Action: ActionLoading}
	}
	if in.AppResuming {
		return Decision{Action: ActionSuppressed, Reason: ReasonResuming}
	}
	if in.PendingModalPath != "" {
		return Decision{Action: ActionSuppressed, Reason: ReasonPendingModal}
	}

	authenticated := in.HasSession && in.HasProfile

	if authenticated && in.Location.InGroup(in.Routes.AuthGroup) {
		return Decision{Action: ActionRedirectHome, Target: in.Routes.HomePath}
	}
	if !authenticated && in.Location.InGroup(in.Routes.ProtectedGroups...) {
		return Decision{Action: ActionRedirectLogin, Target: in.Routes.LoginPath}
	}
	return Decision{Action: ActionNone}
}

// ErrNotAuthenticated is returned by RestorePendingModal when the modal
// cannot be shown because nobody is signed in. The pending path is dropped.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrResuming is returned by RestorePendingModal while the app is resuming.
var ErrResuming = errors.New("app is resuming")

// GuardStatus is the guard's own view for diagnostics.
type GuardStatus struct {
	Location         string `json:"location"`
	AppResuming      bool   `json:"app_resuming"`
	PendingModalPath string `json:"pending_modal_path,omitempty"`
	Navigating       bool   `json:"navigating"`
	LastDecision     string `json:"last_decision"`
}

// NavigationGuard re-runs Decide on every change to the store snapshot,
// the location or a transient flag, and executes redirects through the
// Scheduler. Only one redirect is in flight at a time.
type NavigationGuard struct {
	routes    Routes
	nav       Navigator
	scheduler Scheduler

	mu           sync.Mutex
	ctx          context.Context
	state        models.State
	location     models.Location
	resuming     bool
	pendingModal string
	navigating   bool
	last         Decision
}

// NewNavigationGuard creates a guard. Call Attach to start observing a store.
func NewNavigationGuard(routes Routes, nav Navigator, scheduler Scheduler) *NavigationGuard {
	return &NavigationGuard{
		routes:    routes,
		nav:       nav,
		scheduler: scheduler,
		ctx:       context.Background(),
	}
}

// StateSource is the part of SessionStore the guard observes.
type StateSource interface {
	Subscribe(fn func(models.State)) (unsubscribe func())
}

// Attach subscribes the guard to store. ctx is passed to the Navigator.
func (g *NavigationGuard) Attach(ctx context.Context, store StateSource) (detach func()) {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()
	return store.Subscribe(g.OnState)
}

// OnState receives a store snapshot. Older versions are ignored.
func (g *NavigationGuard) OnState(st models.State) {
	g.mu.Lock()
	if st.Version < g.state.Version {
		g.mu.Unlock()
		return
	}
	g.state = st
	g.mu.Unlock()
	g.evaluate()
}

// SetLocation records the current screen path reported by the host.
func (g *NavigationGuard) SetLocation(path string) {
	g.mu.Lock()
	g.location = models.ParseLocation(path)
	g.mu.Unlock()
	g.evaluate()
}

// SetAppResuming sets the resuming flag. Redirects are suppressed while it
// is true.
func (g *NavigationGuard) SetAppResuming(resuming bool) {
	g.mu.Lock()
	g.resuming = resuming
	g.mu.Unlock()
	g.evaluate()
}

// SetPendingModalPath queues a modal to restore. Redirects are suppressed
// until it is restored or cleared.
func (g *NavigationGuard) SetPendingModalPath(path string) {
	g.mu.Lock()
	g.pendingModal = models.ParseLocation(path).Path()
	g.mu.Unlock()
	g.evaluate()
}

// ClearPendingModalPath drops the queued modal.
func (g *NavigationGuard) ClearPendingModalPath() {
	g.mu.Lock()
	g.pendingModal = ""
	g.mu.Unlock()
	g.evaluate()
}

// RequestLoginRedirect is the lifecycle observer's signal after a failed
// resume refresh. It re-runs the decision with the settled flags, so the
// login redirect fires even if the store notification was suppressed.
func (g *NavigationGuard) RequestLoginRedirect() {
	log.Debug().Msg("Login redirect requested after failed refresh")
	g.evaluate()
}

// InProtectedGroup reports whether the current location requires a user.
func (g *NavigationGuard) InProtectedGroup() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.location.InGroup(g.routes.ProtectedGroups...)
}

// RestorePendingModal pushes the queued modal once the user is
// authenticated and clears it. Without a user the modal is dropped and the
// normal redirect rules apply again.
func (g *NavigationGuard) RestorePendingModal(ctx context.Context) error {
	g.mu.Lock()
	path := g.pendingModal
	if path == "" {
		g.mu.Unlock()
		return nil
	}
	if g.resuming {
		g.mu.Unlock()
		return ErrResuming
	}
	if !g.state.Initialized || !g.state.Authenticated() {
		g.pendingModal = ""
		g.mu.Unlock()
		log.Info().Str("path", path).Msg("Dropped pending modal, not authenticated")
		g.evaluate()
		return ErrNotAuthenticated
	}
	g.mu.Unlock()

	if err := g.nav.Push(ctx, path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to restore pending modal")
		return err
	}

	g.mu.Lock()
	if g.pendingModal == path {
		g.pendingModal = ""
	}
	g.location = models.ParseLocation(path)
	g.mu.Unlock()

	log.Info().Str("path", path).Msg("Restored pending modal")
	g.evaluate()
	return nil
}

// Status returns the guard's current flags and last decision.
func (g *NavigationGuard) Status() GuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardStatus{
		Location:         g.location.Path(),
		AppResuming:      g.resuming,
		PendingModalPath: g.pendingModal,
		Navigating:       g.navigating,
		LastDecision:     g.last.Action.String(),
	}
}

func (g *NavigationGuard) inputLocked() DecisionInput {
	return DecisionInput{
		Routes:           g.routes,
		Initialized:      g.state.Initialized,
		HasSession:       g.state.Session != nil,
		HasProfile:       g.state.Profile != nil,
		AppResuming:      g.resuming,
		PendingModalPath: g.pendingModal,
		Location:         g.location,
	}
}

func (g *NavigationGuard) evaluate() {
	g.mu.Lock()
	d := Decide(g.inputLocked())
	g.last = d

	if d.Action == ActionSuppressed {
		navigationSuppressedTotal.WithLabelValues(d.Reason).Inc()
	}
	if !d.Redirect() {
		g.mu.Unlock()
		return
	}
	if g.navigating {
		g.mu.Unlock()
		navigationSuppressedTotal.WithLabelValues(ReasonNavigating).Inc()
		return
	}
	g.navigating = true
	g.mu.Unlock()

	g.scheduler.AfterCommit(func() { g.execute(d) })
}

// execute runs a scheduled redirect. The decision is re-checked first
// because flags may have changed since it was scheduled.
func (g *NavigationGuard) execute(scheduled Decision) {
	g.mu.Lock()
	current := Decide(g.inputLocked())
	if current.Action != scheduled.Action || current.Target != scheduled.Target {
		g.navigating = false
		g.last = current
		g.mu.Unlock()
		log.Debug().
			Str("scheduled", scheduled.Action.String()).
			Str("now", current.Action.String()).
			Msg("Scheduled redirect no longer applies")
		g.evaluate()
		return
	}
	ctx := g.ctx
	g.mu.Unlock()

	err := g.nav.Replace(ctx, scheduled.Target)

	g.mu.Lock()
	if err == nil {
		g.location = models.ParseLocation(scheduled.Target)
	}
	g.navigating = false
	g.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("target", scheduled.Target).Msg("Redirect failed")
		return
	}

	target := "home"
	if scheduled.Action == ActionRedirectLogin {
		target = "login"
	}
	navigationRedirectsTotal.WithLabelValues(target).Inc()
	log.Info().Str("target", scheduled.Target).Msg("Guard redirected")

	g.evaluate()
}
