package models

import "fmt"

// AppState mirrors the OS-level application states.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

// ParseAppState validates a state name received from the host.
func ParseAppState(s string) (AppState, error) {
	switch AppState(s) {
	case AppStateActive, AppStateInactive, AppStateBackground:
		return AppState(s), nil
	default:
		return "", fmt.Errorf("unknown app state %q", s)
	}
}

// Phase is the session store's lifecycle phase.
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseInitializing    Phase = "initializing"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
)

// AuthEventKind enumerates the inbound auth-state notifications.
type AuthEventKind string

const (
	AuthEventSignedIn  AuthEventKind = "signed_in"
	AuthEventSignedOut AuthEventKind = "signed_out"
)

// AuthEvent is the single event type pushed by the auth backend when the
// auth state changes outside of a store command. Session is set only for
// AuthEventSignedIn.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// SignedIn builds a SignedIn event.
func SignedIn(s *Session) AuthEvent {
	return AuthEvent{Kind: AuthEventSignedIn, Session: s}
}

// SignedOut builds a SignedOut event.
func SignedOut() AuthEvent {
	return AuthEvent{Kind: AuthEventSignedOut}
}

// State is an immutable snapshot of the session store. Version increases
// with every change, so observers can discard out-of-order deliveries.
type State struct {
	Version     uint64
	Phase       Phase
	Session     *Session
	Profile     *UserProfile
	Initialized bool
	Loading     bool
}

// Authenticated reports whether both a session and its profile are present.
// A session without a profile is not ready yet.
func (s State) Authenticated() bool {
	return s.Session != nil && s.Profile != nil
}
