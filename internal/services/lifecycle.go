package services

import (
	"context"
	"errors"
	"sync"

	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/rs/zerolog/log"
)

// SessionRefresher is the part of SessionStore the observer drives.
type SessionRefresher interface {
	Snapshot() models.State
	RefreshSession(ctx context.Context) error
}

// ResumeListener receives the resuming flag and the login signal.
// NavigationGuard implements it.
type ResumeListener interface {
	SetAppResuming(resuming bool)
	RequestLoginRedirect()
	InProtectedGroup() bool
}

// LifecycleObserver turns OS foreground transitions into session refreshes.
// The resuming flag stays true for the whole refresh call. Overlapping
// resumes are counted, so the flag clears only when the last one finishes.
type LifecycleObserver struct {
	store    SessionRefresher
	listener ResumeListener

	mu       sync.Mutex
	appState models.AppState
	resumes  int
}

// NewLifecycleObserver creates an observer. The app is assumed active.
func NewLifecycleObserver(store SessionRefresher, listener ResumeListener) *LifecycleObserver {
	return &LifecycleObserver{
		store:    store,
		listener: listener,
		appState: models.AppStateActive,
	}
}

// AppState returns the last reported state.
func (o *LifecycleObserver) AppState() models.AppState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.appState
}

// IsAppResuming reports whether a resume refresh is in flight.
func (o *LifecycleObserver) IsAppResuming() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resumes > 0
}

// HandleAppState records a state change. On inactive|background -> active
// it refreshes the session and blocks until the refresh completes. The
// refresh error, if any, is returned after the login signal was sent.
func (o *LifecycleObserver) HandleAppState(ctx context.Context, next models.AppState) error {
	o.mu.Lock()
	prev := o.appState
	o.appState = next
	resume := next == models.AppStateActive &&
		(prev == models.AppStateInactive || prev == models.AppStateBackground)
	if !resume {
		o.mu.Unlock()
		log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("App state changed")
		return nil
	}
	o.resumes++
	if o.resumes == 1 {
		o.listener.SetAppResuming(true)
	}
	o.mu.Unlock()

	log.Debug().Str("from", string(prev)).Msg("App resuming")

	var err error
	result := "refreshed"
	if o.store.Snapshot().Session == nil {
		result = "no_session"
	} else if err = o.store.RefreshSession(ctx); err != nil {
		result = "failed"
		if errors.Is(err, ErrSuperseded) {
			result = "superseded"
		}
	}
	appResumesTotal.WithLabelValues(result).Inc()

	o.mu.Lock()
	o.resumes--
	if o.resumes == 0 {
		o.listener.SetAppResuming(false)
	}
	o.mu.Unlock()

	if err != nil && !errors.Is(err, ErrSuperseded) {
		log.Warn().Err(err).Msg("Refresh on resume failed")
		if o.listener.InProtectedGroup() {
			o.listener.RequestLoginRedirect()
		}
		return err
	}
	return nil
}
