package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/FitnessShell/internal/database"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// ProfileRepository selects and inserts profile records.
type ProfileRepository interface {
	GetProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	InsertProfile(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error)
}

// ProfileInvalidator is implemented by caching repositories. The store
// drops the cached profile of a user on sign-out.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// SessionPersister is the device's secure storage slot.
// LoadSession returns database.ErrSessionSlotEmpty when nothing is stored.
type SessionPersister interface {
	LoadSession(ctx context.Context, installationID string) (*models.PersistedSession, error)
	SaveSession(ctx context.Context, installationID string, ps *models.PersistedSession) error
	DeleteSession(ctx context.Context, installationID string) error
}

// StoreOptions configures a SessionStore.
type StoreOptions struct {
	InstallationID  string // Key of the persisted session slot
	UserAgent       string // Used to label the persisted session
	MinSecretLength int    // Minimum sign-up secret length
}

// ticket identifies one in-flight command. It is current while no newer
// command of the same kind was issued and no clear happened since.
type ticket struct {
	op         string
	token      uint64
	generation uint64
}

// SessionStore is the single source of truth for "is the user logged in".
// It owns the session and the profile; all other components read snapshots
// and subscribe to changes.
//
// Commands may run concurrently. Each completion is applied only if its
// ticket is still current, so a slow response can never overwrite the result
// of a later command or resurrect credentials after a sign-out.
type SessionStore struct {
	auth      AuthBackend
	profiles  ProfileRepository
	persister SessionPersister
	inspector *TokenInspector
	opts      StoreOptions
	device    string

	mu          sync.Mutex
	state       models.State
	inflight    int
	initStarted bool
	generation  uint64
	tokens      map[string]uint64
	subs        map[int]func(models.State)
	nextSub     int

	// notifyMu serializes deliveries; lastDelivered drops stale snapshots.
	notifyMu      sync.Mutex
	lastDelivered uint64

	// persistMu serializes writes to the persisted slot.
	persistMu sync.Mutex
}

// NewSessionStore creates a store in the uninitialized phase.
//
// Example:
//
//	store := services.NewSessionStore(authClient, profileCache, redisDB, inspector, services.StoreOptions{
//	    InstallationID:  cfg.Device.InstallationID,
//	    MinSecretLength: cfg.Auth.MinSecretLength,
//	})
//	if err := store.Initialize(ctx); err != nil {
//	    log.Warn().Err(err).Msg("Profile unavailable after restore")
//	}
func NewSessionStore(auth AuthBackend, profiles ProfileRepository, persister SessionPersister, inspector *TokenInspector, opts StoreOptions) *SessionStore {
	if opts.MinSecretLength < 1 {
		opts.MinSecretLength = 6
	}
	return &SessionStore{
		auth:      auth,
		profiles:  profiles,
		persister: persister,
		inspector: inspector,
		opts:      opts,
		device:    DeviceLabel(opts.UserAgent),
		state:     models.State{Phase: models.PhaseUninitialized},
		tokens:    make(map[string]uint64),
		subs:      make(map[int]func(models.State)),
	}
}

// Snapshot returns a consistent copy of the current state.
func (s *SessionStore) Snapshot() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *SessionStore) snapshotLocked() models.State {
	st := s.state
	st.Session = st.Session.Clone()
	st.Profile = st.Profile.Clone()
	return st
}

// Subscribe registers fn for state changes and immediately delivers the
// current snapshot. Deliveries are serialized and arrive in version order;
// a subscriber may miss intermediate versions but never sees an older one
// after a newer one. fn must not block on store commands.
func (s *SessionStore) Subscribe(fn func(models.State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	s.notifyMu.Lock()
	fn(s.Snapshot())
	s.notifyMu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// publish delivers the newest snapshot to every subscriber unless it was
// already delivered.
func (s *SessionStore) publish() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := make([]func(models.State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if snap.Version <= s.lastDelivered {
		return
	}
	s.lastDelivered = snap.Version

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *SessionStore) bumpLocked() {
	s.state.Version++
	s.state.Loading = s.inflight > 0
}

func (s *SessionStore) beginLocked(op string) ticket {
	s.tokens[op]++
	s.inflight++
	s.bumpLocked()
	return ticket{op: op, token: s.tokens[op], generation: s.generation}
}

func (s *SessionStore) endLocked() {
	s.inflight--
	s.bumpLocked()
}

func (s *SessionStore) currentLocked(t ticket) bool {
	return s.tokens[t.op] == t.token && s.generation == t.generation
}

// setSessionLocked installs a new session. A profile belonging to another
// user is dropped with it.
func (s *SessionStore) setSessionLocked(session *models.Session) {
	if s.state.Profile != nil && s.state.Profile.UserID != session.User.ID {
		s.state.Profile = nil
	}
	s.state.Session = session
	if s.state.Initialized {
		s.state.Phase = models.PhaseAuthenticated
	}
	s.bumpLocked()
}

// clearLocked drops credentials and profile and invalidates every command
// started before it.
func (s *SessionStore) clearLocked() {
	s.generation++
	s.state.Session = nil
	s.state.Profile = nil
	if s.state.Initialized {
		s.state.Phase = models.PhaseUnauthenticated
	}
	s.bumpLocked()
}

// Initialize restores the persisted session once at startup. Restore
// failures of any kind end in a clean logged-out state and are not returned;
// the only error returned is a failed profile fetch after a successful
// restore. Calls after the first are no-ops.
func (s *SessionStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initStarted {
		s.mu.Unlock()
		return nil
	}
	s.initStarted = true
	s.state.Phase = models.PhaseInitializing
	t := s.beginLocked(OpInitialize)
	s.mu.Unlock()
	s.publish()

	session, persist, err := s.restore(ctx)

	s.mu.Lock()
	applied := false
	if session != nil && s.currentLocked(t) && s.state.Session == nil {
		s.setSessionLocked(session)
		applied = true
	}
	s.state.Initialized = true
	if s.state.Session != nil {
		s.state.Phase = models.PhaseAuthenticated
	} else {
		s.state.Phase = models.PhaseUnauthenticated
	}
	s.endLocked()
	s.mu.Unlock()
	s.publish()

	if err != nil {
		log.Warn().
			Err(err).
			Str("kind", string(KindOf(err))).
			Msg("Persisted session not restored, starting signed out")
	}

	if persist {
		s.persistCurrent(ctx)
	}

	if !applied {
		log.Info().Msg("Session store initialized without a session")
		return nil
	}

	log.Info().
		Str("user_id", session.User.ID.String()).
		Msg("Session restored")

	if err := s.FetchUserProfile(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		return err
	}
	return nil
}

// restore loads and validates the persisted session. persist reports
// whether the slot must be synced afterwards: after a refresh rotated the
// tokens, or to delete a slot that turned out to be invalid.
func (s *SessionStore) restore(ctx context.Context) (session *models.Session, persist bool, err error) {
	ps, err := s.persister.LoadSession(ctx, s.opts.InstallationID)
	switch {
	case errors.Is(err, database.ErrSessionSlotEmpty):
		return nil, false, nil
	case errors.Is(err, database.ErrSessionSlotCorrupt):
		return nil, true, &AuthError{Kind: KindSessionInvalid, Op: OpInitialize, Err: err}
	case err != nil:
		return nil, false, &AuthError{Kind: KindServer, Op: OpInitialize, Err: err}
	}

	candidate := ps.Session.Clone()
	log.Debug().
		Str("user_id", candidate.User.ID.String()).
		Str("device", ps.DeviceInfo).
		Time("saved_at", ps.SavedAt).
		Msg("Found persisted session")

	if err := s.inspector.VerifyIdentity(candidate); err != nil {
		return nil, true, &AuthError{Kind: KindSessionInvalid, Op: OpInitialize, Err: err}
	}

	if s.inspector.CheckExpiry(candidate) != nil {
		renewed, err := s.auth.RefreshSession(ctx, candidate.RefreshToken)
		tokenRefreshTotal.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			return nil, KindOf(err) == KindSessionInvalid, err
		}
		if renewed.User.ID != candidate.User.ID {
			return nil, true, &AuthError{Kind: KindSessionInvalid, Op: OpInitialize, Message: "refreshed session belongs to another user"}
		}
		return renewed, true, nil
	}

	user, err := s.auth.GetUser(ctx, candidate.AccessToken)
	if err != nil {
		return nil, KindOf(err) == KindSessionInvalid, err
	}
	if user.ID != candidate.User.ID {
		return nil, true, &AuthError{Kind: KindSessionInvalid, Op: OpInitialize, Message: "persisted session belongs to another user"}
	}
	if user.Email != "" {
		candidate.User.Email = user.Email
	}

	return candidate, false, nil
}

// SignIn exchanges credentials for a session, then loads the profile.
// On failure the state is left unchanged and the error carries its kind.
func (s *SessionStore) SignIn(ctx context.Context, identifier, secret string) error {
	identifier = strings.TrimSpace(identifier)
	if err := validateIdentifier(OpSignIn, identifier); err != nil {
		authAttemptsTotal.WithLabelValues(OpSignIn, resultLabel(err)).Inc()
		return err
	}
	if secret == "" {
		err := validationError(OpSignIn, "password is required")
		authAttemptsTotal.WithLabelValues(OpSignIn, resultLabel(err)).Inc()
		return err
	}

	return s.credentialCommand(ctx, OpSignIn, func() (*models.Session, error) {
		return s.auth.SignInWithPassword(ctx, identifier, secret)
	})
}

// SignUp creates an account and signs it in. Malformed identifiers and
// short secrets are rejected before any remote call.
func (s *SessionStore) SignUp(ctx context.Context, identifier, secret string) error {
	identifier = strings.TrimSpace(identifier)
	if err := validateIdentifier(OpSignUp, identifier); err != nil {
		authAttemptsTotal.WithLabelValues(OpSignUp, resultLabel(err)).Inc()
		return err
	}
	if len([]rune(secret)) < s.opts.MinSecretLength {
		err := validationError(OpSignUp, fmt.Sprintf("password must be at least %d characters", s.opts.MinSecretLength))
		authAttemptsTotal.WithLabelValues(OpSignUp, resultLabel(err)).Inc()
		return err
	}

	return s.credentialCommand(ctx, OpSignUp, func() (*models.Session, error) {
		return s.auth.SignUp(ctx, identifier, secret)
	})
}

func (s *SessionStore) credentialCommand(ctx context.Context, op string, call func() (*models.Session, error)) error {
	s.mu.Lock()
	t := s.beginLocked(op)
	s.mu.Unlock()
	s.publish()

	session, err := call()

	s.mu.Lock()
	applied := false
	if err == nil && s.currentLocked(t) {
		s.setSessionLocked(session)
		applied = true
	}
	s.endLocked()
	s.mu.Unlock()
	s.publish()

	if err != nil {
		authAttemptsTotal.WithLabelValues(op, resultLabel(err)).Inc()
		log.Warn().Err(err).Str("op", op).Str("kind", string(KindOf(err))).Msg("Credential command failed")
		return err
	}
	if !applied {
		authAttemptsTotal.WithLabelValues(op, "superseded").Inc()
		return ErrSuperseded
	}

	authAttemptsTotal.WithLabelValues(op, "success").Inc()
	log.Info().
		Str("op", op).
		Str("user_id", session.User.ID.String()).
		Str("device", s.device).
		Msg("Signed in")

	s.persistCurrent(ctx)

	if err := s.FetchUserProfile(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		log.Warn().Err(err).Str("user_id", session.User.ID.String()).Msg("Profile fetch after sign-in failed")
	}
	return nil
}

// SignOut clears the session and profile immediately, then revokes the
// session remotely. Local state is cleared even if the remote call fails;
// the returned error only reports what could not be cleaned up.
func (s *SessionStore) SignOut(ctx context.Context) error {
	s.mu.Lock()
	previous := s.state.Session
	s.clearLocked()
	s.inflight++
	s.bumpLocked()
	s.mu.Unlock()
	s.publish()

	var errs error
	errs = multierr.Append(errs, s.persistCurrent(ctx))

	if previous != nil {
		if inv, ok := s.profiles.(ProfileInvalidator); ok {
			if err := inv.Invalidate(ctx, previous.User.ID); err != nil {
				log.Warn().Err(err).Msg("Failed to drop cached profile")
			}
		}
		errs = multierr.Append(errs, s.auth.SignOut(ctx, previous.AccessToken))
	}

	s.mu.Lock()
	s.endLocked()
	s.mu.Unlock()
	s.publish()

	authAttemptsTotal.WithLabelValues(OpSignOut, resultLabel(errs)).Inc()
	if errs != nil {
		log.Warn().Err(errs).Msg("Signed out locally; remote cleanup incomplete")
	} else {
		log.Info().Msg("Signed out")
	}
	return errs
}

// RefreshSession renews the current session. On failure the session and
// profile are cleared (fail closed) and the error is returned so callers can
// force navigation to login. Without a session it fails with
// session_invalid and changes nothing.
func (s *SessionStore) RefreshSession(ctx context.Context) error {
	s.mu.Lock()
	current := s.state.Session
	if current == nil {
		s.mu.Unlock()
		return &AuthError{Kind: KindSessionInvalid, Op: OpRefresh, Err: ErrNoSession}
	}
	t := s.beginLocked(OpRefresh)
	s.mu.Unlock()
	s.publish()

	renewed, err := s.auth.RefreshSession(ctx, current.RefreshToken)
	if err == nil && renewed.User.ID != current.User.ID {
		err = &AuthError{Kind: KindSessionInvalid, Op: OpRefresh, Message: "refreshed session belongs to another user"}
	}

	s.mu.Lock()
	stillCurrent := s.currentLocked(t) && s.state.Session == current
	switch {
	case !stillCurrent:
	case err != nil:
		s.clearLocked()
	default:
		s.setSessionLocked(renewed)
	}
	s.endLocked()
	s.mu.Unlock()
	s.publish()

	if !stillCurrent {
		tokenRefreshTotal.WithLabelValues("superseded").Inc()
		return ErrSuperseded
	}

	tokenRefreshTotal.WithLabelValues(resultLabel(err)).Inc()
	s.persistCurrent(ctx)

	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", current.User.ID.String()).
			Str("kind", string(KindOf(err))).
			Msg("Session refresh failed, signed out")
		return err
	}

	log.Debug().Str("user_id", renewed.User.ID.String()).Time("expires_at", renewed.ExpiresAt).Msg("Session refreshed")
	return nil
}

// FetchUserProfile loads the profile of the current session's user, creating
// a default profile on first use. It is a no-op without a session. The
// result is applied only if the session still belongs to the same user.
func (s *SessionStore) FetchUserProfile(ctx context.Context) error {
	s.mu.Lock()
	current := s.state.Session
	if current == nil {
		s.mu.Unlock()
		return nil
	}
	t := s.beginLocked(OpProfile)
	s.mu.Unlock()
	s.publish()

	userID := current.User.ID
	profile, err := s.profiles.GetProfileByUserID(ctx, userID)
	if errors.Is(err, database.ErrProfileNotFound) {
		profile, err = s.profiles.InsertProfile(ctx, defaultProfile(current.User))
	}
	if err == nil && profile == nil {
		err = fmt.Errorf("no profile returned for user %s", userID)
	}
	if err == nil && profile.UserID != userID {
		err = fmt.Errorf("profile %s belongs to another user", profile.ID)
	}
	if err != nil {
		err = ClassifyError(OpProfile, err)
	}

	s.mu.Lock()
	applied := false
	if err == nil && s.currentLocked(t) && s.state.Session != nil && s.state.Session.User.ID == userID {
		s.state.Profile = profile.Clone()
		s.bumpLocked()
		applied = true
	}
	s.endLocked()
	s.mu.Unlock()
	s.publish()

	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to fetch profile")
		return err
	}
	if !applied {
		return ErrSuperseded
	}
	return nil
}

// HandleAuthEvent applies an auth-state notification pushed by the backend.
func (s *SessionStore) HandleAuthEvent(ctx context.Context, ev models.AuthEvent) error {
	switch ev.Kind {
	case models.AuthEventSignedIn:
		if err := s.inspector.Validate(ev.Session); err != nil {
			log.Warn().Err(err).Msg("Ignoring signed-in event with an invalid session")
			return &AuthError{Kind: KindSessionInvalid, Op: "auth_event", Err: err}
		}

		incoming := ev.Session.Clone()
		s.mu.Lock()
		unchanged := s.state.Session != nil && s.state.Session.AccessToken == incoming.AccessToken
		s.mu.Unlock()
		if unchanged {
			return nil
		}

		if !s.inspector.VerifiesSignature() {
			if err := s.confirmWithBackend(ctx, incoming); err != nil {
				log.Warn().Err(err).Str("user_id", incoming.User.ID.String()).Msg("Ignoring signed-in event the backend did not confirm")
				return err
			}
		}

		s.mu.Lock()
		if s.state.Session != nil && s.state.Session.AccessToken == incoming.AccessToken {
			s.mu.Unlock()
			return nil
		}
		needsProfile := s.state.Profile == nil || s.state.Profile.UserID != incoming.User.ID
		s.setSessionLocked(incoming)
		s.mu.Unlock()
		s.publish()

		log.Info().Str("user_id", incoming.User.ID.String()).Msg("Session changed by auth event")
		s.persistCurrent(ctx)

		if needsProfile {
			if err := s.FetchUserProfile(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
				return err
			}
		}
		return nil

	case models.AuthEventSignedOut:
		s.mu.Lock()
		if s.state.Session == nil {
			s.mu.Unlock()
			return nil
		}
		s.clearLocked()
		s.mu.Unlock()
		s.publish()

		log.Info().Msg("Signed out by auth event")
		return s.persistCurrent(ctx)

	default:
		return fmt.Errorf("unknown auth event %q", ev.Kind)
	}
}

// confirmWithBackend asks the user endpoint whether the access token is
// genuine and belongs to the session's user. Any failure is session_invalid.
func (s *SessionStore) confirmWithBackend(ctx context.Context, session *models.Session) error {
	user, err := s.auth.GetUser(ctx, session.AccessToken)
	if err != nil {
		return &AuthError{Kind: KindSessionInvalid, Op: "auth_event", Err: err}
	}
	if user.ID != session.User.ID {
		return &AuthError{Kind: KindSessionInvalid, Op: "auth_event", Message: "token belongs to another user"}
	}
	if user.Email != "" {
		session.User.Email = user.Email
	}
	return nil
}

// Run consumes auth events until ctx is done or events is closed.
func (s *SessionStore) Run(ctx context.Context, events <-chan models.AuthEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.HandleAuthEvent(ctx, ev); err != nil {
				log.Warn().Err(err).Str("event", string(ev.Kind)).Msg("Auth event not applied")
			}
		}
	}
}

// persistCurrent syncs the persisted slot with the current session.
func (s *SessionStore) persistCurrent(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	session := s.state.Session.Clone()
	s.mu.Unlock()

	if session == nil {
		if err := s.persister.DeleteSession(ctx, s.opts.InstallationID); err != nil {
			log.Error().Err(err).Msg("Failed to clear persisted session")
			return err
		}
		return nil
	}

	ps := &models.PersistedSession{
		Session:    *session,
		DeviceInfo: s.device,
		SavedAt:    time.Now().UTC(),
	}
	if err := s.persister.SaveSession(ctx, s.opts.InstallationID, ps); err != nil {
		log.Error().Err(err).Str("user_id", session.User.ID.String()).Msg("Failed to persist session")
		return err
	}
	return nil
}

func validateIdentifier(op, identifier string) error {
	if identifier == "" {
		return validationError(op, "email is required")
	}
	addr, err := mail.ParseAddress(identifier)
	if err != nil || addr.Address != identifier || !strings.Contains(identifier[strings.LastIndex(identifier, "@"):], ".") {
		return validationError(op, "email address is malformed")
	}
	return nil
}

func defaultProfile(user models.AuthUser) *models.UserProfile {
	username := user.Email
	if at := strings.IndexByte(username, '@'); at > 0 {
		username = username[:at]
	}
	if username == "" {
		username = "athlete-" + user.ID.String()[:8]
	}
	return &models.UserProfile{
		UserID:      user.ID,
		Username:    username,
		Preferences: models.DefaultPreferences(),
	}
}
