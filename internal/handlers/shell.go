package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ieraasyl/FitnessShell/internal/middleware"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/internal/services"
	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/rs/zerolog"
)

// SessionController is the part of services.SessionStore driven over HTTP.
type SessionController interface {
	Snapshot() models.State
	SignIn(ctx context.Context, identifier, secret string) error
	SignUp(ctx context.Context, identifier, secret string) error
	SignOut(ctx context.Context) error
	RefreshSession(ctx context.Context) error
	FetchUserProfile(ctx context.Context) error
}

// GuardController is the part of services.NavigationGuard driven over HTTP.
type GuardController interface {
	SetLocation(path string)
	SetPendingModalPath(path string)
	ClearPendingModalPath()
	RestorePendingModal(ctx context.Context) error
	Status() services.GuardStatus
}

// LifecycleController is the part of services.LifecycleObserver driven over HTTP.
type LifecycleController interface {
	HandleAppState(ctx context.Context, next models.AppState) error
	AppState() models.AppState
	IsAppResuming() bool
}

// NavigationLog exposes the navigations the guard performed.
type NavigationLog interface {
	Current() string
	History() []services.NavigationEntry
}

// TokenReader builds sessions from token pairs pushed by the auth backend.
type TokenReader interface {
	SessionFromToken(accessToken, refreshToken string, expiresAt time.Time) (*models.Session, error)
}

// ShellHandler is the control surface of the session shell. The host app
// reports screen locations and lifecycle transitions, submits the login and
// sign-up forms, and reads back the store snapshot and the navigations the
// guard performed.
type ShellHandler struct {
	store     SessionController
	guard     GuardController
	lifecycle LifecycleController
	nav       NavigationLog
	tokens    TokenReader
	events    chan<- models.AuthEvent
}

// NewShellHandler wires the handler to the running shell components.
// events receives auth-state notifications forwarded by the backend hook;
// SessionStore.Run consumes them.
func NewShellHandler(
	store SessionController,
	guard GuardController,
	lifecycle LifecycleController,
	nav NavigationLog,
	tokens TokenReader,
	events chan<- models.AuthEvent,
) *ShellHandler {
	return &ShellHandler{
		store:     store,
		guard:     guard,
		lifecycle: lifecycle,
		nav:       nav,
		tokens:    tokens,
		events:    events,
	}
}

// Routes mounts every endpoint. Credential submissions are wrapped by
// limit and profile reads by requireSession. Either may be nil.
//
//	r.Mount("/api/v1", shellHandler.Routes(limiter.Limit, middleware.RequireSession(store)))
func (h *ShellHandler) Routes(
	limit func(endpoint string) func(http.Handler) http.Handler,
	requireSession func(http.Handler) http.Handler,
) chi.Router {
	r := chi.NewRouter()

	withLimit := func(endpoint string) chi.Router {
		if limit == nil {
			return r
		}
		return r.With(limit(endpoint))
	}

	r.Get("/state", h.State)

	withLimit(services.OpSignIn).Post("/auth/sign-in", h.SignIn)
	withLimit(services.OpSignUp).Post("/auth/sign-up", h.SignUp)
	r.Post("/auth/sign-out", h.SignOut)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/events", h.AuthEvent)

	if requireSession != nil {
		r.With(requireSession).Post("/profile/fetch", h.FetchProfile)
	} else {
		r.Post("/profile/fetch", h.FetchProfile)
	}

	r.Post("/lifecycle", h.AppState)

	r.Put("/navigation/location", h.SetLocation)
	r.Put("/navigation/pending-modal", h.SetPendingModal)
	r.Delete("/navigation/pending-modal", h.ClearPendingModal)
	r.Post("/navigation/pending-modal/restore", h.RestorePendingModal)
	r.Get("/navigation/history", h.History)

	return r
}

// StateResponse is the snapshot returned by GET /state and by every command.
// Tokens never appear in it.
type StateResponse struct {
	Version       uint64               `json:"version"`
	Phase         models.Phase         `json:"phase"`
	Initialized   bool                 `json:"initialized"`
	Loading       bool                 `json:"loading"`
	Authenticated bool                 `json:"authenticated"`
	Session       *models.SessionView  `json:"session"`
	Profile       *models.UserProfile  `json:"profile"`
	AppState      models.AppState      `json:"app_state"`
	AppResuming   bool                 `json:"app_resuming"`
	Guard         services.GuardStatus `json:"guard"`
	Screen        string               `json:"screen"`
}

func (h *ShellHandler) stateResponse() StateResponse {
	st := h.store.Snapshot()
	return StateResponse{
		Version:       st.Version,
		Phase:         st.Phase,
		Initialized:   st.Initialized,
		Loading:       st.Loading,
		Authenticated: st.Authenticated(),
		Session:       st.Session.View(),
		Profile:       st.Profile,
		AppState:      h.lifecycle.AppState(),
		AppResuming:   h.lifecycle.IsAppResuming(),
		Guard:         h.guard.Status(),
		Screen:        h.nav.Current(),
	}
}

// State returns the current snapshot.
//
//	GET /api/v1/state
func (h *ShellHandler) State(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, h.stateResponse())
}

// CredentialsRequest is the body of the sign-in and sign-up forms.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn submits the login form.
//
//	POST /api/v1/auth/sign-in
//	{"email": "user@example.com", "password": "correctpass"}
//
// Errors carry a kind (validation_error, invalid_credentials,
// network_error, server_error) for the screen's inline message.
func (h *ShellHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.store.SignIn(r.Context(), req.Email, req.Password); err != nil {
		respondAuthError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, h.stateResponse())
}

// SignUp submits the sign-up form.
//
//	POST /api/v1/auth/sign-up
func (h *ShellHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.store.SignUp(r.Context(), req.Email, req.Password); err != nil {
		respondAuthError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, r, http.StatusCreated, h.stateResponse())
}

// SignOutResponse reports a completed local sign-out. RemoteError is set
// when the backend could not be told.
type SignOutResponse struct {
	State       StateResponse `json:"state"`
	RemoteError string        `json:"remote_error,omitempty"`
}

// SignOut clears the session. Local state is always cleared, so the call
// succeeds even when the backend is unreachable.
//
//	POST /api/v1/auth/sign-out
func (h *ShellHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	resp := SignOutResponse{}
	if err := h.store.SignOut(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Remote sign-out incomplete")
		resp.RemoteError = err.Error()
	}
	resp.State = h.stateResponse()
	utils.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Refresh renews the session. On failure the session is gone and the
// response is 401 with kind session_invalid (or the network/server kind).
//
//	POST /api/v1/auth/refresh
func (h *ShellHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RefreshSession(r.Context()); err != nil {
		respondAuthError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, h.stateResponse())
}

// AuthEventRequest is an auth-state notification forwarded from the
// backend. Tokens are required for "signed_in".
type AuthEventRequest struct {
	Type         models.AuthEventKind `json:"type"`
	AccessToken  string               `json:"access_token,omitempty"`
	RefreshToken string               `json:"refresh_token,omitempty"`
	ExpiresIn    int64                `json:"expires_in,omitempty"`
}

// AuthEvent queues an auth-state notification for the store.
//
//	POST /api/v1/auth/events
//	{"type": "signed_out"}
func (h *ShellHandler) AuthEvent(w http.ResponseWriter, r *http.Request) {
	var req AuthEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var ev models.AuthEvent
	switch req.Type {
	case models.AuthEventSignedOut:
		ev = models.SignedOut()
	case models.AuthEventSignedIn:
		var expiresAt time.Time
		if req.ExpiresIn > 0 {
			expiresAt = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
		}
		session, err := h.tokens.SessionFromToken(req.AccessToken, req.RefreshToken, expiresAt)
		if err != nil {
			utils.RespondWithErrorKind(w, r, http.StatusBadRequest, string(services.KindSessionInvalid), "Event carries an unusable token")
			return
		}
		ev = models.SignedIn(session)
	default:
		utils.RespondWithError(w, r, http.StatusBadRequest, "Unknown event type")
		return
	}

	select {
	case h.events <- ev:
		utils.RespondWithMessage(w, r, http.StatusAccepted, "Event queued")
	case <-r.Context().Done():
		utils.RespondWithError(w, r, http.StatusServiceUnavailable, "Event queue is full")
	}
}

// FetchProfile reloads the profile of the signed-in user. When the gate
// admitted a user who is no longer signed in by the time the fetch ends, the
// response is 409.
//
//	POST /api/v1/profile/fetch
func (h *ShellHandler) FetchProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.store.FetchUserProfile(r.Context()); err != nil {
		respondAuthError(w, r, err)
		return
	}

	resp := h.stateResponse()
	if userID, ok := middleware.GetUserID(r.Context()); ok && (resp.Session == nil || resp.Session.UserID != userID) {
		respondAuthError(w, r, services.ErrSuperseded)
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, resp)
}

// AppStateRequest reports an OS lifecycle transition.
type AppStateRequest struct {
	State string `json:"state"`
}

// AppStateResponse is returned once a transition, including any resume
// refresh, has been handled.
type AppStateResponse struct {
	State        StateResponse `json:"state"`
	RefreshError string        `json:"refresh_error,omitempty"`
}

// AppState reports "active", "inactive" or "background". Returning to
// active refreshes the session before the response is written.
//
//	POST /api/v1/lifecycle
//	{"state": "active"}
func (h *ShellHandler) AppState(w http.ResponseWriter, r *http.Request) {
	var req AppStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	next, err := models.ParseAppState(req.State)
	if err != nil {
		utils.RespondWithErrorKind(w, r, http.StatusBadRequest, string(services.KindValidation), err.Error())
		return
	}

	resp := AppStateResponse{}
	if err := h.lifecycle.HandleAppState(r.Context(), next); err != nil {
		resp.RefreshError = string(services.KindOf(err))
		if resp.RefreshError == "" {
			resp.RefreshError = err.Error()
		}
	}
	resp.State = h.stateResponse()
	utils.RespondWithJSON(w, r, http.StatusOK, resp)
}

// PathRequest carries a screen path.
type PathRequest struct {
	Path string `json:"path"`
}

// SetLocation reports the screen the host is showing.
//
//	PUT /api/v1/navigation/location
//	{"path": "/(tabs)/workouts"}
func (h *ShellHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodePath(w, r, &req) {
		return
	}

	h.guard.SetLocation(req.Path)
	utils.RespondWithJSON(w, r, http.StatusOK, h.stateResponse())
}

// SetPendingModal queues a modal to reopen once the user is back.
//
//	PUT /api/v1/navigation/pending-modal
//	{"path": "/modals/body-weight"}
func (h *ShellHandler) SetPendingModal(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodePath(w, r, &req) {
		return
	}

	h.guard.SetPendingModalPath(req.Path)
	utils.RespondWithJSON(w, r, http.StatusOK, h.stateResponse())
}

// ClearPendingModal drops the queued modal.
//
//	DELETE /api/v1/navigation/pending-modal
func (h *ShellHandler) ClearPendingModal(w http.ResponseWriter, r *http.Request) {
	h.guard.ClearPendingModalPath()
	utils.RespondWithJSON(w, r, http.StatusOK, h.stateResponse())
}

// RestorePendingModal opens the queued modal.
//
//	POST /api/v1/navigation/pending-modal/restore
func (h *ShellHandler) RestorePendingModal(w http.ResponseWriter, r *http.Request) {
	err := h.guard.RestorePendingModal(r.Context())
	switch {
	case err == nil:
		utils.RespondWithJSON(w, r, http.StatusOK, h.stateResponse())
	case errors.Is(err, services.ErrResuming):
		utils.RespondWithErrorKind(w, r, http.StatusConflict, "resuming", "App is resuming, try again")
	case errors.Is(err, services.ErrNotAuthenticated):
		utils.RespondWithErrorKind(w, r, http.StatusUnauthorized, "not_authenticated", "Sign in to continue")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to restore pending modal")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to restore modal")
	}
}

// HistoryResponse lists the navigations performed so far.
type HistoryResponse struct {
	Current string                     `json:"current"`
	Entries []services.NavigationEntry `json:"entries"`
}

// History returns the guard's navigations, oldest first.
//
//	GET /api/v1/navigation/history
func (h *ShellHandler) History(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, HistoryResponse{
		Current: h.nav.Current(),
		Entries: h.nav.History(),
	})
}

// respondAuthError maps an error kind onto an HTTP status.
func respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, services.ErrSuperseded) {
		utils.RespondWithErrorKind(w, r, http.StatusConflict, "superseded", "A newer request replaced this one")
		return
	}

	kind := services.KindOf(err)
	status := http.StatusInternalServerError
	message := "Something went wrong"

	switch kind {
	case services.KindValidation:
		status = http.StatusBadRequest
		var ae *services.AuthError
		if errors.As(err, &ae) && ae.Message != "" {
			message = ae.Message
		}
	case services.KindInvalidCredentials:
		status = http.StatusUnauthorized
		message = "Invalid email or password"
	case services.KindSessionInvalid:
		status = http.StatusUnauthorized
		message = "Session expired, sign in again"
	case services.KindNetwork:
		status = http.StatusServiceUnavailable
		message = "Auth service unreachable, check your connection"
	case services.KindServer:
		status = http.StatusBadGateway
		message = "Auth service error, try again later"
	}

	logger := zerolog.Ctx(r.Context())
	if status >= 500 {
		logger.Error().Err(err).Str("kind", string(kind)).Msg("Command failed")
	} else {
		logger.Debug().Err(err).Str("kind", string(kind)).Msg("Command rejected")
	}

	utils.RespondWithErrorKind(w, r, status, string(kind), message)
}

const maxBodyBytes = 1 << 16

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		utils.RespondWithErrorKind(w, r, http.StatusBadRequest, string(services.KindValidation), "Invalid request body")
		return false
	}
	return true
}

func decodePath(w http.ResponseWriter, r *http.Request, req *PathRequest) bool {
	if !decodeJSON(w, r, req) {
		return false
	}
	if req.Path == "" || req.Path[0] != '/' {
		utils.RespondWithErrorKind(w, r, http.StatusBadRequest, string(services.KindValidation), "Path must be absolute")
		return false
	}
	return true
}
