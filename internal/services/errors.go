package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// ErrorKind classifies every failure the session store can report.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_error"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindNetwork            ErrorKind = "network_error"
	KindServer             ErrorKind = "server_error"
	KindSessionInvalid     ErrorKind = "session_invalid"
)

// AuthError is the error type returned by session store commands.
// Op names the command ("sign_in", "refresh", ...).
type AuthError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below, so errors.Is(err, ErrNetwork) works
// for any AuthError of that kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation         = &AuthError{Kind: KindValidation}
	ErrInvalidCredentials = &AuthError{Kind: KindInvalidCredentials}
	ErrNetwork            = &AuthError{Kind: KindNetwork}
	ErrServer             = &AuthError{Kind: KindServer}
	ErrSessionInvalid     = &AuthError{Kind: KindSessionInvalid}
)

// ErrSuperseded is returned when a command completed but its result was
// discarded because a newer command of the same kind, or a sign-out, came
// after it.
var ErrSuperseded = errors.New("superseded by a newer request")

// ErrNoSession is returned by commands that need an active session.
var ErrNoSession = errors.New("no active session")

// KindOf extracts the kind of err, or "" if err is not an AuthError.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func validationError(op, message string) *AuthError {
	return &AuthError{Kind: KindValidation, Op: op, Message: message}
}

// StatusError is a non-2xx response from the auth backend's REST endpoints.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("auth backend returned %d", e.StatusCode)
}

// ClassifyError maps a backend failure onto the error taxonomy.
//
//   - transport failures and deadlines: network_error
//   - 400/401/403/422 on credential ops: invalid_credentials
//   - 4xx on refresh or user lookup: session_invalid
//   - everything else: server_error
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}

	kind := KindServer
	switch {
	case IsNetworkError(err):
		kind = KindNetwork
	default:
		if status, ok := statusOf(err); ok {
			kind = kindForStatus(op, status)
		}
	}

	return &AuthError{Kind: kind, Op: op, Err: err}
}

func kindForStatus(op string, status int) ErrorKind {
	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		return KindServer
	case status >= 400:
		switch op {
		case OpRefresh, OpGetUser, OpInitialize:
			return KindSessionInvalid
		case OpSignIn, OpSignUp:
			if status == http.StatusBadRequest || status == http.StatusUnauthorized ||
				status == http.StatusForbidden || status == http.StatusUnprocessableEntity {
				return KindInvalidCredentials
			}
		}
	}
	return KindServer
}

func statusOf(err error) (int, bool) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode, true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

// IsNetworkError reports whether err is a transport failure worth retrying.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
