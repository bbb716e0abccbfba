// Package services implements the session controller: the session store that
// owns credentials and the user profile, the app lifecycle observer that
// refreshes on resume, and the navigation guard that redirects between the
// public and protected screen groups.
//
// The remote auth backend is reached through AuthBackend; AuthClient is the
// production implementation speaking a GoTrue-style REST API.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/pkg/config"
	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Operation names used in errors, logs and metrics.
const (
	OpInitialize = "initialize"
	OpSignIn     = "sign_in"
	OpSignUp     = "sign_up"
	OpSignOut    = "sign_out"
	OpRefresh    = "refresh"
	OpGetUser    = "get_user"
	OpProfile    = "profile"
)

// AuthBackend is the remote auth service consumed by the session store.
type AuthBackend interface {
	SignInWithPassword(ctx context.Context, identifier, secret string) (*models.Session, error)
	SignUp(ctx context.Context, identifier, secret string) (*models.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	GetUser(ctx context.Context, accessToken string) (*models.AuthUser, error)
}

// AuthClient talks to a GoTrue-style auth backend. Token grants go through
// golang.org/x/oauth2; sign-up, user lookup and logout are plain JSON calls.
// Every request carries the project's API key in the "apikey" header.
type AuthClient struct {
	baseURL    string
	oauth      *oauth2.Config
	httpClient *http.Client
	inspector  *TokenInspector
	retry      utils.RetryConfig
}

// NewAuthClient creates a client for the backend described by cfg.
//
// Example:
//
//	client := services.NewAuthClient(&cfg.Auth, services.NewTokenInspector(cfg.Auth.JWTSecret, cfg.Auth.ClockSkew))
//	session, err := client.SignInWithPassword(ctx, "user@example.com", "correctpass")
func NewAuthClient(cfg *config.AuthConfig, inspector *TokenInspector) *AuthClient {
	httpClient := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &apiKeyTransport{
			apiKey: cfg.APIKey,
			base:   http.DefaultTransport,
		},
	}

	return &AuthClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		inspector:  inspector,
		retry:      utils.ExternalAPIRetryConfig(IsNetworkError),
	}
}

type apiKeyTransport struct {
	apiKey string
	base   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("apikey", t.apiKey)
	return t.base.RoundTrip(req)
}

// SignInWithPassword exchanges an email and password for a session using the
// OAuth2 password grant.
func (c *AuthClient) SignInWithPassword(ctx context.Context, identifier, secret string) (*models.Session, error) {
	token, err := utils.RetryWithResult(ctx, c.retry, func() (*oauth2.Token, error) {
		return c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), identifier, secret)
	})
	if err != nil {
		return nil, ClassifyError(OpSignIn, err)
	}

	return c.sessionFromToken(OpSignIn, token)
}

// RefreshSession renews a session with the refresh-token grant.
func (c *AuthClient) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, &AuthError{Kind: KindSessionInvalid, Op: OpRefresh, Message: "no refresh token"}
	}

	token, err := utils.RetryWithResult(ctx, c.retry, func() (*oauth2.Token, error) {
		return c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if err != nil {
		return nil, ClassifyError(OpRefresh, err)
	}

	// Some backends rotate the refresh token, others keep it.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	return c.sessionFromToken(OpRefresh, token)
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse is the session payload returned by /signup. When the backend
// requires email confirmation it returns only the user.
type tokenResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresIn    int64            `json:"expires_in"`
	User         *models.AuthUser `json:"user"`
}

// SignUp creates an account and returns its first session.
func (c *AuthClient) SignUp(ctx context.Context, identifier, secret string) (*models.Session, error) {
	body := signUpRequest{Email: identifier, Password: secret}

	var resp tokenResponse
	err := utils.Retry(ctx, c.retry, func() error {
		return c.doJSON(ctx, http.MethodPost, "/signup", "", body, &resp)
	})
	if err != nil {
		return nil, ClassifyError(OpSignUp, err)
	}

	if resp.AccessToken == "" {
		return nil, &AuthError{
			Kind:    KindServer,
			Op:      OpSignUp,
			Message: "account created but no session was issued; confirm the email address and sign in",
		}
	}

	token := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	return c.sessionFromToken(OpSignUp, token)
}

// GetUser validates an access token remotely and returns its identity.
func (c *AuthClient) GetUser(ctx context.Context, accessToken string) (*models.AuthUser, error) {
	var user models.AuthUser
	err := utils.Retry(ctx, c.retry, func() error {
		return c.doJSON(ctx, http.MethodGet, "/user", accessToken, nil, &user)
	})
	if err != nil {
		return nil, ClassifyError(OpGetUser, err)
	}
	return &user, nil
}

// SignOut revokes the session server-side. It is best effort and never
// retried; callers clear local state regardless.
func (c *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/logout", accessToken, nil, nil); err != nil {
		return ClassifyError(OpSignOut, err)
	}
	return nil
}

func (c *AuthClient) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *AuthClient) sessionFromToken(op string, token *oauth2.Token) (*models.Session, error) {
	session, err := c.inspector.SessionFromToken(token.AccessToken, token.RefreshToken, token.Expiry)
	if err != nil {
		log.Error().Err(err).Str("op", op).Msg("Backend issued an unusable access token")
		return nil, &AuthError{Kind: KindServer, Op: op, Err: err}
	}
	return session, nil
}

type backendError struct {
	Code        string `json:"error_code"`
	Error       string `json:"error"`
	Message     string `json:"msg"`
	Description string `json:"error_description"`
}

func (c *AuthClient) doJSON(ctx context.Context, method, path, bearer string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var be backendError
		_ = json.Unmarshal(data, &be)
		msg := be.Message
		if msg == "" {
			msg = be.Description
		}
		code := be.Code
		if code == "" {
			code = be.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
