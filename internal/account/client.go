// Package account talks to the hosted account backend: authentication,
// profiles, subscriptions, per-user API keys, and saved analyses.
//
// The backend speaks the PostgREST conventions: table operations are
// /rest/v1/<table> with eq. filters, auth operations live under /auth/v1.
// Requests carry the project's anon key plus the session's bearer token.
// There are no retries; a failed call surfaces once.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// pgrstNoRows is the backend's code for a single-object request matching no
// rows.
const pgrstNoRows = "PGRST116"

// ErrNotAuthenticated means an operation needing a session ran without one.
var ErrNotAuthenticated = fault.New(fault.NotAuthenticated, "You are not signed in.")

// ErrInvalidLogin means the backend rejected the email/password pair.
var ErrInvalidLogin = fault.New(fault.InvalidCredential, "Invalid email or password.")

// Config holds client settings.
type Config struct {
	URL     string
	AnonKey string
	Timeout time.Duration
}

// session is the authenticated state. Guarded by Client.mu.
type session struct {
	accessToken  string
	refreshToken string
	user         messages.User
}

// Client is the account backend client. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.RWMutex
	session *session
}

// NewClient creates an account client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// tokenResponse is the auth endpoint's reply for signup and sign-in.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         messages.User `json:"user"`
}

// authError is the auth endpoint's error body. Field names vary across
// endpoint versions, so all candidates are decoded.
type authError struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

func (e authError) text() string {
	for _, s := range []string{e.Message, e.Msg, e.ErrorDescription} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignUp registers a new user. The backend provisions the profile, a free
// subscription, and an empty API key record for the new account. The
// returned user may be unconfirmed depending on backend settings.
func (c *Client) SignUp(ctx context.Context, email, password string) (*messages.User, error) {
	var reply tokenResponse
	err := c.authPost(ctx, "/auth/v1/signup", map[string]string{
		"email":    email,
		"password": password,
	}, &reply)
	if err != nil {
		return nil, err
	}

	if reply.AccessToken != "" {
		c.setSession(&session{
			accessToken:  reply.AccessToken,
			refreshToken: reply.RefreshToken,
			user:         reply.User,
		})
	}
	c.logger.Info("user signed up", zap.String("user_id", reply.User.ID))
	return &reply.User, nil
}

// SignIn authenticates with email and password and establishes the session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*messages.User, error) {
	var reply tokenResponse
	err := c.authPost(ctx, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	}, &reply)
	if err != nil {
		return nil, err
	}

	c.setSession(&session{
		accessToken:  reply.AccessToken,
		refreshToken: reply.RefreshToken,
		user:         reply.User,
	})
	c.logger.Info("user signed in", zap.String("user_id", reply.User.ID))
	return &reply.User, nil
}

// SignOut revokes the session on the backend and drops it locally. The
// local session is dropped even when revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.currentSession()
	c.setSession(nil)
	if s == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("create logout request: %w", err)
	}
	c.setAuthHeaders(req, s.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Errorf(fault.Backend, "sign out: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	c.logger.Info("user signed out", zap.String("user_id", s.user.ID))
	return nil
}

// CurrentUser returns the signed-in user, or nil when there is no session.
func (c *Client) CurrentUser() *messages.User {
	s := c.currentSession()
	if s == nil {
		return nil
	}
	u := s.user
	return &u
}

// authPost posts a JSON body to an auth endpoint and decodes the reply.
func (c *Client) authPost(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Errorf(fault.Backend, "account request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fault.Errorf(fault.Backend, "read account response: %v", err)
	}

	if resp.StatusCode >= 400 {
		var authErr authError
		json.Unmarshal(data, &authErr)
		msg := authErr.text()
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			if msg != "" {
				return fmt.Errorf("%w: %s", ErrInvalidLogin, msg)
			}
			return ErrInvalidLogin
		}
		return fault.Errorf(fault.Backend, "account backend error: %d %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fault.Errorf(fault.ResponseFormat, "decode account response: %v", err)
	}
	return nil
}

// setAuthHeaders sets the anon key and bearer token. Without a session the
// anon key doubles as the bearer, which is the backend's convention.
func (c *Client) setAuthHeaders(req *http.Request, accessToken string) {
	req.Header.Set("apikey", c.cfg.AnonKey)
	if accessToken == "" {
		accessToken = c.cfg.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Client) currentSession() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// restError is the table endpoint's error body.
type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rest performs a table operation. filters are raw query parameters like
// "id=eq.u1". single adds the single-object header so the reply is one
// object rather than an array. A single-object request matching no rows
// returns errNoRows.
func (c *Client) rest(ctx context.Context, method, table string, filters []string, body any, single bool, out any) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotAuthenticated
	}

	endpoint := c.cfg.URL + "/rest/v1/" + table
	if len(filters) > 0 {
		endpoint += "?" + strings.Join(filters, "&")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return fmt.Errorf("build table request: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal table request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create table request: %w", err)
	}
	c.setAuthHeaders(req, s.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if out != nil && (method == http.MethodPost || method == http.MethodPatch) {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Errorf(fault.Backend, "account request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fault.Errorf(fault.Backend, "read account response: %v", err)
	}

	if resp.StatusCode >= 400 {
		var restErr restError
		json.Unmarshal(data, &restErr)
		if restErr.Code == pgrstNoRows {
			return errNoRows
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: session rejected", ErrNotAuthenticated)
		}
		return fault.Errorf(fault.Backend, "account backend error: %d %s %s", resp.StatusCode, restErr.Code, restErr.Message)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fault.Errorf(fault.ResponseFormat, "decode account response: %v", err)
	}
	return nil
}

// errNoRows marks a single-object read that matched nothing. Internal;
// table operations translate it to nil results or create-then-retry.
var errNoRows = fmt.Errorf("account: no rows")
