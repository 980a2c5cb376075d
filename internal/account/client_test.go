package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
)

const testAnonKey = "anon-test-key"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		URL:     srv.URL,
		AnonKey: testAnonKey,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

// signInHandler accepts password "secret" for dev@example.com.
func signInHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, testAnonKey, r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["email"] != "dev@example.com" || body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error_description": "Invalid login credentials"})
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-123",
			"refresh_token": "refresh-123",
			"user":          map[string]string{"id": "u1", "email": "dev@example.com"},
		})
	}
}

func signIn(t *testing.T, c *Client) {
	t.Helper()
	_, err := c.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
}

func TestSignInEstablishesSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	c := newTestClient(t, mux)

	assert.Nil(t, c.CurrentUser())

	user, err := c.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	current := c.CurrentUser()
	require.NotNil(t, current)
	assert.Equal(t, "dev@example.com", current.Email)
}

func TestSignInRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	c := newTestClient(t, mux)

	_, err := c.SignIn(context.Background(), "dev@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidLogin)
	assert.Equal(t, fault.InvalidCredential, fault.KindOf(err))
	assert.Contains(t, err.Error(), "Invalid login credentials")
	assert.Nil(t, c.CurrentUser())
}

func TestSignOutDropsSessionEvenOnBackendFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	require.NoError(t, c.SignOut(context.Background()))
	assert.Nil(t, c.CurrentUser())

	// Signing out again without a session is a no-op.
	require.NoError(t, c.SignOut(context.Background()))
}

func TestTableOperationsRequireSession(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())

	_, err := c.GetProfile(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, fault.NotAuthenticated, fault.KindOf(err))
}

func TestGetSubscriptionAbsentIsNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("GET /rest/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotAcceptable)
		json.NewEncoder(w).Encode(map[string]string{"code": pgrstNoRows, "message": "no rows"})
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	sub, err := c.GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestGetSubscriptionFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("GET /rest/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		json.NewEncoder(w).Encode(messages.Subscription{
			ID:     "sub_1",
			UserID: "u1",
			Plan:   messages.PlanPremium,
			Status: messages.StatusActive,
		})
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	sub, err := c.GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.IsPremium())
}

func TestUpdateProfileExisting(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("PATCH /rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode([]Profile{{ID: "u1", FullName: "Dev Example"}})
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	profile, err := c.UpdateProfile(context.Background(), "u1", ProfileUpdate{FullName: "Dev Example"})
	require.NoError(t, err)
	assert.Equal(t, "Dev Example", profile.FullName)
}

// When the update matches no row the profile is created instead.
func TestUpdateProfileCreatesMissingRow(t *testing.T) {
	var inserted Profile

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("PATCH /rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})
	mux.HandleFunc("POST /rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inserted))
		json.NewEncoder(w).Encode([]Profile{inserted})
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	profile, err := c.UpdateProfile(context.Background(), "u1", ProfileUpdate{FullName: "New Person"})
	require.NoError(t, err)
	assert.Equal(t, "u1", profile.ID)
	assert.Equal(t, "New Person", profile.FullName)
	assert.Equal(t, "u1", inserted.ID)
}

func TestAnalysisKeyRoundTrip(t *testing.T) {
	var saved string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("PATCH /rest/v1/api_keys", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		saved, _ = body["gemini_api_key"].(string)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /rest/v1/api_keys", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"gemini_api_key": saved})
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	require.NoError(t, c.SaveAnalysisKey(context.Background(), "u1", "ai-key"))

	key, err := c.AnalysisKeyFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ai-key", key)
}

func TestAnalysesListQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("GET /rest/v1/job_analyses", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.u1", q.Get("user_id"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
		assert.Equal(t, "5", q.Get("limit"))
		json.NewEncoder(w).Encode([]SavedAnalysis{
			{ID: "a2", UserID: "u1", Summary: "newer"},
			{ID: "a1", UserID: "u1", Summary: "older"},
		})
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	rows, err := c.Analyses(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "newer", rows[0].Summary)
}

func TestDeleteAnalysis(t *testing.T) {
	deleted := false

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", signInHandler(t))
	mux.HandleFunc("DELETE /rest/v1/job_analyses", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.a1", r.URL.Query().Get("id"))
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)
	signIn(t, c)

	require.NoError(t, c.DeleteAnalysis(context.Background(), "a1"))
	assert.True(t, deleted)
}
