package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/config"
	"github.com/fyrsmithlabs/joblens/internal/coordinator"
	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
	"github.com/fyrsmithlabs/joblens/internal/store"
)

type stubAnalyzer struct {
	analysis *messages.JobAnalysis
	err      error
}

func (s *stubAnalyzer) Analyze(context.Context, string, bool) (*messages.JobAnalysis, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.analysis, nil
}

type fixture struct {
	srv      *Server
	store    *store.Store
	analyzer *stubAnalyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, nc := bus.StartTestServer(t)

	st, err := store.Open(nc, "joblens-test")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	analyzer := &stubAnalyzer{analysis: &messages.JobAnalysis{Summary: "stub", Timestamp: 1}}
	coord := coordinator.New(st, analyzer, nil, nc, reg, zap.NewNop())
	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(func() { coord.Stop() })

	cfg := config.Default().Server
	srv := NewServer(cfg, nc, st, reg, zap.NewNop())
	return &fixture{srv: srv, store: st, analyzer: analyzer}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "joblensd", resp.Service)
}

func TestMetricsExposed(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/analyze", `{"jobText":"Senior Go Engineer"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var analysis messages.JobAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	assert.Equal(t, "stub", analysis.Summary)

	// The coordinator persisted it.
	current, err := f.store.CurrentAnalysis()
	require.NoError(t, err)
	require.NotNil(t, current)
}

func TestAnalyzeEndpointRequiresText(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Classified analysis failures map onto HTTP statuses and keep the kind in
// the body.
func TestAnalyzeEndpointFailureMapping(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = fault.New(fault.InvalidCredential, "Your analysis API key was rejected.")

	rec := f.do(t, http.MethodPost, "/v1/analyze", `{"jobText":"text"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, fault.InvalidCredential, resp.Kind)
	assert.Contains(t, resp.Error, "rejected")
}

func TestCurrentAnalysisLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/analysis/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.do(t, http.MethodPost, "/v1/analyze", `{"jobText":"text"}`)

	rec = f.do(t, http.MethodGet, "/v1/analysis/current", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/analysis/current", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/analysis/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// History survives clearing the current analysis.
	rec = f.do(t, http.MethodGet, "/v1/analysis/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []messages.JobAnalysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)
}

func TestAuthStateEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/auth/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state messages.AuthStateMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.IsLoggedIn)

	require.NoError(t, f.store.SaveUserData(&messages.User{ID: "u1"}, nil))

	rec = f.do(t, http.MethodGet, "/v1/auth/state", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.IsLoggedIn)
}

func TestPreferencesEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var prefs messages.Preferences
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	assert.True(t, prefs.HighlightKeywords)

	rec = f.do(t, http.MethodPut, "/v1/preferences",
		`{"highlightKeywords":false,"panelPosition":"bottom-left","theme":"dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.store.Preferences()
	require.NoError(t, err)
	assert.False(t, stored.HighlightKeywords)
	assert.Equal(t, "dark", stored.Theme)
}
