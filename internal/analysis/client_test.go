package analysis

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
)

type staticCreds struct {
	key string
	err error
}

func (c staticCreds) AnalysisKey() (string, error) { return c.key, c.err }

func newTestClient(t *testing.T, key string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:     srv.URL,
		Model:       "test-model",
		Timeout:     5 * time.Second,
		MaxTextSize: 64 * 1024,
	}, staticCreds{key: key}, zap.NewNop())
}

// replyWith wraps text in the generateContent response envelope.
func replyWith(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	})
	return string(body)
}

func TestAnalyzeNotConfigured(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a credential")
	})

	_, err := c.Analyze(context.Background(), "some job", false)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, fault.ConfigurationMissing, fault.KindOf(err))
	assert.True(t, fault.NeedsSettings(fault.KindOf(err)))
}

func TestAnalyzeInvalidCredential(t *testing.T) {
	c := newTestClient(t, "bad-key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := c.Analyze(context.Background(), "some job", false)
	require.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, fault.InvalidCredential, fault.KindOf(err))
	assert.True(t, fault.NeedsSettings(fault.KindOf(err)))
}

func TestAnalyzeBackendError(t *testing.T) {
	c := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream overloaded"))
	})

	_, err := c.Analyze(context.Background(), "some job", false)
	require.Error(t, err)
	assert.Equal(t, fault.Backend, fault.KindOf(err))
	assert.Contains(t, err.Error(), "upstream overloaded")
	assert.False(t, fault.NeedsSettings(fault.KindOf(err)))
}

func TestAnalyzeParsesProseWrappedReply(t *testing.T) {
	reply := "Sure! Here is the analysis:\n```json\n" +
		`{"summary":"A backend role.","keywordCategories":[{"name":"Technical Skills","keywords":["Go","SQL"]}]}` +
		"\n```\nLet me know if you need anything else."

	var gotPath string
	c := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(replyWith(reply)))
	})

	analysis, err := c.Analyze(context.Background(), "some job", false)
	require.NoError(t, err)

	assert.Equal(t, "/models/test-model:generateContent", gotPath)
	assert.Equal(t, "A backend role.", analysis.Summary)
	require.Len(t, analysis.KeywordCategories, 1)
	assert.Equal(t, []string{"Go", "SQL"}, analysis.KeywordCategories[0].Keywords)
	assert.NotZero(t, analysis.Timestamp)
	assert.Nil(t, analysis.AdvancedSkills)
	assert.Empty(t, analysis.SalaryEstimate)
}

// Premium fields present in the reply are kept even when the request did not
// ask for them.
func TestAnalyzeKeepsUnrequestedPremiumFields(t *testing.T) {
	reply := `{"summary":"S","keywordCategories":[],"salaryEstimate":"$100k-$130k",` +
		`"advancedSkillsAnalysis":{"coreSkills":["Go"],"niceToHaveSkills":[],"emergingTrends":null,"skillGapSuggestions":["learn k8s"]}}`

	c := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(replyWith(reply)))
	})

	analysis, err := c.Analyze(context.Background(), "some job", false)
	require.NoError(t, err)

	assert.Equal(t, "$100k-$130k", analysis.SalaryEstimate)
	require.NotNil(t, analysis.AdvancedSkills)
	assert.Equal(t, []string{"Go"}, analysis.AdvancedSkills.CoreSkills)
	// Null sub-arrays normalize to empty.
	assert.NotNil(t, analysis.AdvancedSkills.EmergingTrends)
	assert.Empty(t, analysis.AdvancedSkills.EmergingTrends)
}

func TestAnalyzeNoObjectInReply(t *testing.T) {
	c := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(replyWith("I could not produce an analysis for that text.")))
	})

	_, err := c.Analyze(context.Background(), "some job", false)
	require.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, fault.ResponseFormat, fault.KindOf(err))
}

func TestAnalyzeDefaultsMissingSummary(t *testing.T) {
	c := newTestClient(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(replyWith(`{"keywordCategories":[]}`)))
	})

	analysis, err := c.Analyze(context.Background(), "some job", false)
	require.NoError(t, err)
	assert.Equal(t, "No summary available", analysis.Summary)
	assert.NotNil(t, analysis.KeywordCategories)
}

func TestBuildPromptPremiumSections(t *testing.T) {
	base := buildPrompt("job text", false)
	premium := buildPrompt("job text", true)

	assert.Contains(t, base, "Technical Skills")
	assert.NotContains(t, base, "salaryEstimate")
	assert.NotContains(t, base, "Company Culture")

	assert.Contains(t, premium, "Company Culture")
	assert.Contains(t, premium, "Potential Red Flags")
	assert.Contains(t, premium, "salaryEstimate")
	assert.Contains(t, premium, "advancedSkillsAnalysis")
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare object", in: `{"a":1}`, want: `{"a":1}`},
		{name: "prose around", in: "before {\"a\":1} after", want: `{"a":1}`},
		{name: "nested", in: `x {"a":{"b":2}} y`, want: `{"a":{"b":2}}`},
		{name: "brace in string", in: `{"a":"}{"}`, want: `{"a":"}{"}`},
		{name: "escaped quote in string", in: `{"a":"he said \"}\""}`, want: `{"a":"he said \"}\""}`},
		{name: "no object", in: "nothing here", wantErr: true},
		{name: "unbalanced", in: `{"a":1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractObject(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
