// Package analysis calls the generative AI endpoint that turns raw job text
// into a structured JobAnalysis.
//
// Failures are classified so surfaces can react specifically: a missing
// credential and a rejected credential each prompt for settings, a reply
// with no parsable object is a response-format failure, and everything else
// is a backend failure carrying the backend's message.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// Classified failures. Callers distinguish them with errors.Is or
// fault.KindOf.
var (
	// ErrNotConfigured means no analysis credential has been stored.
	ErrNotConfigured = fault.New(fault.ConfigurationMissing,
		"Analysis API key is not configured. Open Settings and add your key.")

	// ErrInvalidCredential means the backend rejected the credential.
	ErrInvalidCredential = fault.New(fault.InvalidCredential,
		"Your analysis API key was rejected. Open Settings and update it with a valid key.")

	// ErrBadResponse means the reply carried no decodable analysis object.
	ErrBadResponse = fault.New(fault.ResponseFormat,
		"Failed to parse the AI response. Please try again.")
)

// Generation parameters, fixed by the request contract.
const (
	genTemperature     = 0.2
	genTopP            = 0.8
	genTopK            = 40
	genMaxOutputTokens = 1024
)

// Rate limiter defaults: 50 requests per minute with small bursts.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Credentials supplies the stored AI credential. An empty key with a nil
// error means no credential has been configured.
type Credentials interface {
	AnalysisKey() (string, error)
}

// Config holds client settings.
type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTextSize int
}

// Client is the AI analysis client.
type Client struct {
	cfg        Config
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates an analysis client.
func NewClient(cfg Config, creds Credentials, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		creds: creds,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		logger:  logger,
		now:     time.Now,
	}
}

// Analyze sends jobText to the AI endpoint and parses the reply. premium
// expands the requested fields; the parser still attaches premium fields
// whenever the decoded reply contains them, an intentional leniency toward
// whatever the model returns.
func (c *Client) Analyze(ctx context.Context, jobText string, premium bool) (*messages.JobAnalysis, error) {
	key, err := c.creds.AnalysisKey()
	if err != nil {
		return nil, fmt.Errorf("read analysis credential: %w", err)
	}
	if key == "" {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	if c.cfg.MaxTextSize > 0 && len(jobText) > c.cfg.MaxTextSize {
		jobText = jobText[:c.cfg.MaxTextSize]
	}

	prompt := buildPrompt(jobText, premium)
	text, err := c.generate(ctx, prompt, key)
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(text, c.now())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("analysis complete",
		zap.Bool("premium", premium),
		zap.Int("categories", len(analysis.KeywordCategories)))
	return analysis, nil
}

// generateRequest mirrors the generateContent wire format.
type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// generate performs the HTTP call and returns the reply text. No retries:
// failures surface once, immediately.
func (c *Client) generate(ctx context.Context, prompt, key string) (string, error) {
	reqBody := generateRequest{
		Contents: []requestContent{{Parts: []requestPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     genTemperature,
			TopP:            genTopP,
			TopK:            genTopK,
			MaxOutputTokens: genMaxOutputTokens,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.Model, key)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fault.Errorf(fault.Backend, "analysis request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fault.Errorf(fault.Backend, "read analysis response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		if credentialRejected(resp.StatusCode, string(body)) {
			return "", fmt.Errorf("%w (status %d)", ErrInvalidCredential, resp.StatusCode)
		}
		return "", fault.Errorf(fault.Backend, "analysis backend error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: reply had no candidates", ErrBadResponse)
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

// credentialRejected reports whether the backend response indicates an
// authorization or argument problem with the credential rather than a
// generic failure.
func credentialRejected(status int, body string) bool {
	if status != http.StatusBadRequest && status != http.StatusForbidden && status != http.StatusUnauthorized {
		return false
	}
	return strings.Contains(body, "API key not valid") ||
		strings.Contains(body, "API_KEY_INVALID") ||
		strings.Contains(body, "INVALID_ARGUMENT") ||
		strings.Contains(body, "PERMISSION_DENIED")
}
