// Package surface implements the user-facing controllers: the popup that
// drives analysis of the current page, and the settings controller that
// manages credentials, the account session, preferences, and upgrades.
//
// Surfaces never own shared state. They read the store, send requests to
// the coordinator, and track auth through its broadcasts.
package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
	"github.com/fyrsmithlabs/joblens/internal/store"
)

// restrictedPrefixes are page URLs no agent can run on.
var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
}

// ErrRestrictedPage means the target page is a browser system page.
var ErrRestrictedPage = fault.New(fault.RestrictedPage,
	"This page cannot be analyzed. Browser system pages are off limits; navigate to a regular website.")

// ErrNoJobText means the page yielded no job description.
var ErrNoJobText = fault.New(fault.NoContent,
	"No job description found on this page. Navigate to a page with a job posting and try again.")

// Request timeouts. Extraction is local tree walking; analysis crosses the
// AI backend.
const (
	extractTimeout = 10 * time.Second
	analyzeTimeout = 90 * time.Second
	ackTimeout     = 10 * time.Second
)

// RestrictedURL reports whether url is off limits for page agents.
func RestrictedURL(url string) bool {
	for _, prefix := range restrictedPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// Popup is the analysis-driving surface.
type Popup struct {
	nc     *nats.Conn
	store  *store.Store
	logger *zap.Logger

	mu    sync.RWMutex
	state messages.AuthState
	sub   *nats.Subscription

	// OnAuthChange, when set before Start, observes every auth broadcast.
	OnAuthChange func(messages.AuthState)
}

// NewPopup creates a popup surface.
func NewPopup(nc *nats.Conn, st *store.Store, logger *zap.Logger) *Popup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Popup{nc: nc, store: st, logger: logger}
}

// Start loads the persisted auth state and subscribes to broadcasts. The
// store read covers broadcasts sent before this surface existed.
func (p *Popup) Start() error {
	state, err := p.store.AuthState()
	if err != nil {
		return fmt.Errorf("load auth state: %w", err)
	}
	p.setState(state)

	sub, err := p.nc.Subscribe(bus.SubjectAuthState, func(m *nats.Msg) {
		var msg messages.AuthStateMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			p.logger.Warn("undecodable auth broadcast", zap.Error(err))
			return
		}
		p.setState(msg.State())
	})
	if err != nil {
		return fmt.Errorf("subscribe auth broadcasts: %w", err)
	}
	p.sub = sub
	return nil
}

// Stop unsubscribes from broadcasts.
func (p *Popup) Stop() error {
	if p.sub == nil {
		return nil
	}
	if err := p.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe auth broadcasts: %w", err)
	}
	p.sub = nil
	return nil
}

func (p *Popup) setState(state messages.AuthState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	if p.OnAuthChange != nil {
		p.OnAuthChange(state)
	}
}

// AuthState returns the last observed auth state.
func (p *Popup) AuthState() messages.AuthState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// AnalyzeCurrentPage drives the full flow for the page identified by
// pageID at pageURL: extract there, analyze through the coordinator, then
// push the result back to the page for display.
func (p *Popup) AnalyzeCurrentPage(ctx context.Context, pageID, pageURL string) (*messages.JobAnalysis, error) {
	if RestrictedURL(pageURL) {
		return nil, ErrRestrictedPage
	}

	jobText, err := p.extract(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if jobText == "" {
		return nil, ErrNoJobText
	}

	response, err := p.analyze(ctx, jobText)
	if err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, fault.New(response.ErrorKind, response.Error)
	}

	// Push the result to the page so the panel renders there too. The
	// popup's own display does not depend on this succeeding.
	if err := p.forwardResult(ctx, pageID, response); err != nil {
		p.logger.Warn("forward result to page", zap.String("page_id", pageID), zap.Error(err))
	}
	return response.Analysis, nil
}

func (p *Popup) extract(ctx context.Context, pageID string) (string, error) {
	payload, err := messages.Encode(messages.NewExtractRequest())
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	reply, err := p.nc.RequestWithContext(reqCtx, bus.PageSubject(pageID), payload)
	if err != nil {
		return "", fault.Errorf(fault.Backend, "reach page %s: %v", pageID, err)
	}

	var resp messages.ExtractResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return "", fault.Errorf(fault.ResponseFormat, "decode extraction response: %v", err)
	}
	return resp.JobText, nil
}

func (p *Popup) analyze(ctx context.Context, jobText string) (messages.AnalyzeResponse, error) {
	payload, err := messages.Encode(messages.NewAnalyzeRequest(jobText))
	if err != nil {
		return messages.AnalyzeResponse{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	reply, err := p.nc.RequestWithContext(reqCtx, bus.SubjectCoordinator, payload)
	if err != nil {
		return messages.AnalyzeResponse{}, fault.Errorf(fault.Backend, "analysis request: %v", err)
	}

	var resp messages.AnalyzeResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return messages.AnalyzeResponse{}, fault.Errorf(fault.ResponseFormat, "decode analysis response: %v", err)
	}
	return resp, nil
}

func (p *Popup) forwardResult(ctx context.Context, pageID string, response messages.AnalyzeResponse) error {
	payload, err := messages.Encode(response)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	if _, err := p.nc.RequestWithContext(reqCtx, bus.PageSubject(pageID), payload); err != nil {
		return fmt.Errorf("push result: %w", err)
	}
	return nil
}

// ClearAnalysis drops the stored current analysis and retires the page's
// overlay.
func (p *Popup) ClearAnalysis(ctx context.Context, pageID string) error {
	payload, err := messages.Encode(messages.NewClearAnalysis())
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	if _, err := p.nc.RequestWithContext(reqCtx, bus.SubjectCoordinator, payload); err != nil {
		return fault.Errorf(fault.Backend, "clear analysis: %v", err)
	}

	if pageID != "" {
		if _, err := p.nc.RequestWithContext(reqCtx, bus.PageSubject(pageID), payload); err != nil {
			p.logger.Warn("clear page overlay", zap.String("page_id", pageID), zap.Error(err))
		}
	}
	return nil
}

// CurrentAnalysis returns the stored current analysis, or nil.
func (p *Popup) CurrentAnalysis() (*messages.JobAnalysis, error) {
	return p.store.CurrentAnalysis()
}

// History returns the stored analysis history, most recent first.
func (p *Popup) History() ([]messages.JobAnalysis, error) {
	return p.store.RecentAnalyses()
}
