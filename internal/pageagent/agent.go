package pageagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// defaultRequestTimeout bounds the round trip to the coordinator. The
// analysis itself can take most of a minute, so this sits above the
// analysis client's own timeout.
const defaultRequestTimeout = 90 * time.Second

// Agent serves one page on the bus. It answers extraction requests, runs
// the full analyze-and-display flow, applies pushed results, and clears.
type Agent struct {
	id      string
	page    *Page
	nc      *nats.Conn
	prefs   messages.Preferences
	timeout time.Duration
	logger  *zap.Logger
	sub     *nats.Subscription
}

// NewAgent creates an agent for the page identified by id.
func NewAgent(id string, page *Page, nc *nats.Conn, prefs messages.Preferences, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		id:      id,
		page:    page,
		nc:      nc,
		prefs:   prefs,
		timeout: defaultRequestTimeout,
		logger:  logger.With(zap.String("page_id", id)),
	}
}

// Start subscribes the agent to its page subject.
func (a *Agent) Start() error {
	sub, err := a.nc.Subscribe(bus.PageSubject(a.id), a.handle)
	if err != nil {
		return fmt.Errorf("subscribe page subject: %w", err)
	}
	a.sub = sub
	a.logger.Info("page agent started")
	return nil
}

// Stop unsubscribes the agent.
func (a *Agent) Stop() error {
	if a.sub == nil {
		return nil
	}
	if err := a.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe page subject: %w", err)
	}
	a.sub = nil
	return nil
}

func (a *Agent) handle(m *nats.Msg) {
	decoded, err := messages.Decode(m.Data)
	if err != nil {
		a.logger.Warn("undecodable page message", zap.Error(err))
		a.reply(m, messages.AckUnknownAction())
		return
	}

	switch msg := decoded.(type) {
	case messages.ExtractRequest:
		a.reply(m, a.extract())

	case messages.AnalyzeRequest:
		a.reply(m, a.analyze())

	case messages.AnalyzeResponse:
		a.reply(m, a.applyResult(msg))

	case messages.ClearAnalysisMessage:
		a.page.Clear()
		a.reply(m, messages.AckOK())

	default:
		a.logger.Warn("unexpected page message", zap.String("type", fmt.Sprintf("%T", msg)))
		a.reply(m, messages.AckUnknownAction())
	}
}

// extract answers an extraction request. A page with no content answers
// with empty text rather than an error; the requester decides what that
// means.
func (a *Agent) extract() any {
	text, err := a.page.ExtractJobDescription()
	if err != nil && !errors.Is(err, ErrNoContent) {
		a.logger.Error("extraction failed", zap.Error(err))
	}
	return messages.ExtractResponse{JobText: text}
}

// analyze runs the page-initiated flow: extract here, request analysis
// from the coordinator, display the result.
func (a *Agent) analyze() any {
	text, err := a.page.ExtractJobDescription()
	if err != nil {
		return messages.AnalyzeFailed(err)
	}

	payload, err := messages.Encode(messages.AnalyzeRequest{
		Action:  messages.ActionAnalyze,
		JobText: text,
	})
	if err != nil {
		return messages.AnalyzeFailed(err)
	}

	replyMsg, err := a.nc.Request(bus.SubjectCoordinator, payload, a.timeout)
	if err != nil {
		return messages.AnalyzeFailed(fmt.Errorf("analysis request: %w", err))
	}

	var response messages.AnalyzeResponse
	if err := json.Unmarshal(replyMsg.Data, &response); err != nil {
		return messages.AnalyzeFailed(fmt.Errorf("decode analysis response: %w", err))
	}

	a.applyResult(response)
	return response
}

// applyResult renders a pushed or returned analysis.
func (a *Agent) applyResult(response messages.AnalyzeResponse) any {
	if !response.Success || response.Analysis == nil {
		a.logger.Warn("analysis failed", zap.String("error", response.Error), zap.String("kind", string(response.ErrorKind)))
		return messages.AckOK()
	}
	if err := a.page.DisplayAnalysis(response.Analysis, a.prefs); err != nil {
		a.logger.Error("display analysis", zap.Error(err))
		return messages.Ack{Success: false, Error: err.Error()}
	}
	return messages.AckOK()
}

func (a *Agent) reply(m *nats.Msg, response any) {
	if m.Reply == "" {
		return
	}
	payload, err := messages.Encode(response)
	if err != nil {
		a.logger.Error("encode reply", zap.Error(err))
		return
	}
	if err := m.Respond(payload); err != nil {
		a.logger.Error("send reply", zap.Error(err))
	}
}
