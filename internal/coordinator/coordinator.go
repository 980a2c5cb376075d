// Package coordinator is the hub of the message protocol. Every surface and
// page agent sends requests to the coordinator subject; the coordinator
// owns the store, runs analyses, and is the only component that publishes
// auth state broadcasts.
//
// Every message gets a response. Failures travel inside the response
// payload, never as a dropped request.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/messages"
	"github.com/fyrsmithlabs/joblens/internal/store"
)

// handleTimeout bounds one message's handling, analysis included.
const handleTimeout = 90 * time.Second

// Analyzer produces a structured analysis from raw job text.
type Analyzer interface {
	Analyze(ctx context.Context, jobText string, premium bool) (*messages.JobAnalysis, error)
}

// Accounts is the slice of the account backend the coordinator needs to
// resolve a session at startup.
type Accounts interface {
	CurrentUser() *messages.User
	GetSubscription(ctx context.Context, userID string) (*messages.Subscription, error)
}

// Coordinator routes protocol messages. Create with New, then Start.
type Coordinator struct {
	store    *store.Store
	analyzer Analyzer
	accounts Accounts
	nc       *nats.Conn
	logger   *zap.Logger
	metrics  *metrics
	sub      *nats.Subscription
}

// New creates a coordinator. accounts may be nil when no account backend is
// configured; startup session resolution is skipped then.
func New(st *store.Store, analyzer Analyzer, accounts Accounts, nc *nats.Conn, reg prometheus.Registerer, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	var m *metrics
	if reg != nil {
		m = newMetrics(reg)
	}
	return &Coordinator{
		store:    st,
		analyzer: analyzer,
		accounts: accounts,
		nc:       nc,
		logger:   logger,
		metrics:  m,
	}
}

// Start resolves any existing session and subscribes to the coordinator
// subject. Session resolution failures are logged and tolerated: the
// coordinator serves logged-out traffic regardless.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.resolveSession(ctx); err != nil {
		c.logger.Warn("session resolution failed", zap.Error(err))
	}

	sub, err := c.nc.Subscribe(bus.SubjectCoordinator, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe coordinator subject: %w", err)
	}
	c.sub = sub
	c.logger.Info("coordinator started")
	return nil
}

// Stop unsubscribes from the coordinator subject.
func (c *Coordinator) Stop() error {
	if c.sub == nil {
		return nil
	}
	if err := c.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe coordinator subject: %w", err)
	}
	c.sub = nil
	return nil
}

// resolveSession restores the signed-in state after a restart: if the
// account client still holds a session, the subscription is refreshed, the
// pair is persisted, and the state is broadcast.
func (c *Coordinator) resolveSession(ctx context.Context) error {
	if c.accounts == nil {
		return nil
	}
	user := c.accounts.CurrentUser()
	if user == nil {
		return nil
	}

	sub, err := c.accounts.GetSubscription(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("refresh subscription: %w", err)
	}
	if err := c.store.SaveUserData(user, sub); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	c.BroadcastAuthState(messages.LoggedIn(*user, sub))
	c.logger.Info("session restored", zap.String("user_id", user.ID))
	return nil
}

// BroadcastAuthState publishes the state to every live surface. Publishing
// with no subscribers is a success: listeners that come up later read the
// store instead.
func (c *Coordinator) BroadcastAuthState(state messages.AuthState) {
	payload, err := messages.Encode(messages.NewAuthStateMessage(state))
	if err != nil {
		c.logger.Error("encode auth broadcast", zap.Error(err))
		return
	}
	if err := c.nc.Publish(bus.SubjectAuthState, payload); err != nil {
		c.logger.Error("publish auth broadcast", zap.Error(err))
		return
	}
	if c.metrics != nil {
		c.metrics.broadcastsTotal.Inc()
	}
}

func (c *Coordinator) handle(m *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	decoded, err := messages.Decode(m.Data)
	if err != nil {
		c.logger.Warn("unknown message", zap.Error(err))
		c.metrics.observeMessage("unknown", "rejected")
		c.respond(m, messages.AckUnknownAction())
		return
	}

	switch msg := decoded.(type) {
	case messages.AnalyzeRequest:
		c.respond(m, c.handleAnalyze(ctx, msg))

	case messages.AuthStateMessage:
		// Surfaces never publish the broadcast subject themselves; they
		// hand the state here and the coordinator fans it out.
		c.BroadcastAuthState(msg.State())
		c.metrics.observeMessage(string(messages.ActionAuthState), "ok")
		c.respond(m, messages.AckOK())

	case messages.ClearAnalysisMessage:
		c.respond(m, c.handleClear())

	case messages.SubscriptionUpdatedMessage:
		c.respond(m, c.handleSubscriptionUpdated(msg))

	default:
		c.logger.Warn("unroutable message", zap.String("type", fmt.Sprintf("%T", msg)))
		c.metrics.observeMessage("unknown", "rejected")
		c.respond(m, messages.AckUnknownAction())
	}
}

// handleAnalyze runs an analysis at the privilege of the stored auth state
// and persists the result. Every failure is folded into the response.
func (c *Coordinator) handleAnalyze(ctx context.Context, req messages.AnalyzeRequest) messages.AnalyzeResponse {
	started := time.Now()
	action := string(messages.ActionAnalyze)

	state, err := c.store.AuthState()
	if err != nil {
		c.logger.Error("read auth state", zap.Error(err))
		c.metrics.observeMessage(action, "error")
		return messages.AnalyzeFailed(err)
	}

	analysis, err := c.analyzer.Analyze(ctx, req.JobText, state.Premium())
	if err != nil {
		c.logger.Warn("analysis failed", zap.Error(err))
		c.metrics.observeMessage(action, "error")
		return messages.AnalyzeFailed(err)
	}

	if err := c.store.SaveAnalysis(analysis); err != nil {
		c.logger.Error("persist analysis", zap.Error(err))
		c.metrics.observeMessage(action, "error")
		return messages.AnalyzeFailed(err)
	}

	if c.metrics != nil {
		c.metrics.analyzeDuration.Observe(time.Since(started).Seconds())
	}
	c.metrics.observeMessage(action, "ok")
	c.logger.Info("analysis stored",
		zap.Bool("premium", state.Premium()),
		zap.Duration("took", time.Since(started)))
	return messages.AnalyzeSucceeded(analysis)
}

func (c *Coordinator) handleClear() any {
	if err := c.store.ClearCurrentAnalysis(); err != nil {
		c.logger.Error("clear analysis", zap.Error(err))
		c.metrics.observeMessage(string(messages.ActionClearAnalysis), "error")
		return messages.Ack{Success: false, Error: err.Error()}
	}
	c.metrics.observeMessage(string(messages.ActionClearAnalysis), "ok")
	return messages.AckOK()
}

// handleSubscriptionUpdated merges the new subscription into the stored
// pair and rebroadcasts. With no signed-in user there is nothing to merge;
// the message still succeeds.
func (c *Coordinator) handleSubscriptionUpdated(msg messages.SubscriptionUpdatedMessage) any {
	action := string(messages.ActionSubscriptionUpdated)

	user, _, err := c.store.UserData()
	if err != nil {
		c.logger.Error("read user data", zap.Error(err))
		c.metrics.observeMessage(action, "error")
		return messages.Ack{Success: false, Error: err.Error()}
	}
	if user == nil {
		c.metrics.observeMessage(action, "ok")
		return messages.AckOK()
	}

	if err := c.store.SaveUserData(user, msg.Subscription); err != nil {
		c.logger.Error("persist subscription", zap.Error(err))
		c.metrics.observeMessage(action, "error")
		return messages.Ack{Success: false, Error: err.Error()}
	}

	c.BroadcastAuthState(messages.LoggedIn(*user, msg.Subscription))
	c.metrics.observeMessage(action, "ok")
	c.logger.Info("subscription updated", zap.String("user_id", user.ID))
	return messages.AckOK()
}

func (c *Coordinator) respond(m *nats.Msg, response any) {
	if m.Reply == "" {
		return
	}
	payload, err := messages.Encode(response)
	if err != nil {
		c.logger.Error("encode response", zap.Error(err))
		return
	}
	if err := m.Respond(payload); err != nil {
		c.logger.Error("send response", zap.Error(err))
	}
}
