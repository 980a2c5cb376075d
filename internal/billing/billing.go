// Package billing simulates the payment provider. There is no real charge
// anywhere: checkout produces a local URL, and activation fabricates a
// premium subscription after a scripted processing delay.
package billing

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// premiumPeriod is the simulated subscription length.
const premiumPeriod = 30 * 24 * time.Hour

// Simulator is the simulated payment provider.
type Simulator struct {
	processingDelay time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

// NewSimulator creates a simulator with the given processing delay.
func NewSimulator(processingDelay time.Duration, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		processingDelay: processingDelay,
		logger:          logger,
		now:             time.Now,
	}
}

// CheckoutURL returns the simulated checkout page for the user.
func (s *Simulator) CheckoutURL(user messages.User) string {
	q := url.Values{}
	q.Set("userId", user.ID)
	q.Set("email", user.Email)
	q.Set("plan", "premium_monthly")
	return "joblens://payment?" + q.Encode()
}

// PortalURL returns the simulated subscription management page.
func (s *Simulator) PortalURL(user messages.User) string {
	q := url.Values{}
	q.Set("userId", user.ID)
	return "joblens://manage-subscription?" + q.Encode()
}

// Activate simulates a completed premium purchase: after the scripted
// processing delay it returns an active premium subscription running
// thirty days from now. The delay is interruptible through ctx.
func (s *Simulator) Activate(ctx context.Context, user messages.User) (*messages.Subscription, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("activate subscription: missing user id")
	}

	select {
	case <-time.After(s.processingDelay):
	case <-ctx.Done():
		return nil, fmt.Errorf("activate subscription: %w", ctx.Err())
	}

	sub := &messages.Subscription{
		ID:                "sub_" + uuid.NewString(),
		UserID:            user.ID,
		Status:            messages.StatusActive,
		Plan:              messages.PlanPremium,
		CurrentPeriodEnd:  s.now().Add(premiumPeriod).UTC(),
		CancelAtPeriodEnd: false,
	}
	s.logger.Info("premium subscription activated",
		zap.String("user_id", user.ID),
		zap.String("subscription_id", sub.ID))
	return sub, nil
}

// CancelAtPeriodEnd marks the subscription to lapse at the period's end.
// The plan stays premium until then.
func (s *Simulator) CancelAtPeriodEnd(sub *messages.Subscription) (*messages.Subscription, error) {
	if sub == nil {
		return nil, fmt.Errorf("cancel subscription: nil subscription")
	}
	out := *sub
	out.CancelAtPeriodEnd = true
	s.logger.Info("subscription set to cancel at period end", zap.String("subscription_id", out.ID))
	return &out, nil
}
