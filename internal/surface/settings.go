package surface

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/account"
	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
	"github.com/fyrsmithlabs/joblens/internal/store"
)

// AccountService is the slice of the account backend the settings surface
// drives.
type AccountService interface {
	SignUp(ctx context.Context, email, password string) (*messages.User, error)
	SignIn(ctx context.Context, email, password string) (*messages.User, error)
	SignOut(ctx context.Context) error
	GetSubscription(ctx context.Context, userID string) (*messages.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *messages.Subscription) error
	SaveAnalysisKey(ctx context.Context, userID, apiKey string) error
	UpdateProfile(ctx context.Context, userID string, update account.ProfileUpdate) (*account.Profile, error)
}

// Biller simulates the payment provider.
type Biller interface {
	CheckoutURL(user messages.User) string
	Activate(ctx context.Context, user messages.User) (*messages.Subscription, error)
	CancelAtPeriodEnd(sub *messages.Subscription) (*messages.Subscription, error)
}

// Settings is the configuration and account surface.
type Settings struct {
	nc       *nats.Conn
	store    *store.Store
	accounts AccountService
	billing  Biller
	logger   *zap.Logger
}

// NewSettings creates a settings surface.
func NewSettings(nc *nats.Conn, st *store.Store, accounts AccountService, billing Biller, logger *zap.Logger) *Settings {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settings{nc: nc, store: st, accounts: accounts, billing: billing, logger: logger}
}

// SaveAnalysisKey stores the AI credential locally and, when signed in,
// mirrors it to the account backend.
func (s *Settings) SaveAnalysisKey(ctx context.Context, key string) error {
	creds, err := s.store.Credentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	creds.AnalysisKey = key
	if err := s.store.SaveCredentials(creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	user, _, err := s.store.UserData()
	if err != nil || user == nil {
		return err
	}
	if err := s.accounts.SaveAnalysisKey(ctx, user.ID, key); err != nil {
		// The local copy is what analysis uses; a failed mirror is logged,
		// not fatal.
		s.logger.Warn("mirror analysis key to account", zap.Error(err))
	}
	return nil
}

// SignUp registers a new account. When the backend returns a usable
// session, the state is persisted and announced like a sign-in.
func (s *Settings) SignUp(ctx context.Context, email, password string) (messages.AuthState, error) {
	user, err := s.accounts.SignUp(ctx, email, password)
	if err != nil {
		return messages.LoggedOut(), fmt.Errorf("sign up: %w", err)
	}
	if user == nil || user.ID == "" {
		// Confirmation pending; nothing to persist yet.
		return messages.LoggedOut(), nil
	}
	return s.establishSession(ctx, *user)
}

// SignIn authenticates and establishes the signed-in state everywhere: the
// account client, the store, and every listening surface.
func (s *Settings) SignIn(ctx context.Context, email, password string) (messages.AuthState, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return messages.LoggedOut(), fmt.Errorf("sign in: %w", err)
	}
	return s.establishSession(ctx, *user)
}

func (s *Settings) establishSession(ctx context.Context, user messages.User) (messages.AuthState, error) {
	sub, err := s.accounts.GetSubscription(ctx, user.ID)
	if err != nil {
		return messages.LoggedOut(), fmt.Errorf("load subscription: %w", err)
	}

	if err := s.store.SaveUserData(&user, sub); err != nil {
		return messages.LoggedOut(), fmt.Errorf("persist session: %w", err)
	}

	state := messages.LoggedIn(user, sub)
	if err := s.announce(ctx, messages.NewAuthStateMessage(state)); err != nil {
		return state, err
	}
	s.logger.Info("signed in", zap.String("user_id", user.ID))
	return state, nil
}

// SignOut tears the session down and announces the logged-out state.
func (s *Settings) SignOut(ctx context.Context) error {
	if err := s.accounts.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	if err := s.store.ClearUserData(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if err := s.announce(ctx, messages.NewAuthStateMessage(messages.LoggedOut())); err != nil {
		return err
	}
	s.logger.Info("signed out")
	return nil
}

// UpdateProfile edits the signed-in user's profile.
func (s *Settings) UpdateProfile(ctx context.Context, update account.ProfileUpdate) (*account.Profile, error) {
	user, _, err := s.store.UserData()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if user == nil {
		return nil, fault.New(fault.NotAuthenticated, "Sign in to edit your profile.")
	}
	return s.accounts.UpdateProfile(ctx, user.ID, update)
}

// Preferences returns the stored display preferences.
func (s *Settings) Preferences() (messages.Preferences, error) {
	return s.store.Preferences()
}

// SavePreferences persists display preferences.
func (s *Settings) SavePreferences(prefs messages.Preferences) error {
	return s.store.SavePreferences(prefs)
}

// CheckoutURL returns the simulated checkout page for the signed-in user.
func (s *Settings) CheckoutURL() (string, error) {
	user, _, err := s.store.UserData()
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if user == nil {
		return "", fault.New(fault.NotAuthenticated, "Sign in before upgrading.")
	}
	return s.billing.CheckoutURL(*user), nil
}

// Upgrade runs the simulated premium purchase: activation through billing,
// persistence on the account backend, then a subscriptionUpdated message so
// the coordinator merges and rebroadcasts.
func (s *Settings) Upgrade(ctx context.Context) (*messages.Subscription, error) {
	user, current, err := s.store.UserData()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if user == nil {
		return nil, fault.New(fault.NotAuthenticated, "Sign in before upgrading.")
	}

	sub, err := s.billing.Activate(ctx, *user)
	if err != nil {
		return nil, fmt.Errorf("activate premium: %w", err)
	}
	if current != nil {
		// Keep the backend row identity so the record updates in place.
		sub.ID = current.ID
	}

	if err := s.accounts.UpdateSubscription(ctx, sub); err != nil {
		s.logger.Warn("persist subscription to account", zap.Error(err))
	}

	if err := s.announce(ctx, messages.NewSubscriptionUpdated(*sub)); err != nil {
		return nil, err
	}
	s.logger.Info("upgraded to premium", zap.String("user_id", user.ID))
	return sub, nil
}

// CancelSubscription flags the subscription to lapse at the period's end.
func (s *Settings) CancelSubscription(ctx context.Context) (*messages.Subscription, error) {
	user, current, err := s.store.UserData()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if user == nil || current == nil {
		return nil, fault.New(fault.NotAuthenticated, "No subscription to cancel.")
	}

	sub, err := s.billing.CancelAtPeriodEnd(current)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}

	if err := s.accounts.UpdateSubscription(ctx, sub); err != nil {
		s.logger.Warn("persist subscription to account", zap.Error(err))
	}

	if err := s.announce(ctx, messages.NewSubscriptionUpdated(*sub)); err != nil {
		return nil, err
	}
	return sub, nil
}

// announce sends a message to the coordinator and checks the ack. The
// coordinator, not this surface, owns the broadcast subject.
func (s *Settings) announce(ctx context.Context, msg any) error {
	payload, err := messages.Encode(msg)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	reply, err := s.nc.RequestWithContext(reqCtx, bus.SubjectCoordinator, payload)
	if err != nil {
		return fault.Errorf(fault.Backend, "reach coordinator: %v", err)
	}

	var ack messages.Ack
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return fault.Errorf(fault.ResponseFormat, "decode coordinator ack: %v", err)
	}
	if !ack.Success {
		return fault.Errorf(fault.Backend, "coordinator rejected %T: %s", msg, ack.Error)
	}
	return nil
}
