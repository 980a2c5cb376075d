package surface

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/account"
	"github.com/fyrsmithlabs/joblens/internal/billing"
	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/coordinator"
	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
	"github.com/fyrsmithlabs/joblens/internal/store"
)

type fakeAccountService struct {
	user *messages.User
	sub  *messages.Subscription

	signedOut   bool
	savedKey    string
	updatedSub  *messages.Subscription
	profileEdit account.ProfileUpdate
}

func (f *fakeAccountService) SignUp(_ context.Context, email, _ string) (*messages.User, error) {
	u := &messages.User{ID: "new-user", Email: email}
	f.user = u
	return u, nil
}

func (f *fakeAccountService) SignIn(_ context.Context, email, password string) (*messages.User, error) {
	if password != "secret" {
		return nil, account.ErrInvalidLogin
	}
	u := &messages.User{ID: "u1", Email: email}
	f.user = u
	return u, nil
}

func (f *fakeAccountService) SignOut(context.Context) error {
	f.signedOut = true
	f.user = nil
	return nil
}

func (f *fakeAccountService) GetSubscription(context.Context, string) (*messages.Subscription, error) {
	return f.sub, nil
}

func (f *fakeAccountService) UpdateSubscription(_ context.Context, sub *messages.Subscription) error {
	f.updatedSub = sub
	return nil
}

func (f *fakeAccountService) SaveAnalysisKey(_ context.Context, _, apiKey string) error {
	f.savedKey = apiKey
	return nil
}

func (f *fakeAccountService) UpdateProfile(_ context.Context, userID string, update account.ProfileUpdate) (*account.Profile, error) {
	f.profileEdit = update
	return &account.Profile{ID: userID, FullName: update.FullName}, nil
}

type settingsFixture struct {
	settings *Settings
	store    *store.Store
	nc       *nats.Conn
	accounts *fakeAccountService
	auth     chan messages.AuthStateMessage
}

func newSettingsFixture(t *testing.T) *settingsFixture {
	t.Helper()
	_, nc := bus.StartTestServer(t)

	st, err := store.Open(nc, "joblens-test")
	require.NoError(t, err)

	coord := coordinator.New(st, &stubAnalyzer{}, nil, nc, prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(func() { coord.Stop() })

	auth := make(chan messages.AuthStateMessage, 4)
	sub, err := nc.Subscribe(bus.SubjectAuthState, func(m *nats.Msg) {
		var msg messages.AuthStateMessage
		if err := json.Unmarshal(m.Data, &msg); err == nil {
			auth <- msg
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })

	accounts := &fakeAccountService{}
	settings := NewSettings(nc, st, accounts, billing.NewSimulator(time.Millisecond, zap.NewNop()), zap.NewNop())

	return &settingsFixture{settings: settings, store: st, nc: nc, accounts: accounts, auth: auth}
}

func (f *settingsFixture) waitAuth(t *testing.T) messages.AuthStateMessage {
	t.Helper()
	select {
	case msg := <-f.auth:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no auth broadcast received")
		return messages.AuthStateMessage{}
	}
}

func TestSignInPersistsAndAnnounces(t *testing.T) {
	f := newSettingsFixture(t)
	f.accounts.sub = &messages.Subscription{ID: "s1", UserID: "u1", Plan: messages.PlanFree, Status: messages.StatusActive}

	state, err := f.settings.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, state.IsLoggedIn())
	assert.False(t, state.Premium())

	stored, err := f.store.AuthState()
	require.NoError(t, err)
	assert.True(t, stored.IsLoggedIn())

	got := f.waitAuth(t)
	assert.True(t, got.IsLoggedIn)
	require.NotNil(t, got.User)
	assert.Equal(t, "u1", got.User.ID)
}

func TestSignInRejected(t *testing.T) {
	f := newSettingsFixture(t)

	_, err := f.settings.SignIn(context.Background(), "dev@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, fault.InvalidCredential, fault.KindOf(err))

	stored, err := f.store.AuthState()
	require.NoError(t, err)
	assert.False(t, stored.IsLoggedIn())
}

func TestSignOutClearsAndAnnounces(t *testing.T) {
	f := newSettingsFixture(t)
	_, err := f.settings.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	f.waitAuth(t)

	require.NoError(t, f.settings.SignOut(context.Background()))
	assert.True(t, f.accounts.signedOut)

	stored, err := f.store.AuthState()
	require.NoError(t, err)
	assert.False(t, stored.IsLoggedIn())

	got := f.waitAuth(t)
	assert.False(t, got.IsLoggedIn)
	assert.Nil(t, got.User)
}

func TestSaveAnalysisKeyMergesCredentials(t *testing.T) {
	f := newSettingsFixture(t)
	require.NoError(t, f.store.SaveCredentials(store.Credentials{AccountURL: "https://account.example.com"}))

	require.NoError(t, f.settings.SaveAnalysisKey(context.Background(), "ai-key"))

	creds, err := f.store.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "ai-key", creds.AnalysisKey)
	assert.Equal(t, "https://account.example.com", creds.AccountURL)

	// Not signed in: nothing mirrored.
	assert.Empty(t, f.accounts.savedKey)
}

func TestSaveAnalysisKeyMirrorsWhenSignedIn(t *testing.T) {
	f := newSettingsFixture(t)
	_, err := f.settings.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, f.settings.SaveAnalysisKey(context.Background(), "ai-key"))
	assert.Equal(t, "ai-key", f.accounts.savedKey)
}

func TestUpgradeActivatesPremium(t *testing.T) {
	f := newSettingsFixture(t)
	f.accounts.sub = &messages.Subscription{ID: "s1", UserID: "u1", Plan: messages.PlanFree, Status: messages.StatusActive}
	_, err := f.settings.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	f.waitAuth(t)

	sub, err := f.settings.Upgrade(context.Background())
	require.NoError(t, err)

	assert.True(t, sub.IsPremium())
	// The existing backend row identity is kept.
	assert.Equal(t, "s1", sub.ID)
	require.NotNil(t, f.accounts.updatedSub)
	assert.True(t, f.accounts.updatedSub.IsPremium())

	// The coordinator merged and rebroadcast the premium state.
	got := f.waitAuth(t)
	assert.True(t, got.IsLoggedIn)
	require.NotNil(t, got.Subscription)
	assert.True(t, got.Subscription.IsPremium())

	stored, err := f.store.AuthState()
	require.NoError(t, err)
	assert.True(t, stored.Premium())
}

func TestUpgradeRequiresSignIn(t *testing.T) {
	f := newSettingsFixture(t)

	_, err := f.settings.Upgrade(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.NotAuthenticated, fault.KindOf(err))
}

func TestCancelSubscription(t *testing.T) {
	f := newSettingsFixture(t)
	f.accounts.sub = &messages.Subscription{ID: "s1", UserID: "u1", Plan: messages.PlanPremium, Status: messages.StatusActive}
	_, err := f.settings.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)
	f.waitAuth(t)

	sub, err := f.settings.CancelSubscription(context.Background())
	require.NoError(t, err)

	// Premium persists until the period lapses.
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.True(t, sub.IsPremium())

	got := f.waitAuth(t)
	require.NotNil(t, got.Subscription)
	assert.True(t, got.Subscription.CancelAtPeriodEnd)
}

func TestUpdateProfileRequiresSignIn(t *testing.T) {
	f := newSettingsFixture(t)

	_, err := f.settings.UpdateProfile(context.Background(), account.ProfileUpdate{FullName: "X"})
	require.Error(t, err)
	assert.Equal(t, fault.NotAuthenticated, fault.KindOf(err))
}

func TestUpdateProfile(t *testing.T) {
	f := newSettingsFixture(t)
	_, err := f.settings.SignIn(context.Background(), "dev@example.com", "secret")
	require.NoError(t, err)

	profile, err := f.settings.UpdateProfile(context.Background(), account.ProfileUpdate{FullName: "Dev Example"})
	require.NoError(t, err)
	assert.Equal(t, "Dev Example", profile.FullName)
	assert.Equal(t, "Dev Example", f.accounts.profileEdit.FullName)
}

func TestPreferencesThroughSettings(t *testing.T) {
	f := newSettingsFixture(t)

	prefs, err := f.settings.Preferences()
	require.NoError(t, err)
	assert.True(t, prefs.HighlightKeywords)

	prefs.Theme = "dark"
	require.NoError(t, f.settings.SavePreferences(prefs))

	got, err := f.settings.Preferences()
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)
}
