// Package messages holds the entities and wire contracts shared by every
// joblens component: the coordinator, the page agent, and the UI surfaces.
//
// All cross-component traffic is a JSON-serializable object with a required
// "action" discriminator. Decode peeks at the discriminator and returns the
// concrete message type.
package messages

import "time"

// Subscription plan values.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// Subscription status values.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
	StatusPastDue  = "past_due"
	StatusTrialing = "trialing"
)

// User is the identity record created by the account service on sign-up.
// It is read-only to the rest of the system.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is the one-per-user subscription record.
type Subscription struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Status            string    `json:"status"`
	Plan              string    `json:"plan"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}

// IsPremium reports whether the subscription grants premium analysis
// features. An active premium plan is the sole gate; every other
// status/plan combination, including a nil subscription, is free.
func (s *Subscription) IsPremium() bool {
	return s != nil && s.Plan == PlanPremium && s.Status == StatusActive
}

// KeywordCategory groups keywords extracted from a job description.
type KeywordCategory struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// AdvancedSkillsAnalysis is the premium-only skills breakdown.
type AdvancedSkillsAnalysis struct {
	CoreSkills          []string `json:"coreSkills"`
	NiceToHaveSkills    []string `json:"niceToHaveSkills"`
	EmergingTrends      []string `json:"emergingTrends"`
	SkillGapSuggestions []string `json:"skillGapSuggestions"`
}

// JobAnalysis is the structured result produced from an AI reply.
// SalaryEstimate and AdvancedSkills are only populated when the reply
// contained them, which normally requires a premium request.
type JobAnalysis struct {
	Summary           string                  `json:"summary"`
	KeywordCategories []KeywordCategory       `json:"keywordCategories"`
	Timestamp         int64                   `json:"timestamp"`
	SalaryEstimate    string                  `json:"salaryEstimate,omitempty"`
	AdvancedSkills    *AdvancedSkillsAnalysis `json:"advancedSkillsAnalysis,omitempty"`
}

// Preferences are the user-tunable display settings.
type Preferences struct {
	HighlightKeywords bool   `json:"highlightKeywords"`
	PanelPosition     string `json:"panelPosition"`
	Theme             string `json:"theme"`
}

// DefaultPreferences returns the out-of-the-box preference values.
func DefaultPreferences() Preferences {
	return Preferences{
		HighlightKeywords: true,
		PanelPosition:     "top-right",
		Theme:             "light",
	}
}

// AuthState is the atomic (user, subscription) pair. It is constructed
// through LoggedOut or LoggedIn only, so a user can never be observed
// without its subscription context.
type AuthState struct {
	user         *User
	subscription *Subscription
}

// LoggedOut returns the signed-out state.
func LoggedOut() AuthState {
	return AuthState{}
}

// LoggedIn returns the signed-in state for user. subscription may be nil
// when the account has no subscription row, which is treated as free.
func LoggedIn(user User, subscription *Subscription) AuthState {
	u := user
	return AuthState{user: &u, subscription: subscription}
}

// IsLoggedIn reports whether a user is present.
func (a AuthState) IsLoggedIn() bool { return a.user != nil }

// User returns the signed-in user, or nil.
func (a AuthState) User() *User { return a.user }

// Subscription returns the signed-in user's subscription, or nil.
func (a AuthState) Subscription() *Subscription { return a.subscription }

// Premium reports whether the state grants premium features.
func (a AuthState) Premium() bool { return a.subscription.IsPremium() }
