package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// Profile is a row in the profiles table.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// SavedAnalysis is a row in the job_analyses table.
type SavedAnalysis struct {
	ID                string                     `json:"id,omitempty"`
	UserID            string                     `json:"user_id"`
	Summary           string                     `json:"summary"`
	KeywordCategories []messages.KeywordCategory `json:"keyword_categories"`
	JobTitle          string                     `json:"job_title,omitempty"`
	CompanyName       string                     `json:"company_name,omitempty"`
	URL               string                     `json:"url,omitempty"`
	CreatedAt         time.Time                  `json:"created_at,omitempty"`
}

// AnalysisMetadata is optional context saved alongside an analysis.
type AnalysisMetadata struct {
	JobTitle    string
	CompanyName string
	URL         string
}

// GetProfile returns the user's profile, or nil when none exists.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	err := c.rest(ctx, http.MethodGet, "profiles",
		[]string{"id=eq." + userID, "select=*"}, nil, true, &profile)
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &profile, nil
}

// UpdateProfile updates the user's profile, creating the row first when the
// backend's provisioning did not. The create-then-retry covers accounts from
// before provisioning existed.
func (c *Client) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	now := time.Now().UTC()

	var updated []Profile
	err := c.rest(ctx, http.MethodPatch, "profiles",
		[]string{"id=eq." + userID},
		map[string]any{
			"full_name":  update.FullName,
			"avatar_url": update.AvatarURL,
			"updated_at": now,
		}, false, &updated)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if len(updated) > 0 {
		return &updated[0], nil
	}

	// No row matched: create it, then the update result is the new row.
	c.logger.Info("profile missing, creating", zap.String("user_id", userID))
	var created []Profile
	err = c.rest(ctx, http.MethodPost, "profiles", nil,
		Profile{
			ID:        userID,
			FullName:  update.FullName,
			AvatarURL: update.AvatarURL,
			CreatedAt: now,
			UpdatedAt: now,
		}, false, &created)
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("create profile: backend returned no row")
	}
	return &created[0], nil
}

// GetSubscription returns the user's subscription, or nil when none exists.
// Absence is a normal state for fresh accounts, not an error.
func (c *Client) GetSubscription(ctx context.Context, userID string) (*messages.Subscription, error) {
	var sub messages.Subscription
	err := c.rest(ctx, http.MethodGet, "subscriptions",
		[]string{"user_id=eq." + userID, "select=*"}, nil, true, &sub)
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// UpdateSubscription writes the subscription's new status, plan, and period
// end.
func (c *Client) UpdateSubscription(ctx context.Context, sub *messages.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("update subscription: missing subscription id")
	}
	err := c.rest(ctx, http.MethodPatch, "subscriptions",
		[]string{"id=eq." + sub.ID},
		map[string]any{
			"status":               sub.Status,
			"plan":                 sub.Plan,
			"current_period_end":   sub.CurrentPeriodEnd,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"updated_at":           time.Now().UTC(),
		}, false, nil)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

// SaveAnalysisKey stores the user's AI credential in their api_keys row.
func (c *Client) SaveAnalysisKey(ctx context.Context, userID, apiKey string) error {
	err := c.rest(ctx, http.MethodPatch, "api_keys",
		[]string{"user_id=eq." + userID},
		map[string]any{
			"gemini_api_key": apiKey,
			"updated_at":     time.Now().UTC(),
		}, false, nil)
	if err != nil {
		return fmt.Errorf("save analysis key: %w", err)
	}
	return nil
}

// AnalysisKeyFor returns the user's stored AI credential, empty when none
// has been saved.
func (c *Client) AnalysisKeyFor(ctx context.Context, userID string) (string, error) {
	var row struct {
		GeminiAPIKey string `json:"gemini_api_key"`
	}
	err := c.rest(ctx, http.MethodGet, "api_keys",
		[]string{"user_id=eq." + userID, "select=gemini_api_key"}, nil, true, &row)
	if errors.Is(err, errNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get analysis key: %w", err)
	}
	return row.GeminiAPIKey, nil
}

// SaveAnalysis stores an analysis in the user's server-side history.
func (c *Client) SaveAnalysis(ctx context.Context, userID string, analysis *messages.JobAnalysis, meta AnalysisMetadata) error {
	if analysis == nil {
		return fmt.Errorf("save analysis: nil analysis")
	}
	err := c.rest(ctx, http.MethodPost, "job_analyses", nil,
		SavedAnalysis{
			UserID:            userID,
			Summary:           analysis.Summary,
			KeywordCategories: analysis.KeywordCategories,
			JobTitle:          meta.JobTitle,
			CompanyName:       meta.CompanyName,
			URL:               meta.URL,
		}, false, nil)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// Analyses returns the user's server-side history, most recent first.
func (c *Client) Analyses(ctx context.Context, userID string, limit int) ([]SavedAnalysis, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []SavedAnalysis
	err := c.rest(ctx, http.MethodGet, "job_analyses",
		[]string{
			"user_id=eq." + userID,
			"select=*",
			"order=created_at.desc",
			fmt.Sprintf("limit=%d", limit),
		}, nil, false, &rows)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return rows, nil
}

// DeleteAnalysis removes one saved analysis by id.
func (c *Client) DeleteAnalysis(ctx context.Context, analysisID string) error {
	err := c.rest(ctx, http.MethodDelete, "job_analyses",
		[]string{"id=eq." + analysisID}, nil, false, nil)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	return nil
}
