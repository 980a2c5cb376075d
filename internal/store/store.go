// Package store is the persistent local store shared by every joblens
// component: credentials, the current user and subscription, the current
// analysis, a bounded analysis history, and display preferences.
//
// It is a JetStream key-value bucket on the embedded broker, so it survives
// restarts and is reachable from every connected context. Writes are
// last-write-wins: two components updating the same record near
// simultaneously race, and the most recent write is authoritative. That
// race is a documented property of the protocol, not a bug to fix here.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// HistoryLimit caps the retained analysis history, most recent first.
const HistoryLimit = 10

// Store keys.
const (
	keyCredentials     = "credentials"
	keyUserData        = "userData"
	keyCurrentAnalysis = "currentAnalysis"
	keyAnalyses        = "analyses"
	keyPreferences     = "preferences"
)

// Credentials holds the API credentials, stored distinctly from user data.
// An unset AnalysisKey is a recoverable user-facing condition.
type Credentials struct {
	AnalysisKey string `json:"analysisKey,omitempty"`
	AccountURL  string `json:"accountUrl,omitempty"`
	AccountKey  string `json:"accountKey,omitempty"`
}

// userData is the stored (user, subscription) pair. The two are written as
// one record so a reader can never observe a half-updated pair.
type userData struct {
	User         *messages.User         `json:"user"`
	Subscription *messages.Subscription `json:"subscription"`
}

// Store wraps the key-value bucket.
type Store struct {
	kv nats.KeyValue
}

// Open binds to the bucket on the given connection, creating it if needed.
func Open(nc *nats.Conn, bucket string) (*Store, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	return &Store{kv: kv}, nil
}

// SaveCredentials persists the credentials record.
func (s *Store) SaveCredentials(creds Credentials) error {
	return s.put(keyCredentials, creds)
}

// Credentials returns the stored credentials, or the zero value when none
// have been saved yet.
func (s *Store) Credentials() (Credentials, error) {
	var creds Credentials
	if err := s.get(keyCredentials, &creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// AnalysisKey returns the stored AI credential, empty when unset.
func (s *Store) AnalysisKey() (string, error) {
	creds, err := s.Credentials()
	if err != nil {
		return "", err
	}
	return creds.AnalysisKey, nil
}

// SaveUserData persists the (user, subscription) pair as one record.
func (s *Store) SaveUserData(user *messages.User, sub *messages.Subscription) error {
	return s.put(keyUserData, userData{User: user, Subscription: sub})
}

// UserData returns the stored user and subscription. Both are nil when no
// one is signed in.
func (s *Store) UserData() (*messages.User, *messages.Subscription, error) {
	var data userData
	if err := s.get(keyUserData, &data); err != nil {
		return nil, nil, err
	}
	return data.User, data.Subscription, nil
}

// AuthState reconstructs the atomic auth state from the stored pair.
func (s *Store) AuthState() (messages.AuthState, error) {
	user, sub, err := s.UserData()
	if err != nil {
		return messages.LoggedOut(), err
	}
	if user == nil {
		return messages.LoggedOut(), nil
	}
	return messages.LoggedIn(*user, sub), nil
}

// ClearUserData removes the stored pair (sign-out).
func (s *Store) ClearUserData() error {
	return s.delete(keyUserData)
}

// SaveAnalysis stores analysis as current and prepends it to the history,
// evicting beyond HistoryLimit. The read-modify-write on the history is
// subject to the store's last-write-wins policy.
func (s *Store) SaveAnalysis(analysis *messages.JobAnalysis) error {
	if analysis == nil {
		return fmt.Errorf("save analysis: nil analysis")
	}

	var history []messages.JobAnalysis
	if err := s.get(keyAnalyses, &history); err != nil {
		return err
	}

	history = append([]messages.JobAnalysis{*analysis}, history...)
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}

	if err := s.put(keyAnalyses, history); err != nil {
		return err
	}
	return s.put(keyCurrentAnalysis, analysis)
}

// CurrentAnalysis returns the analysis kept for live display, or nil.
func (s *Store) CurrentAnalysis() (*messages.JobAnalysis, error) {
	var analysis *messages.JobAnalysis
	if err := s.get(keyCurrentAnalysis, &analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// RecentAnalyses returns the retained history, most recent first.
func (s *Store) RecentAnalyses() ([]messages.JobAnalysis, error) {
	var history []messages.JobAnalysis
	if err := s.get(keyAnalyses, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// ClearCurrentAnalysis drops the current analysis. The history is kept.
func (s *Store) ClearCurrentAnalysis() error {
	return s.delete(keyCurrentAnalysis)
}

// SavePreferences persists display preferences.
func (s *Store) SavePreferences(prefs messages.Preferences) error {
	return s.put(keyPreferences, prefs)
}

// Preferences returns the stored preferences, or the defaults when none
// have been saved.
func (s *Store) Preferences() (messages.Preferences, error) {
	prefs := messages.DefaultPreferences()
	entry, err := s.kv.Get(keyPreferences)
	if errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("get %s: %w", keyPreferences, err)
	}
	if err := json.Unmarshal(entry.Value(), &prefs); err != nil {
		return messages.DefaultPreferences(), fmt.Errorf("decode %s: %w", keyPreferences, err)
	}
	return prefs, nil
}

// put writes a JSON-encoded value.
func (s *Store) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.kv.Put(key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// get reads a JSON-encoded value into out. A missing or deleted key leaves
// out untouched and returns nil: absence is a normal state here.
func (s *Store) get(key string, out any) error {
	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// delete removes a key. Deleting an absent key succeeds.
func (s *Store) delete(key string) error {
	err := s.kv.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) && !errors.Is(err, nats.ErrKeyDeleted) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
