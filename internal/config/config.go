// Package config provides configuration loading for joblens.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (JOBLENS_SERVER_PORT, JOBLENS_ACCOUNT_URL, ...)
//  2. YAML config file (~/.config/joblens/config.yaml by default)
//  3. Compiled-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Duration wraps time.Duration for text unmarshaling from YAML and env vars.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret wraps strings that must never appear in logs or serialized output.
// Use Value() to access the actual secret.
type Secret string

// String implements fmt.Stringer. Always returns the redacted form.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string { return "Secret([REDACTED])" }

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret has a non-empty value.
func (s Secret) IsSet() bool { return s != "" }

// MarshalJSON implements json.Marshaler. Always redacts.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalText implements encoding.TextUnmarshaler. Accepts raw values.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Config is the root configuration for the daemon and CLI.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Bus      BusConfig      `koanf:"bus"`
	Logging  LoggingConfig  `koanf:"logging"`
	Analysis AnalysisConfig `koanf:"analysis"`
	Account  AccountConfig  `koanf:"account"`
	Billing  BillingConfig  `koanf:"billing"`
}

// ServerConfig configures the daemon HTTP surface.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// BusConfig configures the embedded message broker. StoreDir holds the
// JetStream file store backing the persistent local store; when empty it
// defaults to ~/.local/share/joblens.
type BusConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	StoreDir string `koanf:"store_dir"`
	Bucket   string `koanf:"bucket"`
}

// URL returns the client connection URL for the embedded broker.
func (b BusConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", b.Host, b.Port)
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AnalysisConfig configures the AI analysis client. The credential itself
// lives in the persistent local store, not here; absence of the credential
// is a recoverable user-facing condition.
type AnalysisConfig struct {
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	Timeout     Duration `koanf:"timeout"`
	MaxTextSize int      `koanf:"max_text_size"`
}

// AccountConfig configures the account/data service client. URL and AnonKey
// are the bootstrap defaults seeded into the store on first run.
type AccountConfig struct {
	URL     string   `koanf:"url"`
	AnonKey Secret   `koanf:"anon_key"`
	Timeout Duration `koanf:"timeout"`
}

// BillingConfig configures the simulated payment flow.
type BillingConfig struct {
	ProcessingDelay Duration `koanf:"processing_delay"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8790,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Bus: BusConfig{
			Host:   "127.0.0.1",
			Port:   4230,
			Bucket: "joblens",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Analysis: AnalysisConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.0-flash",
			Timeout:     Duration(60 * time.Second),
			MaxTextSize: 64 * 1024,
		},
		Account: AccountConfig{
			URL:     "https://account.joblens.dev",
			AnonKey: "joblens-anon-public",
			Timeout: Duration(15 * time.Second),
		},
		Billing: BillingConfig{
			ProcessingDelay: Duration(2 * time.Second),
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "joblens", "config.yaml"), nil
}

// DefaultStoreDir returns the default JetStream store directory.
func DefaultStoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "joblens"), nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Bus.Port <= 0 || c.Bus.Port > 65535 {
		return fmt.Errorf("bus.port out of range: %d", c.Bus.Port)
	}
	if c.Bus.Bucket == "" {
		return fmt.Errorf("bus.bucket must not be empty")
	}
	if c.Analysis.BaseURL == "" {
		return fmt.Errorf("analysis.base_url must not be empty")
	}
	if c.Analysis.MaxTextSize <= 0 {
		return fmt.Errorf("analysis.max_text_size must be positive")
	}
	if c.Account.URL == "" {
		return fmt.Errorf("account.url must not be empty")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
