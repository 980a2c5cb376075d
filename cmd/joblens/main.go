// Package main implements the joblens CLI for manual operations against the joblensd HTTP server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/joblens/internal/fault"
)

var (
	// serverURL is the base URL for the joblensd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "joblens",
	Short: "CLI for joblensd operations",
	Long: `joblens is a command-line interface for interacting with the joblensd daemon.
It provides commands for analyzing job postings, inspecting stored results,
and managing display preferences.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8790", "joblensd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(authCmd)
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check joblensd health",
	Long: `Check the health status of the joblensd daemon.

Examples:
  # Check health
  joblens health

  # Check health on a different server
  joblens health --server http://localhost:9090`,
	RunE: runHealth,
}

// authCmd shows the daemon's current authentication state
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Show the current authentication state",
	Long: `Show the authentication state shared by every joblens surface.

Examples:
  # Show who is signed in and whether premium is active
  joblens auth`,
	RunE: runAuth,
}

// HealthResponse matches pkg/server HealthResponse
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse matches pkg/server ErrorResponse
type ErrorResponse struct {
	Error string     `json:"error"`
	Kind  fault.Kind `json:"kind,omitempty"`
}

// AuthState matches the /v1/auth/state response shape.
type AuthState struct {
	IsLoggedIn bool `json:"isLoggedIn"`
	User       *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Subscription *struct {
		Plan              string `json:"plan"`
		Status            string `json:"status"`
		CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	} `json:"subscription"`
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// decodeResponse reads a response, turning non-200 statuses into errors that
// carry the server's error body when one is present.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var apiErr ErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func getJSON(path string, out any) error {
	url := serverURL + path
	resp, err := httpClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return decodeResponse(resp, out)
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := getJSON("/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Service:       %s\n", health.Service)
	return nil
}

// runAuth handles the auth command
func runAuth(cmd *cobra.Command, args []string) error {
	var state AuthState
	if err := getJSON("/v1/auth/state", &state); err != nil {
		return err
	}

	fmt.Print(renderAuthState(state))
	return nil
}

// renderAuthState formats the auth state for a terminal. A logged-in state
// without a user record is treated as signed out rather than trusted.
func renderAuthState(state AuthState) string {
	if !state.IsLoggedIn || state.User == nil {
		return "Not signed in\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Signed in as: %s\n", state.User.Email)
	if state.Subscription != nil {
		fmt.Fprintf(&b, "Plan:         %s (%s)\n", state.Subscription.Plan, state.Subscription.Status)
		if state.Subscription.CancelAtPeriodEnd {
			b.WriteString("Subscription cancels at the end of the current period\n")
		}
	} else {
		b.WriteString("Plan:         free\n")
	}
	return b.String()
}
