package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/joblens/internal/messages"
)

var (
	// prefs set flags
	prefsHighlight bool
	prefsPosition  string
	prefsTheme     string
)

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)

	prefsSetCmd.Flags().BoolVar(&prefsHighlight, "highlight", true, "Highlight matched keywords on the page")
	prefsSetCmd.Flags().StringVar(&prefsPosition, "position", "", "Panel position: top-right, top-left, bottom-right, bottom-left")
	prefsSetCmd.Flags().StringVar(&prefsTheme, "theme", "", "Panel theme: light or dark")
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage display preferences",
	Long: `Manage the display preferences shared by every joblens surface.

Examples:
  # Show current preferences
  joblens prefs get

  # Move the panel and switch theme
  joblens prefs set --position bottom-left --theme dark

  # Turn keyword highlighting off
  joblens prefs set --highlight=false`,
}

var prefsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show current preferences",
	RunE:  runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update preferences",
	RunE:  runPrefsSet,
}

// runPrefsGet handles the prefs get command
func runPrefsGet(cmd *cobra.Command, args []string) error {
	var prefs messages.Preferences
	if err := getJSON("/v1/preferences", &prefs); err != nil {
		return err
	}
	printPreferences(prefs)
	return nil
}

// runPrefsSet handles the prefs set command. Only flags the user passed
// change; everything else keeps its stored value.
func runPrefsSet(cmd *cobra.Command, args []string) error {
	var prefs messages.Preferences
	if err := getJSON("/v1/preferences", &prefs); err != nil {
		return err
	}

	if cmd.Flags().Changed("highlight") {
		prefs.HighlightKeywords = prefsHighlight
	}
	if cmd.Flags().Changed("position") {
		prefs.PanelPosition = prefsPosition
	}
	if cmd.Flags().Changed("theme") {
		prefs.Theme = prefsTheme
	}

	reqJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	url := serverURL + "/v1/preferences"
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}

	var saved messages.Preferences
	if err := decodeResponse(resp, &saved); err != nil {
		return err
	}
	printPreferences(saved)
	return nil
}

func printPreferences(prefs messages.Preferences) {
	fmt.Printf("Highlight keywords: %t\n", prefs.HighlightKeywords)
	fmt.Printf("Panel position:     %s\n", prefs.PanelPosition)
	fmt.Printf("Theme:              %s\n", prefs.Theme)
}
