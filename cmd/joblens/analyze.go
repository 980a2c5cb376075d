package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/joblens/internal/messages"
)

var (
	// analysis command flags
	analyzeJSON bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(currentCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)

	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output the raw analysis as JSON")
	currentCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output the raw analysis as JSON")
}

// analyzeCmd analyzes job posting text from a file or stdin
var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Analyze a job posting from a file or stdin",
	Long: `Analyze job posting text using the joblensd daemon.

The analysis runs through the daemon's coordinator, so it uses the stored
API key and the signed-in account's plan, and the result lands in the
shared history like an analysis started from any other surface.

Examples:
  # Analyze a saved posting
  joblens analyze posting.txt

  # Analyze from stdin
  pbpaste | joblens analyze -

  # Raw JSON output
  joblens analyze posting.txt --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

// currentCmd shows the most recent analysis
var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current analysis",
	Long: `Show the analysis currently shared across surfaces.

Examples:
  # Show the current analysis
  joblens current`,
	RunE: runCurrent,
}

// historyCmd lists recent analyses
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent analyses",
	Long: `List the recent analysis history kept by the daemon.

Examples:
  # List recent analyses
  joblens history`,
	RunE: runHistory,
}

// clearCmd clears the current analysis
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the current analysis",
	Long: `Clear the current analysis on every surface. History is kept.

Examples:
  # Clear the current analysis
  joblens clear`,
	RunE: runClear,
}

// AnalyzeBody matches pkg/server AnalyzeBody
type AnalyzeBody struct {
	JobText string `json:"jobText"`
}

// runAnalyze handles the analyze command
func runAnalyze(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	// Read input from file or stdin
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	jobText := strings.TrimSpace(string(content))
	if jobText == "" {
		return fmt.Errorf("no job posting text to analyze")
	}

	reqJSON, err := json.Marshal(AnalyzeBody{JobText: jobText})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + "/v1/analyze"
	resp, err := httpClient().Post(url, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}

	var analysis messages.JobAnalysis
	if err := decodeResponse(resp, &analysis); err != nil {
		return err
	}

	return printAnalysis(&analysis)
}

// runCurrent handles the current command
func runCurrent(cmd *cobra.Command, args []string) error {
	var analysis messages.JobAnalysis
	if err := getJSON("/v1/analysis/current", &analysis); err != nil {
		return err
	}
	return printAnalysis(&analysis)
}

// runHistory handles the history command
func runHistory(cmd *cobra.Command, args []string) error {
	var history []messages.JobAnalysis
	if err := getJSON("/v1/analysis/history", &history); err != nil {
		return err
	}

	if len(history) == 0 {
		fmt.Println("No analyses yet")
		return nil
	}
	for i, analysis := range history {
		fmt.Printf("%2d. %s  %s\n", i+1,
			time.UnixMilli(analysis.Timestamp).Format("2006-01-02 15:04"),
			truncate(analysis.Summary, 70))
	}
	return nil
}

// runClear handles the clear command
func runClear(cmd *cobra.Command, args []string) error {
	url := serverURL + "/v1/analysis/current"
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	if err := decodeResponse(resp, nil); err != nil {
		return err
	}

	fmt.Println("Analysis cleared")
	return nil
}

// printAnalysis writes one analysis to stdout, honoring the --json flag.
func printAnalysis(analysis *messages.JobAnalysis) error {
	if analyzeJSON {
		out, err := json.MarshalIndent(analysis, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Print(renderAnalysis(analysis))
	return nil
}

// renderAnalysis formats an analysis for a terminal.
func renderAnalysis(analysis *messages.JobAnalysis) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Summary\n  %s\n", analysis.Summary)

	for _, category := range analysis.KeywordCategories {
		if len(category.Keywords) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n", category.Name)
		for _, kw := range category.Keywords {
			fmt.Fprintf(&b, "  - %s\n", kw)
		}
	}

	if analysis.SalaryEstimate != "" {
		fmt.Fprintf(&b, "\nSalary Estimate\n  %s\n", analysis.SalaryEstimate)
	}
	if adv := analysis.AdvancedSkills; adv != nil {
		writeSkillList(&b, "Core Skills", adv.CoreSkills)
		writeSkillList(&b, "Nice-to-Have Skills", adv.NiceToHaveSkills)
		writeSkillList(&b, "Emerging Trends", adv.EmergingTrends)
		writeSkillList(&b, "Skill Gap Suggestions", adv.SkillGapSuggestions)
	}
	return b.String()
}

func writeSkillList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

// truncate shortens s to maxLen runes, ending with "..." when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}
