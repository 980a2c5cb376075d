package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// decodedAnalysis is the shape expected inside the model's reply. Premium
// fields are pointers so their absence is distinguishable from emptiness.
type decodedAnalysis struct {
	Summary           string                     `json:"summary"`
	KeywordCategories []messages.KeywordCategory `json:"keywordCategories"`
	SalaryEstimate    *string                    `json:"salaryEstimate"`
	AdvancedSkills    *decodedAdvancedSkills     `json:"advancedSkillsAnalysis"`
}

type decodedAdvancedSkills struct {
	CoreSkills          []string `json:"coreSkills"`
	NiceToHaveSkills    []string `json:"niceToHaveSkills"`
	EmergingTrends      []string `json:"emergingTrends"`
	SkillGapSuggestions []string `json:"skillGapSuggestions"`
}

// parseAnalysis extracts the first balanced JSON object from the reply text
// and builds a JobAnalysis from it. Models often wrap the object in prose or
// code fences, so the extractor scans rather than decoding the whole text.
//
// Premium fields are attached whenever the reply contains them, regardless
// of what was requested.
func parseAnalysis(text string, now time.Time) (*messages.JobAnalysis, error) {
	raw, err := extractObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	var decoded decodedAnalysis
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	analysis := &messages.JobAnalysis{
		Summary:           decoded.Summary,
		KeywordCategories: decoded.KeywordCategories,
		Timestamp:         now.UnixMilli(),
	}
	if analysis.Summary == "" {
		analysis.Summary = "No summary available"
	}
	if analysis.KeywordCategories == nil {
		analysis.KeywordCategories = []messages.KeywordCategory{}
	}
	if decoded.SalaryEstimate != nil && *decoded.SalaryEstimate != "" {
		analysis.SalaryEstimate = *decoded.SalaryEstimate
	}
	if decoded.AdvancedSkills != nil {
		analysis.AdvancedSkills = &messages.AdvancedSkillsAnalysis{
			CoreSkills:          orEmpty(decoded.AdvancedSkills.CoreSkills),
			NiceToHaveSkills:    orEmpty(decoded.AdvancedSkills.NiceToHaveSkills),
			EmergingTrends:      orEmpty(decoded.AdvancedSkills.EmergingTrends),
			SkillGapSuggestions: orEmpty(decoded.AdvancedSkills.SkillGapSuggestions),
		}
	}
	return analysis, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// extractObject returns the first balanced top-level JSON object in text.
// Braces inside string literals do not count toward nesting, and escaped
// quotes do not end a string.
func extractObject(text string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	if start < 0 {
		return "", fmt.Errorf("no JSON object in reply")
	}
	return "", fmt.Errorf("unbalanced JSON object in reply")
}
