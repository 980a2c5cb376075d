package analysis

import "strings"

// Category names the base analysis always requests.
const (
	categoryTechnicalSkills  = "Technical Skills"
	categorySoftSkills       = "Soft Skills"
	categoryQualifications   = "Qualifications"
	categoryResponsibilities = "Key Responsibilities"
)

// Premium-only category names.
const (
	categoryCompanyCulture = "Company Culture"
	categoryRedFlags       = "Potential Red Flags"
)

// buildPrompt assembles the analysis prompt. The premium variant asks for
// two extra categories plus a salary estimate and an advanced skills
// breakdown.
func buildPrompt(jobText string, premium bool) string {
	var b strings.Builder

	b.WriteString("Analyze the following job posting and respond with a single JSON object, no prose before or after it.\n\n")
	b.WriteString("The object must have this shape:\n")
	b.WriteString(`{"summary": "...", "keywordCategories": [{"name": "...", "keywords": ["..."]}]`)
	if premium {
		b.WriteString(`, "salaryEstimate": "...", "advancedSkillsAnalysis": {"coreSkills": ["..."], "niceToHaveSkills": ["..."], "emergingTrends": ["..."], "skillGapSuggestions": ["..."]}`)
	}
	b.WriteString("}\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- summary: two or three sentences capturing the role.\n")
	b.WriteString("- keywordCategories must include these categories, in this order: ")
	b.WriteString(categoryTechnicalSkills + ", " + categorySoftSkills + ", " + categoryQualifications + ", " + categoryResponsibilities)
	if premium {
		b.WriteString(", " + categoryCompanyCulture + ", " + categoryRedFlags)
	}
	b.WriteString(".\n")
	b.WriteString("- keywords are short phrases taken from or implied by the posting. Use an empty array when a category has none.\n")
	if premium {
		b.WriteString("- salaryEstimate: an estimated range with currency, based on the posting and the role's market. Use a stated range when the posting includes one.\n")
		b.WriteString("- advancedSkillsAnalysis: coreSkills are must-haves, niceToHaveSkills are pluses, emergingTrends are industry directions relevant to this role, skillGapSuggestions are concrete things a borderline candidate should learn.\n")
	}

	b.WriteString("\nJob posting:\n")
	b.WriteString(jobText)
	return b.String()
}
