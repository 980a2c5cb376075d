package pageagent

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// element creates an element node.
func element(a atom.Atom, tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: a,
		Data:     tag,
		Attr:     attrs,
	}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func class(val string) html.Attribute {
	return html.Attribute{Key: "class", Val: val}
}

// buildPanel assembles the floating analysis panel. Position and theme come
// from preferences as class modifiers so styling stays in the stylesheet.
func buildPanel(analysis *messages.JobAnalysis, prefs messages.Preferences) *html.Node {
	panel := element(atom.Div, "div",
		html.Attribute{Key: "id", Val: panelID},
		class("jda-floating-panel jda-position-"+prefs.PanelPosition+" jda-theme-"+prefs.Theme),
	)

	header := element(atom.Div, "div", class("jda-panel-header"))
	title := element(atom.H2, "h2", class("jda-panel-title"))
	title.AppendChild(text("Job Analysis"))
	header.AppendChild(title)
	panel.AppendChild(header)

	content := element(atom.Div, "div", class("jda-panel-content"))
	content.AppendChild(section("Summary", text(analysis.Summary)))

	for _, cat := range analysis.KeywordCategories {
		content.AppendChild(section(cat.Name, keywordList(cat.Keywords)))
	}

	if analysis.SalaryEstimate != "" {
		content.AppendChild(section("Salary Estimate", text(analysis.SalaryEstimate)))
	}
	if adv := analysis.AdvancedSkills; adv != nil {
		content.AppendChild(section("Core Skills", keywordList(adv.CoreSkills)))
		content.AppendChild(section("Nice-to-Have Skills", keywordList(adv.NiceToHaveSkills)))
		content.AppendChild(section("Emerging Trends", keywordList(adv.EmergingTrends)))
		content.AppendChild(section("Skill Gap Suggestions", keywordList(adv.SkillGapSuggestions)))
	}

	panel.AppendChild(content)
	return panel
}

func section(title string, body *html.Node) *html.Node {
	sec := element(atom.Div, "div", class("jda-panel-section"))

	heading := element(atom.H3, "h3", class("jda-panel-section-title"))
	heading.AppendChild(text(title))
	sec.AppendChild(heading)

	if body.Type == html.TextNode {
		p := element(atom.P, "p", class("jda-summary"))
		p.AppendChild(body)
		sec.AppendChild(p)
	} else {
		sec.AppendChild(body)
	}
	return sec
}

func keywordList(keywords []string) *html.Node {
	list := element(atom.Ul, "ul", class("jda-keyword-list"))
	for _, kw := range keywords {
		item := element(atom.Li, "li", class("jda-keyword-item"))
		item.AppendChild(text(kw))
		list.AppendChild(item)
	}
	return list
}
