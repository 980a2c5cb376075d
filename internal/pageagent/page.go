// Package pageagent operates on a loaded page: it extracts the job
// description text, renders the analysis panel into the page, and
// highlights keywords in place.
//
// All mutations are idempotent. Rendering the panel removes any previous
// panel first, and highlighting removes previous highlights first, so
// repeated analyses never stack artifacts.
package pageagent

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
)

// Markers for page elements this package owns.
const (
	panelID        = "jda-floating-panel"
	highlightClass = "jda-highlighted-keyword"
)

// maxScanBytes caps how much page text extraction and highlighting walk.
// Pages beyond the cap are processed up to it.
const maxScanBytes = 256 * 1024

// ErrNoContent means the page had no extractable job description.
var ErrNoContent = fault.New(fault.NoContent, "Could not extract a job description from this page.")

// skippedElements never contribute text and are never highlighted inside.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Applet:   true,
	atom.Audio:    true,
	atom.Canvas:   true,
	atom.Video:    true,
	atom.Svg:      true,
	atom.Map:      true,
	atom.Button:   true,
	atom.Select:   true,
	atom.Textarea: true,
	atom.Input:    true,
}

// Page is a parsed page. Safe for concurrent use; mutations hold the lock
// for the whole walk.
type Page struct {
	mu  sync.Mutex
	doc *html.Node
}

// Load parses an HTML document.
func Load(source string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return &Page{doc: doc}, nil
}

// Render serializes the page back to HTML.
func (p *Page) Render() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	if err := html.Render(&b, p.doc); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return b.String(), nil
}

// ExtractJobDescription returns the page's job description text. Candidate
// containers are tried in order: main, article, an element with class
// job-description, one with class description, then the whole body. The
// first candidate with any text wins; no candidate at all is ErrNoContent.
func (p *Page) ExtractJobDescription() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.DataAtom == atom.Main },
		func(n *html.Node) bool { return n.DataAtom == atom.Article },
		func(n *html.Node) bool { return hasClass(n, "job-description") },
		func(n *html.Node) bool { return hasClass(n, "description") },
		func(n *html.Node) bool { return n.DataAtom == atom.Body },
	}

	for _, match := range candidates {
		node := findFirst(p.doc, match)
		if node == nil {
			continue
		}
		text := collectText(node)
		if text != "" {
			return text, nil
		}
	}
	return "", ErrNoContent
}

// DisplayAnalysis renders the analysis panel into the page, replacing any
// existing panel, and highlights keywords when prefs ask for it.
func (p *Page) DisplayAnalysis(analysis *messages.JobAnalysis, prefs messages.Preferences) error {
	if analysis == nil {
		return fmt.Errorf("display analysis: nil analysis")
	}

	p.mu.Lock()
	body := findFirst(p.doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	if body == nil {
		p.mu.Unlock()
		return fmt.Errorf("display analysis: page has no body")
	}

	removePanel(p.doc)
	body.AppendChild(buildPanel(analysis, prefs))
	p.mu.Unlock()

	if prefs.HighlightKeywords {
		return p.HighlightKeywords(analysis.KeywordCategories)
	}
	return nil
}

// HighlightKeywords wraps every whole-word keyword occurrence in page text
// with a highlight span. Previous highlights are removed first, so the
// result reflects exactly the given categories.
func (p *Page) HighlightKeywords(categories []messages.KeywordCategory) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	removeHighlights(p.doc)

	var keywords []string
	for _, cat := range categories {
		for _, kw := range cat.Keywords {
			if strings.TrimSpace(kw) != "" {
				keywords = append(keywords, kw)
			}
		}
	}
	if len(keywords) == 0 {
		return nil
	}

	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	re, err := regexp.Compile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return fmt.Errorf("compile keyword pattern: %w", err)
	}

	budget := maxScanBytes
	for _, node := range textNodes(p.doc, &budget) {
		highlightNode(node, re)
	}
	return nil
}

// Clear removes the panel and all highlights, restoring the page text.
func (p *Page) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	removePanel(p.doc)
	removeHighlights(p.doc)
}

// HasPanel reports whether the analysis panel is present.
func (p *Page) HasPanel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return findFirst(p.doc, isPanel) != nil
}

// findFirst walks the tree depth-first and returns the first element node
// matching the predicate.
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func isPanel(n *html.Node) bool {
	return attrValue(n, "id") == panelID
}

func isHighlight(n *html.Node) bool {
	return n.DataAtom == atom.Span && hasClass(n, highlightClass)
}

// collectText gathers the visible text under n with whitespace collapsed.
// Skipped elements and the panel contribute nothing.
func collectText(n *html.Node) string {
	var b strings.Builder
	budget := maxScanBytes

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if budget <= 0 {
			return
		}
		if n.Type == html.ElementNode && (skippedElements[n.DataAtom] || isPanel(n)) {
			return
		}
		if n.Type == html.TextNode {
			budget -= len(n.Data)
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return strings.Join(strings.Fields(b.String()), " ")
}

// textNodes returns the text nodes eligible for highlighting, decrementing
// budget as it goes. The panel, skipped elements, and existing highlights
// are excluded.
func textNodes(n *html.Node, budget *int) []*html.Node {
	var nodes []*html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if *budget <= 0 {
			return
		}
		if n.Type == html.ElementNode && (skippedElements[n.DataAtom] || isPanel(n) || isHighlight(n)) {
			return
		}
		if n.Type == html.TextNode {
			if strings.TrimSpace(n.Data) != "" {
				*budget -= len(n.Data)
				nodes = append(nodes, n)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return nodes
}

// highlightNode splits a text node around keyword matches, wrapping each
// match in a highlight span.
func highlightNode(node *html.Node, re *regexp.Regexp) {
	text := node.Data
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return
	}

	parent := node.Parent
	if parent == nil {
		return
	}

	var replacement []*html.Node
	last := 0
	for _, m := range matches {
		if m[0] > last {
			replacement = append(replacement, &html.Node{Type: html.TextNode, Data: text[last:m[0]]})
		}
		span := element(atom.Span, "span", html.Attribute{Key: "class", Val: highlightClass})
		span.AppendChild(&html.Node{Type: html.TextNode, Data: text[m[0]:m[1]]})
		replacement = append(replacement, span)
		last = m[1]
	}
	if last < len(text) {
		replacement = append(replacement, &html.Node{Type: html.TextNode, Data: text[last:]})
	}

	for _, r := range replacement {
		parent.InsertBefore(r, node)
	}
	parent.RemoveChild(node)
}

// removePanel removes every panel instance. More than one can only exist if
// the page itself carried the id, so all are removed.
func removePanel(doc *html.Node) {
	for {
		panel := findFirst(doc, isPanel)
		if panel == nil {
			return
		}
		panel.Parent.RemoveChild(panel)
	}
}

// removeHighlights unwraps every highlight span back into plain text.
func removeHighlights(doc *html.Node) {
	for {
		span := findFirst(doc, isHighlight)
		if span == nil {
			return
		}
		var text strings.Builder
		for c := span.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				text.WriteString(c.Data)
			}
		}
		parent := span.Parent
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text.String()}, span)
		parent.RemoveChild(span)
	}
}
