package browser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/entrhq/testpilot/pkg/types"
)

var (
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
	cssIdentRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
)

// interactiveSelector matches the elements listed in an observation.
const interactiveSelector = `a[href], button, input, select, textarea, [role=button], [role=link], [role=tab], [role=menuitem], [onclick]`

// converter turns cleaned page HTML into markdown for the decision prompt.
var converter = func() *md.Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return c
}()

// buildObservation assembles an observation from a page snapshot. Content
// conversion problems degrade to the visible text instead of failing.
func buildObservation(url, title, rawHTML, text string) *types.Observation {
	obs := &types.Observation{
		CapturedAt: time.Now(),
		URL:        url,
		Title:      title,
		Text:       strings.TrimSpace(text),
	}
	if rawHTML == "" {
		return obs
	}

	if cleaned, err := cleanHTML(rawHTML); err == nil {
		if content, err := converter.ConvertString(cleaned); err == nil {
			obs.Content = tidyMarkdown(content)
		}
	}
	if elements, err := indexElements(rawHTML); err == nil {
		obs.Elements = elements
	}
	return obs
}

// cleanHTML drops scripts, styles, comments and other non-content nodes and
// returns the rendered body.
func cleanHTML(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	prune(doc)

	root := findBody(doc)
	if root == nil {
		root = doc
	}

	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	out := b.String()
	if len(out) > maxObservedHTML {
		out = out[:maxObservedHTML]
	}
	return out, nil
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && isSkippedElement(c.Data)) || isHiddenInput(c) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if body := findBody(c); body != nil {
			return body
		}
	}
	return nil
}

func isSkippedElement(tag string) bool {
	switch strings.ToLower(tag) {
	case "script", "style", "noscript", "template", "iframe", "embed", "object", "svg", "canvas", "head":
		return true
	}
	return false
}

func isHiddenInput(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "input" {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "type" && strings.EqualFold(a.Val, "hidden") {
			return true
		}
	}
	return false
}

func tidyMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// indexElements lists the interactive elements of the page, each with a
// selector the decision client can hand back in an action target.
func indexElements(rawHTML string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var out []string
	seen := make(map[string]bool)
	doc.Find(interactiveSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= maxElements {
			return false
		}
		tag := goquery.NodeName(s)
		if typ, _ := s.Attr("type"); tag == "input" && strings.EqualFold(typ, "hidden") {
			return true
		}
		if _, disabled := s.Attr("disabled"); disabled {
			return true
		}

		selector := suggestSelector(tag, s)
		if selector == "" || seen[selector] {
			return true
		}
		seen[selector] = true

		entry := fmt.Sprintf("%s %s", describeTag(tag, s), selector)
		if label := elementLabel(s); label != "" && !strings.Contains(selector, label) {
			entry += fmt.Sprintf(" %q", label)
		}
		out = append(out, entry)
		return true
	})
	return out, nil
}

func describeTag(tag string, s *goquery.Selection) string {
	if tag == "input" {
		typ, ok := s.Attr("type")
		if !ok || typ == "" {
			typ = "text"
		}
		return fmt.Sprintf("[input:%s]", strings.ToLower(typ))
	}
	if role, ok := s.Attr("role"); ok && role != "" && tag != role {
		return fmt.Sprintf("[%s:%s]", tag, role)
	}
	return fmt.Sprintf("[%s]", tag)
}

// suggestSelector prefers stable attributes over visible text.
func suggestSelector(tag string, s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && cssIdentRe.MatchString(id) {
		return "#" + id
	}
	for _, attr := range []string{"data-testid", "data-test", "name", "placeholder", "aria-label"} {
		if v, ok := s.Attr(attr); ok && v != "" && !strings.Contains(v, `"`) {
			return fmt.Sprintf(`%s[%s="%s"]`, tag, attr, v)
		}
	}
	if text := compactText(s.Text()); text != "" && len(text) <= 60 {
		return "text=" + text
	}
	return ""
}

func elementLabel(s *goquery.Selection) string {
	for _, attr := range []string{"aria-label", "title", "placeholder", "value", "alt"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return compactText(v)
		}
	}
	text := []rune(compactText(s.Text()))
	if len(text) > 60 {
		return string(text[:57]) + "..."
	}
	return string(text)
}

func compactText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
