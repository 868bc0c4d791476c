package collector

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MaxTitleLength bounds extracted titles.
const MaxTitleLength = 200

// ErrNoContent is returned when a page has no extractable text.
var ErrNoContent = errors.New("no extractable content")

// Page is the article content extracted from one HTML document.
type Page struct {
	Title       string
	Text        string
	HTML        string     // outer HTML of the main content region
	PublishedAt *time.Time // nil when no publish date was found
}

// junkSelectors are removed before the main region is located.
var junkSelectors = strings.Join([]string{
	"script", "style", "nav", "footer", "aside", "iframe", "noscript",
	"svg", "button", "form", "header",
	".advertisement", ".ad", ".ads", "[id^='ad-']", "[class*='sponsor']",
}, ", ")

var (
	contentClass = regexp.MustCompile(`(?i)article|content|post`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// boilerplate phrases removed from extracted text.
var boilerplate = compileAll(
	`skip\s*(to\s*)?(content|navigation)`,
	`sign\s*(up|in)`,
	`subscribe`,
	`newsletter`,
	`advertisement`,
	`sponsored`,
	`cookie`,
	`privacy\s*policy`,
	`terms\s*of\s*(use|service)`,
	`copyright`,
	`all\s*rights\s*reserved`,
	`follow\s*us`,
	`share\s*this`,
	`related\s*articles`,
	`you\s*may\s*also`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(`(?i)` + p)
	}
	return res
}

// Extract parses an HTML document into a Page. It does not apply length
// thresholds; the collector does that.
func Extract(body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := Page{
		Title:       extractTitle(doc),
		PublishedAt: extractPublishDate(doc),
	}

	doc.Find(junkSelectors).Remove()

	region := mainRegion(doc)
	if outer, err := goquery.OuterHtml(region); err == nil {
		page.HTML = outer
	}
	page.Text = CleanText(visibleText(region.Nodes))
	if page.Text == "" {
		return page, ErrNoContent
	}
	return page, nil
}

func extractTitle(doc *goquery.Document) string {
	for _, sel := range []string{"h1", "title"} {
		if t := collapse(doc.Find(sel).First().Text()); t != "" {
			return truncate(t, MaxTitleLength)
		}
	}
	return ""
}

// mainRegion picks article, then main, then the first element with a
// content-like class, then body.
func mainRegion(doc *goquery.Document) *goquery.Selection {
	if s := doc.Find("article").First(); s.Length() > 0 {
		return s
	}
	if s := doc.Find("main").First(); s.Length() > 0 {
		return s
	}
	classed := doc.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return contentClass.MatchString(class)
	}).First()
	if classed.Length() > 0 {
		return classed
	}
	if s := doc.Find("body").First(); s.Length() > 0 {
		return s
	}
	return doc.Selection
}

// visibleText joins the text nodes under nodes with single spaces.
func visibleText(nodes []*html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// CleanText strips boilerplate phrases and normalizes whitespace.
func CleanText(text string) string {
	for _, re := range boilerplate {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
