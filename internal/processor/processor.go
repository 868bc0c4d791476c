// Package processor renders fetched article regions as Markdown.
package processor

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Processor converts HTML content to Markdown.
type Processor struct{}

// New creates a new HTML to Markdown processor.
func New() *Processor {
	return &Processor{}
}

// Convert transforms HTML content into Markdown.
func (p *Processor) Convert(htmlContent string) (string, error) {
	if htmlContent == "" {
		return "", nil
	}

	markdown, err := htmltomarkdown.ConvertString(htmlContent)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(markdown), nil
}

// Render produces the archived Markdown for an article: a heading, a short
// provenance block and the article body. The body is converted from
// regionHTML when present and falls back to the cleaned text otherwise.
func (p *Processor) Render(a models.Article, regionHTML string) (string, error) {
	body, err := p.Convert(regionHTML)
	if err != nil {
		return "", fmt.Errorf("failed to convert article %s: %w", a.ID, err)
	}
	if body == "" {
		body = a.Content
	}

	title := a.Title
	if title == "" {
		title = ExtractTitle(regionHTML)
	}
	if title == "" {
		title = a.URL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- URL: %s\n", a.URL)
	if a.Source != "" {
		fmt.Fprintf(&b, "- Source: %s\n", a.Source)
	}
	if a.PublishedAt != nil {
		fmt.Fprintf(&b, "- Published: %s\n", a.PublishedAt.Format("2006-01-02"))
	}
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String(), nil
}

// ExtractTitle returns the first <h1>, or failing that the <title>, of an
// HTML fragment.
func ExtractTitle(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	found := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "h1" || n.Data == "title") {
			if _, ok := found[n.Data]; !ok {
				found[n.Data] = strings.TrimSpace(text(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if found["h1"] != "" {
		return found["h1"]
	}
	return found["title"]
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(text(c))
	}
	return b.String()
}
