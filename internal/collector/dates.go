package collector

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// dateLocator names one place a publish date may live.
type dateLocator struct {
	selector string
	attr     string
	useText  bool // fall back to the element text when attr is empty
}

// dateLocators are tried in order; the first one that parses wins.
var dateLocators = []dateLocator{
	{selector: `meta[property="article:published_time"]`, attr: "content"},
	{selector: `meta[name="pubdate"]`, attr: "content"},
	{selector: `meta[name="publishdate"]`, attr: "content"},
	{selector: `meta[name="date"]`, attr: "content"},
	{selector: `meta[property="og:published_time"]`, attr: "content"},
	{selector: `meta[itemprop="datePublished"]`, attr: "content"},
	{selector: `time[itemprop="datePublished"]`, attr: "datetime", useText: true},
	{selector: `time[datetime]`, attr: "datetime"},
}

// dateLayouts are tried after RFC 3339.
var dateLayouts = []string{
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// extractPublishDate returns nil when no locator yields a parseable date.
func extractPublishDate(doc *goquery.Document) *time.Time {
	for _, loc := range dateLocators {
		sel := doc.Find(loc.selector).First()
		if sel.Length() == 0 {
			continue
		}
		raw, _ := sel.Attr(loc.attr)
		if strings.TrimSpace(raw) == "" && loc.useText {
			raw = sel.Text()
		}
		if t, ok := ParseDate(raw); ok {
			return &t
		}
	}
	return nil
}

// ParseDate parses ISO 8601 first, then a fixed list of layouts. Dates
// without a zone are taken as UTC.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
