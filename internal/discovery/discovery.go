// Package discovery finds candidate article URLs from RSS/Atom feeds and
// the NewsAPI search endpoint.
package discovery

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

const maxTitleLength = 200

// Feed is a named RSS or Atom feed.
type Feed struct {
	Name string
	URL  string
}

// Config holds discovery configuration.
type Config struct {
	Feeds              []Feed
	MaxArticlesPerFeed int
	NewsAPIKey         string // empty disables NewsAPI
	NewsAPIURL         string // API root, e.g. "https://newsapi.org"
	NewsAPIQueries     []string
	QueryDelay         time.Duration // query i starts after i * QueryDelay
	Timeout            time.Duration
	UserAgent          string
}

// Discoverer pulls candidate items from every configured source.
type Discoverer struct {
	config     Config
	parser     *gofeed.Parser
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Discoverer, filling unset fields with defaults.
func New(config Config) *Discoverer {
	if config.MaxArticlesPerFeed <= 0 {
		config.MaxArticlesPerFeed = 15
	}
	if config.NewsAPIURL == "" {
		config.NewsAPIURL = "https://newsapi.org"
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; estate-pulse/1.0)"
	}
	config.NewsAPIURL = strings.TrimSuffix(config.NewsAPIURL, "/")

	httpClient := &http.Client{Timeout: config.Timeout}
	parser := gofeed.NewParser()
	parser.Client = httpClient
	parser.UserAgent = config.UserAgent

	return &Discoverer{
		config:     config,
		parser:     parser,
		httpClient: httpClient,
		logger:     slog.Default().With("component", "discovery"),
	}
}

// Discover pulls feeds and NewsAPI concurrently and returns the combined
// items deduplicated by URL: feed items in feed order, then NewsAPI items in
// query order. A URL keeps its first position and the last label seen for it.
// Individual source failures are logged and skipped. Feeds are fetched up to
// four at a time, but results are assembled in feed order, so the output is
// the same as pulling them one by one.
func (d *Discoverer) Discover(ctx context.Context) ([]models.CandidateItem, error) {
	var feedItems, apiItems []models.CandidateItem

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		feedItems = d.fetchFeeds(gctx)
		return nil
	})
	g.Go(func() error {
		apiItems = d.fetchNewsAPI(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unique := dedupe(append(feedItems, apiItems...))
	d.logger.Info("discovery complete", "unique", len(unique), "feeds", len(feedItems), "newsapi", len(apiItems))
	return unique, nil
}

// fetchFeeds pulls every feed in parallel, keeping feed order in the output.
func (d *Discoverer) fetchFeeds(ctx context.Context) []models.CandidateItem {
	perFeed := make([][]models.CandidateItem, len(d.config.Feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, feed := range d.config.Feeds {
		g.Go(func() error {
			items, err := d.fetchFeed(gctx, feed)
			if err != nil {
				d.logger.Warn("feed failed", "feed", feed.Name, "error", err)
				return nil
			}
			d.logger.Info("feed pulled", "feed", feed.Name, "items", len(items))
			perFeed[i] = items
			return nil
		})
	}
	g.Wait()

	var items []models.CandidateItem
	for _, feedItems := range perFeed {
		items = append(items, feedItems...)
	}
	return items
}

func (d *Discoverer) fetchFeed(ctx context.Context, feed Feed) ([]models.CandidateItem, error) {
	parsed, err := d.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, err
	}

	entries := parsed.Items
	if len(entries) > d.config.MaxArticlesPerFeed {
		entries = entries[:d.config.MaxArticlesPerFeed]
	}

	items := make([]models.CandidateItem, 0, len(entries))
	for _, entry := range entries {
		link := strings.TrimSpace(entry.Link)
		if !strings.HasPrefix(link, "http") {
			continue
		}
		published := entry.PublishedParsed
		if published == nil {
			published = entry.UpdatedParsed
		}
		if published != nil {
			t := published.UTC()
			published = &t
		}
		items = append(items, models.CandidateItem{
			URL:         link,
			Title:       cleanTitle(entry.Title),
			Source:      feed.Name,
			PublishedAt: published,
		})
	}
	return items, nil
}

// cleanTitle unescapes HTML entities and caps the length.
func cleanTitle(s string) string {
	s = strings.TrimSpace(html.UnescapeString(s))
	runes := []rune(s)
	if len(runes) > maxTitleLength {
		s = string(runes[:maxTitleLength])
	}
	return s
}

// dedupe removes repeated URLs. The first occurrence keeps its position;
// its label is replaced by the last occurrence's.
func dedupe(items []models.CandidateItem) []models.CandidateItem {
	index := make(map[string]int, len(items))
	out := make([]models.CandidateItem, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.URL]; ok {
			out[i].Source = item.Source
			continue
		}
		index[item.URL] = len(out)
		out = append(out, item)
	}
	return out
}

// URLs returns the item URLs in order.
func URLs(items []models.CandidateItem) []string {
	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.URL
	}
	return urls
}

// Labels maps each item URL to its source label.
func Labels(items []models.CandidateItem) map[string]string {
	labels := make(map[string]string, len(items))
	for _, item := range items {
		labels[item.URL] = item.Source
	}
	return labels
}
