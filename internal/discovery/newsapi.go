package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfenderov/estate-pulse/internal/retry"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// errRateLimited stops the queries that have not started yet.
var errRateLimited = errors.New("newsapi rate limited")

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// fetchNewsAPI runs the configured queries, query i starting i*QueryDelay
// after the first. A 429 on any query cancels the ones still waiting.
func (d *Discoverer) fetchNewsAPI(ctx context.Context) []models.CandidateItem {
	if d.config.NewsAPIKey == "" || len(d.config.NewsAPIQueries) == 0 {
		return nil
	}

	perQuery := make([][]models.CandidateItem, len(d.config.NewsAPIQueries))
	var limited atomic.Bool

	var g errgroup.Group
	for i, query := range d.config.NewsAPIQueries {
		g.Go(func() error {
			if err := retry.Sleep(ctx, time.Duration(i)*d.config.QueryDelay); err != nil {
				return nil
			}
			if limited.Load() {
				d.logger.Debug("newsapi query suppressed after rate limit", "query", query)
				return nil
			}

			items, err := d.query(ctx, query)
			switch {
			case errors.Is(err, errRateLimited):
				limited.Store(true)
				d.logger.Warn("newsapi rate limited", "query", query)
			case err != nil:
				d.logger.Warn("newsapi query failed", "query", query, "error", err)
			default:
				d.logger.Info("newsapi query", "query", query, "items", len(items))
				perQuery[i] = items
			}
			return nil
		})
	}
	g.Wait()

	var items []models.CandidateItem
	for _, queryItems := range perQuery {
		items = append(items, queryItems...)
	}
	return items
}

func (d *Discoverer) query(ctx context.Context, query string) ([]models.CandidateItem, error) {
	params := url.Values{
		"q":        {query},
		"language": {"en"},
		"sortBy":   {"publishedAt"},
		"pageSize": {"10"},
		"apiKey":   {d.config.NewsAPIKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.NewsAPIURL+"/v2/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	var body newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, body.Message)
	}

	items := make([]models.CandidateItem, 0, len(body.Articles))
	for _, a := range body.Articles {
		if a.URL == "" {
			continue
		}
		source := a.Source.Name
		if source == "" {
			source = "NewsAPI"
		}
		var published *time.Time
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			t = t.UTC()
			published = &t
		}
		items = append(items, models.CandidateItem{
			URL:         a.URL,
			Title:       cleanTitle(a.Title),
			Source:      source,
			PublishedAt: published,
		})
	}
	return items, nil
}
