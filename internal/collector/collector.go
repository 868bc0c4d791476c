// Package collector fetches article pages with bounded concurrency and a
// per-URL retry policy, and turns them into cleaned documents.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/mfenderov/estate-pulse/internal/metrics"
	"github.com/mfenderov/estate-pulse/internal/retry"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Config holds collector configuration.
type Config struct {
	Concurrency      int           // max simultaneous in-flight fetches
	Timeout          time.Duration // per request
	MaxAttempts      int
	RateLimitBackoff time.Duration // 429: RateLimitBackoff * attempt
	RetryBackoff     time.Duration // transient: RetryBackoff * 2^(attempt-1), capped
	MaxBackoff       time.Duration
	UserAgent        string
	MinContentLength int
	MaxContentLength int
}

// Collector fetches and cleans article pages.
type Collector struct {
	config  Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Collector, filling unset fields with defaults.
func New(config Config, m *metrics.Metrics) (*Collector, error) {
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 25 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "estate-pulse/1.0"
	}
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = 12000
	}
	if config.MinContentLength >= config.MaxContentLength {
		return nil, fmt.Errorf("min content length (%d) must be less than max content length (%d)",
			config.MinContentLength, config.MaxContentLength)
	}
	return &Collector{
		config:  config,
		metrics: metrics.OrNew(m),
		logger:  slog.Default().With("component", "collector"),
	}, nil
}

const (
	ctxURL     = "url"
	ctxAttempt = "attempt"
)

// Collect fetches urls and returns the cleaned documents, deduplicated by
// content fingerprint. Among documents sharing a fingerprint the one whose
// fetch completed first is kept; completion order is not deterministic.
// labels maps a URL to its source label; unlabeled URLs use their host.
// URLs that fail, are abandoned, or are too short are dropped silently.
func (c *Collector) Collect(ctx context.Context, urls []string, labels map[string]string) ([]models.FetchedDocument, error) {
	urls = uniqueURLs(urls)
	if len(urls) == 0 {
		return nil, nil
	}

	var (
		mu   sync.Mutex
		docs []models.FetchedDocument
	)

	col := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(c.config.UserAgent),
		colly.IgnoreRobotsTxt(),
		colly.DetectCharset(),
	)
	col.SetRequestTimeout(c.config.Timeout)
	if err := col.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.config.Concurrency,
	}); err != nil {
		return nil, fmt.Errorf("failed to set fetch limit: %w", err)
	}

	col.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})

	col.OnResponse(func(r *colly.Response) {
		rawURL := r.Ctx.Get(ctxURL)
		if r.StatusCode != http.StatusOK {
			c.logger.Debug("dropping non-200 response", "url", rawURL, "status", r.StatusCode)
			c.metrics.FetchesTotal.WithLabelValues("dropped").Inc()
			return
		}

		doc, ok := c.document(rawURL, r.Body, labelFor(labels, rawURL))
		if !ok {
			c.metrics.FetchesTotal.WithLabelValues("too_short").Inc()
			return
		}
		c.metrics.FetchesTotal.WithLabelValues("ok").Inc()

		mu.Lock()
		docs = append(docs, doc)
		mu.Unlock()
	})

	col.OnError(func(r *colly.Response, err error) {
		rawURL := r.Ctx.Get(ctxURL)
		attempt, _ := r.Ctx.GetAny(ctxAttempt).(int)

		delay, reason, retryable := c.backoff(r.StatusCode, err, attempt)
		if !retryable {
			c.logger.Debug("abandoning url", "url", rawURL, "status", r.StatusCode, "error", err)
			c.metrics.FetchesTotal.WithLabelValues("dropped").Inc()
			return
		}
		if attempt >= c.config.MaxAttempts {
			c.logger.Warn("giving up on url", "url", rawURL, "attempts", attempt, "reason", reason, "error", err)
			c.metrics.FetchesTotal.WithLabelValues("failed").Inc()
			return
		}

		c.logger.Debug("retrying url", "url", rawURL, "attempt", attempt, "reason", reason, "delay", delay)
		c.metrics.FetchRetriesTotal.WithLabelValues(reason).Inc()
		if retry.Sleep(ctx, delay) != nil {
			return
		}
		r.Ctx.Put(ctxAttempt, attempt+1)
		if err := r.Request.Retry(); err != nil {
			c.logger.Warn("retry failed to start", "url", rawURL, "error", err)
		}
	})

	for _, u := range urls {
		reqCtx := colly.NewContext()
		reqCtx.Put(ctxURL, u)
		reqCtx.Put(ctxAttempt, 1)
		if err := col.Request(http.MethodGet, u, nil, reqCtx, nil); err != nil {
			c.logger.Debug("request rejected", "url", u, "error", err)
			c.metrics.FetchesTotal.WithLabelValues("dropped").Inc()
		}
	}
	col.Wait()

	result := dedupe(docs)
	c.metrics.DocumentsCollected.Add(float64(len(result)))
	c.metrics.DuplicatesDropped.Add(float64(len(docs) - len(result)))
	c.logger.Info("collect complete", "requested", len(urls), "fetched", len(docs), "unique", len(result))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// document builds a FetchedDocument, reporting false for pages that are not
// articles.
func (c *Collector) document(rawURL string, body []byte, label string) (models.FetchedDocument, bool) {
	page, err := Extract(body)
	if err != nil {
		c.logger.Debug("failed to extract page", "url", rawURL, "error", err)
		return models.FetchedDocument{}, false
	}

	text := page.Text
	if len([]rune(text)) < c.config.MinContentLength {
		c.logger.Debug("page too short", "url", rawURL, "length", len([]rune(text)))
		return models.FetchedDocument{}, false
	}
	text = truncate(text, c.config.MaxContentLength)

	return models.FetchedDocument{
		URL:         rawURL,
		Title:       page.Title,
		Content:     text,
		Source:      label,
		PublishedAt: page.PublishedAt,
		Fingerprint: models.Fingerprint(text),
		HTML:        page.HTML,
		FetchedAt:   time.Now().UTC(),
	}, true
}

// backoff decides whether a failed attempt is retried and how long to wait.
func (c *Collector) backoff(status int, err error, attempt int) (time.Duration, string, bool) {
	attempt = max(attempt, 1)
	switch {
	case status == http.StatusTooManyRequests:
		return retry.Linear(c.config.RateLimitBackoff)(attempt, err), "rate_limited", true
	case status == 0 && isTransient(err):
		return retry.Exponential(c.config.RetryBackoff, c.config.MaxBackoff)(attempt, err), "transient", true
	}
	return 0, "", false
}

// isTransient reports whether err is a timeout or connection-level failure
// worth retrying. DNS "no such host" and protocol errors are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func dedupe(docs []models.FetchedDocument) []models.FetchedDocument {
	seen := make(map[string]struct{}, len(docs))
	out := docs[:0:0]
	for _, d := range docs {
		if _, dup := seen[d.Fingerprint]; dup {
			continue
		}
		seen[d.Fingerprint] = struct{}{}
		out = append(out, d)
	}
	return out
}

func uniqueURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func labelFor(labels map[string]string, rawURL string) string {
	if label, ok := labels[rawURL]; ok && label != "" {
		return label
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return "direct"
}
