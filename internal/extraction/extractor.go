// Package extraction turns article text into per-market sentiment readings
// using a chat completion model. The model is treated as untrusted: every
// response is parsed leniently and validated against the market whitelist.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mfenderov/estate-pulse/internal/cache"
	"github.com/mfenderov/estate-pulse/internal/llm"
	"github.com/mfenderov/estate-pulse/internal/markets"
	"github.com/mfenderov/estate-pulse/internal/metrics"
	"github.com/mfenderov/estate-pulse/internal/retry"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Completer is the chat completion call the extractor depends on.
type Completer interface {
	CompleteWithOptions(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// Store caches extraction results by content key.
type Store interface {
	Get(key string) ([]models.Extraction, bool)
	Put(key string, result []models.Extraction) error
}

// Config holds extractor configuration.
type Config struct {
	MaxContentLength int
	MaxAttempts      int
	RateLimitBackoff time.Duration // rate limited: RateLimitBackoff * attempt
	RetryBackoff     time.Duration // other failures: RetryBackoff * 2^(attempt-1)
	Temperature      float64
	MaxTokens        int
}

// Extractor produces validated sentiment extractions.
type Extractor struct {
	completer Completer
	store     Store
	catalog   *markets.Catalog
	config    Config
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates an Extractor. store may be nil to disable caching.
func New(completer Completer, store Store, catalog *markets.Catalog, config Config, m *metrics.Metrics) *Extractor {
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = 12000
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RateLimitBackoff <= 0 {
		config.RateLimitBackoff = 5 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 800
	}
	if catalog == nil {
		catalog = markets.Default()
	}
	return &Extractor{
		completer: completer,
		store:     store,
		catalog:   catalog,
		config:    config,
		metrics:   metrics.OrNew(m),
		logger:    slog.Default().With("component", "extractor"),
	}
}

// Extract returns at least one extraction for text. It never fails: when the
// model cannot be reached or its answer cannot be parsed, the neutral
// catch-all record is returned. Concurrent calls for the same text share one
// model request.
func (e *Extractor) Extract(ctx context.Context, text string) []models.Extraction {
	text = truncate(text, e.config.MaxContentLength)
	key := cache.Key(text)

	if e.store != nil {
		if cached, ok := e.store.Get(key); ok {
			e.metrics.ExtractionCacheHits.Inc()
			e.metrics.ExtractionsTotal.WithLabelValues("cached").Inc()
			return slices.Clone(cached)
		}
		e.metrics.ExtractionCacheMiss.Inc()
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		return e.extract(ctx, text, key), nil
	})
	return slices.Clone(v.([]models.Extraction))
}

func (e *Extractor) extract(ctx context.Context, text, key string) []models.Extraction {
	prompt := buildPrompt(e.catalog, text)
	opts := llm.Options{
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		JSON:        true,
	}

	var response string
	err := retry.Do(ctx, e.config.MaxAttempts, e.backoff, func(ctx context.Context, attempt int) error {
		out, err := e.completer.CompleteWithOptions(ctx, prompt, opts)
		if err != nil {
			e.logger.Warn("extraction request failed", "attempt", attempt, "rate_limited", llm.IsRateLimited(err), "error", err)
			return err
		}
		response = out
		return nil
	})
	if err != nil {
		e.logger.Warn("extraction failed, using neutral fallback", "key", key, "error", err)
		e.metrics.ExtractionsTotal.WithLabelValues("fallback").Inc()
		return fallback()
	}

	result, ok := e.parse(response)
	if !ok {
		e.logger.Warn("unparseable extraction response, using neutral fallback", "key", key, "response", truncate(response, 200))
		e.metrics.ExtractionsTotal.WithLabelValues("fallback").Inc()
		return fallback()
	}

	if e.store != nil {
		if err := e.store.Put(key, result); err != nil {
			e.logger.Warn("failed to cache extraction", "key", key, "error", err)
		}
	}
	e.metrics.ExtractionsTotal.WithLabelValues("ok").Inc()
	return result
}

func (e *Extractor) backoff(attempt int, err error) time.Duration {
	if llm.IsRateLimited(err) {
		return retry.Linear(e.config.RateLimitBackoff)(attempt, err)
	}
	return retry.Exponential(e.config.RetryBackoff, 0)(attempt, err)
}

func buildPrompt(catalog *markets.Catalog, text string) string {
	return fmt.Sprintf(`Extract real estate market sentiment from the news article below.

RULES:
1. Only use market names from this list: %s
2. If the article does not name a specific market from the list, use "%s"
3. sentiment ranges from -1.0 (very bearish) to 1.0 (very bullish)
4. confidence ranges from 0.0 to 1.0 and reflects how clearly the article expresses the sentiment
5. topics: up to 3 short phrases

ARTICLE:
%s

Respond ONLY with a JSON object in this format:
{"extractions": [{"market": "City", "sentiment": 0.0, "confidence": 0.8, "topics": ["topic"]}]}`,
		strings.Join(catalog.Names(), ", "), catalog.CatchAll(), text)
}

func fallback() []models.Extraction {
	return []models.Extraction{models.NeutralExtraction()}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
