// Package pipeline runs fetched articles through persistence, indexing,
// sentiment extraction and anomaly detection, one article per transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mfenderov/estate-pulse/internal/anomaly"
	"github.com/mfenderov/estate-pulse/internal/events"
	"github.com/mfenderov/estate-pulse/internal/markets"
	"github.com/mfenderov/estate-pulse/internal/metrics"
	"github.com/mfenderov/estate-pulse/internal/store"
	"github.com/mfenderov/estate-pulse/internal/vectorindex"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Fetcher turns URLs into cleaned documents.
type Fetcher interface {
	Collect(ctx context.Context, urls []string, labels map[string]string) ([]models.FetchedDocument, error)
}

// Store runs one article's writes atomically.
type Store interface {
	InTx(ctx context.Context, fn func(store.Tx) error) error
}

// Indexer stores article text for semantic retrieval.
type Indexer interface {
	Add(ctx context.Context, text string, meta vectorindex.Metadata, docID string) (int, error)
	DeleteByDocument(ctx context.Context, docID string) error
}

// Extractor produces validated market sentiment for article text. It never fails.
type Extractor interface {
	Extract(ctx context.Context, text string) []models.Extraction
}

// Detector tests a market for an anomalous sentiment shift.
type Detector interface {
	Check(ctx context.Context, src anomaly.ScoreSource, market string) (anomaly.Result, error)
}

// Archiver keeps a copy of each persisted article.
type Archiver interface {
	Archive(ctx context.Context, article models.Article, regionHTML string) (string, error)
}

// Deps are the collaborators of a Pipeline. Publisher, Archiver and Metrics
// are optional.
type Deps struct {
	Fetcher   Fetcher
	Store     Store
	Index     Indexer
	Extractor Extractor
	Detector  Detector
	Catalog   *markets.Catalog
	Publisher events.Publisher
	Archiver  Archiver
	Metrics   *metrics.Metrics
}

// Options tune a Pipeline.
type Options struct {
	HighSeverityZ     float64       // z-score at or above which an alert is high severity (3.0)
	PostCommitTimeout time.Duration // budget for publishing, archiving and index compensation (15s)
}

// Result summarizes one batch.
type Result struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"` // requested URLs not processed
	Chunks    int            `json:"chunks"`
	Failed    int            `json:"failed"` // articles rolled back
	Alerts    []models.Alert `json:"alerts,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Pipeline is the ingestion orchestrator. It is safe for concurrent use;
// concurrent batches rely on the store's uniqueness constraints.
type Pipeline struct {
	deps    Deps
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	var errs []error
	if deps.Fetcher == nil {
		errs = append(errs, errors.New("fetcher is required"))
	}
	if deps.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if deps.Index == nil {
		errs = append(errs, errors.New("index is required"))
	}
	if deps.Extractor == nil {
		errs = append(errs, errors.New("extractor is required"))
	}
	if deps.Detector == nil {
		errs = append(errs, errors.New("detector is required"))
	}
	if deps.Catalog == nil {
		errs = append(errs, errors.New("market catalog is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if opts.HighSeverityZ <= 0 {
		opts.HighSeverityZ = 3.0
	}
	if opts.PostCommitTimeout <= 0 {
		opts.PostCommitTimeout = 15 * time.Second
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		metrics: metrics.OrNew(deps.Metrics),
		logger:  slog.Default().With("component", "pipeline"),
	}, nil
}

// ProcessURLs fetches and processes urls, labelling each article by host.
func (p *Pipeline) ProcessURLs(ctx context.Context, urls []string) (*Result, error) {
	return p.Process(ctx, urls, nil)
}

// Process fetches urls and processes every fetched document in sequence.
// labels maps a URL to its source label. Per-article failures are counted,
// not returned; an error means the batch itself could not run. When ctx is
// cancelled mid-batch the partial result is returned with ctx's error.
func (p *Pipeline) Process(ctx context.Context, urls []string, labels map[string]string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	docs, err := p.deps.Fetcher.Collect(ctx, urls, labels)
	if err != nil {
		return nil, fmt.Errorf("collecting articles: %w", err)
	}
	p.logger.Info("processing batch", "requested", len(urls), "fetched", len(docs))

	var batchErr error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			batchErr = err
			break
		}
		p.processDocument(ctx, doc, result)
	}

	result.Skipped = len(urls) - result.Processed
	result.Duration = time.Since(start)
	p.metrics.BatchDuration.Observe(result.Duration.Seconds())
	p.logger.Info("batch complete",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"chunks", result.Chunks,
		"alerts", len(result.Alerts),
		"duration", result.Duration)

	p.publish(ctx, events.NewIngestionCompleted(events.IngestionCompleted{
		Requested: len(urls),
		Processed: result.Processed,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		Chunks:    result.Chunks,
		Alerts:    len(result.Alerts),
		Duration:  result.Duration,
	}))
	return result, batchErr
}

// errAlreadyStored marks an article that matched a stored URL or fingerprint.
var errAlreadyStored = errors.New("article already stored")

// raised is an alert committed with its article.
type raised struct {
	alert  models.Alert
	zScore float64
}

func (p *Pipeline) processDocument(ctx context.Context, doc models.FetchedDocument, result *Result) {
	fingerprint := doc.Fingerprint
	if fingerprint == "" {
		fingerprint = models.Fingerprint(doc.Content)
	}
	article := models.Article{
		ID:          uuid.NewString(),
		URL:         doc.URL,
		Title:       doc.Title,
		Content:     doc.Content,
		Source:      doc.Source,
		PublishedAt: doc.PublishedAt,
		ContentHash: fingerprint,
	}

	var (
		indexed bool
		chunks  int
		alerts  []raised
	)
	err := p.deps.Store.InTx(ctx, func(tx store.Tx) error {
		exists, err := tx.ArticleExists(ctx, article.URL, article.ContentHash)
		if err != nil {
			return err
		}
		if exists {
			return errAlreadyStored
		}
		if err := tx.CreateArticle(ctx, &article); err != nil {
			return err
		}

		indexed = true
		chunks, err = p.deps.Index.Add(ctx, article.Content, vectorindex.Metadata{Title: article.Title, URL: article.URL}, article.ID)
		if err != nil {
			return fmt.Errorf("indexing: %w", err)
		}

		alerts, err = p.recordSentiment(ctx, tx, article)
		return err
	})

	switch {
	case errors.Is(err, errAlreadyStored), errors.Is(err, store.ErrDuplicate):
		p.metrics.ArticlesTotal.WithLabelValues("duplicate").Inc()
		p.logger.Debug("skipping stored article", "url", article.URL)
		return
	case err != nil:
		result.Failed++
		p.metrics.ArticlesTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("failed to process article, rolled back", "url", article.URL, "error", err)
		if indexed {
			p.compensate(ctx, article.ID)
		}
		return
	}

	result.Processed++
	result.Chunks += chunks
	p.metrics.ArticlesTotal.WithLabelValues("processed").Inc()
	p.metrics.ChunksIndexedTotal.Add(float64(chunks))
	p.logger.Info("processed article", "title", truncate(article.Title, 60), "chunks", chunks, "alerts", len(alerts))

	evts := make([]events.Event, 0, len(alerts))
	for _, r := range alerts {
		result.Alerts = append(result.Alerts, r.alert)
		p.metrics.AlertsTotal.WithLabelValues(r.alert.Severity).Inc()
		evts = append(evts, events.NewAlertRaised(events.AlertRaised{
			AlertID:   r.alert.ID,
			Market:    r.alert.Market,
			ArticleID: r.alert.ArticleID,
			Severity:  r.alert.Severity,
			Message:   r.alert.Message,
			ZScore:    r.zScore,
		}))
	}
	p.publish(ctx, evts...)
	p.archive(ctx, article, doc.HTML)
}

// recordSentiment extracts sentiment for article, stores one row per
// whitelisted market reading and checks each distinct market once.
func (p *Pipeline) recordSentiment(ctx context.Context, tx store.Tx, article models.Article) ([]raised, error) {
	var alerts []raised
	checked := make(map[string]bool)

	for _, ext := range p.deps.Extractor.Extract(ctx, article.Content) {
		name, ok := p.deps.Catalog.Normalize(ext.Market)
		if !ok {
			continue
		}
		market, err := tx.GetOrCreateMarket(ctx, name, p.deps.Catalog.Region(name))
		if err != nil {
			return nil, err
		}

		ext = ext.Clamp()
		if err := tx.CreateSentiment(ctx, &models.Sentiment{
			ArticleID:  article.ID,
			MarketID:   market.ID,
			Market:     name,
			Score:      ext.Sentiment,
			Confidence: ext.Confidence,
			Topics:     ext.Topics,
		}); err != nil {
			return nil, err
		}

		if checked[name] {
			continue
		}
		checked[name] = true

		res, err := p.deps.Detector.Check(ctx, tx, name)
		if err != nil {
			return nil, fmt.Errorf("anomaly check for %s: %w", name, err)
		}
		if !res.Anomalous {
			continue
		}

		alert := models.Alert{
			MarketID:  market.ID,
			Market:    name,
			ArticleID: article.ID,
			Type:      models.AlertSentimentShift,
			Severity:  p.severity(res.ZScore),
			Message:   fmt.Sprintf("Unusual sentiment shift detected in %s", name),
		}
		if err := tx.CreateAlert(ctx, &alert); err != nil {
			return nil, err
		}
		p.logger.Info("sentiment shift detected", "market", name, "z", res.ZScore, "severity", alert.Severity)
		alerts = append(alerts, raised{alert: alert, zScore: res.ZScore})
	}
	return alerts, nil
}

func (p *Pipeline) severity(z float64) string {
	if z >= p.opts.HighSeverityZ {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// compensate removes the chunks of a rolled-back article.
func (p *Pipeline) compensate(ctx context.Context, articleID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PostCommitTimeout)
	defer cancel()
	if err := p.deps.Index.DeleteByDocument(ctx, articleID); err != nil {
		p.logger.Error("failed to remove chunks of rolled-back article", "article_id", articleID, "error", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, evts ...events.Event) {
	if len(evts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PostCommitTimeout)
	defer cancel()
	if err := p.deps.Publisher.Publish(ctx, evts...); err != nil {
		p.logger.Warn("failed to publish events", "count", len(evts), "error", err)
	}
}

func (p *Pipeline) archive(ctx context.Context, article models.Article, regionHTML string) {
	if p.deps.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PostCommitTimeout)
	defer cancel()
	if _, err := p.deps.Archiver.Archive(ctx, article, regionHTML); err != nil {
		p.logger.Warn("failed to archive article", "article_id", article.ID, "error", err)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
