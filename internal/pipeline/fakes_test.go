package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mfenderov/estate-pulse/internal/anomaly"
	"github.com/mfenderov/estate-pulse/internal/events"
	"github.com/mfenderov/estate-pulse/internal/llm"
	"github.com/mfenderov/estate-pulse/internal/store"
	"github.com/mfenderov/estate-pulse/internal/vectorindex"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// memStore is an in-memory store whose transactions stage writes and apply
// them only on commit.
type memStore struct {
	mu         sync.Mutex
	articles   []models.Article
	markets    map[string]models.Market
	sentiments []models.Sentiment
	alerts     []models.Alert
	failOn     string // "sentiment" or "alert" forces that write to fail
	nextMarket int64
}

func newMemStore() *memStore {
	return &memStore{markets: make(map[string]models.Market)}
}

func (s *memStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	s.articles = append(s.articles, tx.articles...)
	for _, m := range tx.markets {
		s.markets[m.Name] = m
	}
	s.sentiments = append(s.sentiments, tx.sentiments...)
	s.alerts = append(s.alerts, tx.alerts...)
	return nil
}

// seed stores n past scores for market.
func (s *memStore) seed(market string, score float64, age time.Duration, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[market]
	if !ok {
		s.nextMarket++
		m = models.Market{ID: s.nextMarket, Name: market}
		s.markets[market] = m
	}
	for range n {
		s.sentiments = append(s.sentiments, models.Sentiment{
			MarketID: m.ID, Market: market, Score: score, ExtractedAt: time.Now().Add(-age),
		})
	}
}

func (s *memStore) snapshot() ([]models.Article, []models.Sentiment, []models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Article(nil), s.articles...),
		append([]models.Sentiment(nil), s.sentiments...),
		append([]models.Alert(nil), s.alerts...)
}

type memTx struct {
	s          *memStore
	articles   []models.Article
	markets    []models.Market
	sentiments []models.Sentiment
	alerts     []models.Alert
}

func (t *memTx) ArticleExists(_ context.Context, url, fingerprint string) (bool, error) {
	for _, a := range append(t.s.articles, t.articles...) {
		if a.URL == url || a.ContentHash == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateArticle(_ context.Context, a *models.Article) error {
	a.CreatedAt = time.Now()
	t.articles = append(t.articles, *a)
	return nil
}

func (t *memTx) GetOrCreateMarket(_ context.Context, name, region string) (models.Market, error) {
	if m, ok := t.s.markets[name]; ok {
		return m, nil
	}
	for _, m := range t.markets {
		if m.Name == name {
			return m, nil
		}
	}
	t.s.nextMarket++
	m := models.Market{ID: t.s.nextMarket, Name: name, Region: region}
	t.markets = append(t.markets, m)
	return m, nil
}

func (t *memTx) CreateSentiment(_ context.Context, s *models.Sentiment) error {
	if t.s.failOn == "sentiment" {
		return errors.New("sentiment insert failed")
	}
	s.ExtractedAt = time.Now()
	t.sentiments = append(t.sentiments, *s)
	return nil
}

func (t *memTx) CreateAlert(_ context.Context, a *models.Alert) error {
	if t.s.failOn == "alert" {
		return errors.New("alert insert failed")
	}
	a.ID = "alert-" + a.Market
	t.alerts = append(t.alerts, *a)
	return nil
}

func (t *memTx) MarketScores(_ context.Context, market string, since time.Time) ([]float64, error) {
	var scores []float64
	for _, s := range append(t.s.sentiments, t.sentiments...) {
		if s.Market == market && !s.ExtractedAt.Before(since) {
			scores = append(scores, s.Score)
		}
	}
	return scores, nil
}

// fakeIndex records added and deleted documents.
type fakeIndex struct {
	mu      sync.Mutex
	added   []string
	deleted []string
	chunks  int
	err     error
}

func (f *fakeIndex) Add(_ context.Context, _ string, _ vectorindex.Metadata, docID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, docID)
	if f.err != nil {
		return 0, f.err
	}
	return f.chunks, nil
}

func (f *fakeIndex) DeleteByDocument(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, docID)
	return nil
}

// staticFetcher returns the same documents for every batch.
type staticFetcher struct {
	docs []models.FetchedDocument
	err  error
}

func (f staticFetcher) Collect(context.Context, []string, map[string]string) ([]models.FetchedDocument, error) {
	return f.docs, f.err
}

// fixedExtractor returns the same extractions for every text.
type fixedExtractor []models.Extraction

func (f fixedExtractor) Extract(context.Context, string) []models.Extraction {
	return f
}

// countingDetector wraps a Detector and counts checks per market.
type countingDetector struct {
	inner  Detector
	mu     sync.Mutex
	checks map[string]int
}

func (d *countingDetector) Check(ctx context.Context, src anomaly.ScoreSource, market string) (anomaly.Result, error) {
	d.mu.Lock()
	if d.checks == nil {
		d.checks = make(map[string]int)
	}
	d.checks[market]++
	d.mu.Unlock()
	return d.inner.Check(ctx, src, market)
}

// recordingPublisher keeps published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(typ string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// cannedCompleter answers every prompt with response.
type cannedCompleter struct {
	response string
}

func (c cannedCompleter) CompleteWithOptions(context.Context, string, llm.Options) (string, error) {
	return c.response, nil
}

// recordingArchiver keeps archived article IDs.
type recordingArchiver struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (a *recordingArchiver) Archive(_ context.Context, article models.Article, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, article.ID)
	return "articles/" + article.ID, a.err
}
