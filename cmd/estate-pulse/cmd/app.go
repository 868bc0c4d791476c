package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mfenderov/estate-pulse/internal/anomaly"
	"github.com/mfenderov/estate-pulse/internal/cache"
	"github.com/mfenderov/estate-pulse/internal/collector"
	"github.com/mfenderov/estate-pulse/internal/config"
	"github.com/mfenderov/estate-pulse/internal/discovery"
	"github.com/mfenderov/estate-pulse/internal/elasticsearch"
	"github.com/mfenderov/estate-pulse/internal/embeddings"
	"github.com/mfenderov/estate-pulse/internal/events"
	"github.com/mfenderov/estate-pulse/internal/extraction"
	"github.com/mfenderov/estate-pulse/internal/ingestion"
	"github.com/mfenderov/estate-pulse/internal/llm"
	"github.com/mfenderov/estate-pulse/internal/markets"
	"github.com/mfenderov/estate-pulse/internal/metrics"
	"github.com/mfenderov/estate-pulse/internal/pipeline"
	"github.com/mfenderov/estate-pulse/internal/storage"
	"github.com/mfenderov/estate-pulse/internal/store"
	"github.com/mfenderov/estate-pulse/internal/trends"
	"github.com/mfenderov/estate-pulse/internal/vectorindex"
)

// app holds the components a command needs. Fields a command did not ask
// for stay nil.
type app struct {
	cfg      config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store    *store.Store
	index    *vectorindex.Index
	trends   *trends.Service
	pipeline *pipeline.Pipeline
	runner   *ingestion.Runner

	closers []func() error
}

type appOptions struct {
	pipeline bool // build the ingestion pipeline and the periodic job
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.store, err = store.Open(ctx, store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return a, fmt.Errorf("failed to open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)
	if err := a.store.Migrate(ctx); err != nil {
		return a, fmt.Errorf("failed to migrate store: %w", err)
	}
	a.trends = trends.New(a.store)

	dims := cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embeddings.Dimensions(cfg.Embeddings.Model)
	}
	es, err := elasticsearch.New(elasticsearch.Config{
		Addresses:  cfg.Elasticsearch.Addresses,
		Index:      cfg.Elasticsearch.Index,
		Username:   cfg.Elasticsearch.Username,
		Password:   cfg.Elasticsearch.Password,
		Dimensions: dims,
	})
	if err != nil {
		return a, fmt.Errorf("failed to create ES client: %w", err)
	}
	if err := es.CreateIndex(ctx); err != nil {
		return a, fmt.Errorf("failed to create index: %w", err)
	}

	embedder := embeddings.LazyClient(embeddings.Config{
		BaseURL:    cfg.Embeddings.BaseURL,
		SocketPath: cfg.Embeddings.SocketPath,
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: dims,
		Timeout:    cfg.Embeddings.Timeout,
	})
	a.index, err = vectorindex.New(vectorindex.Config{
		ChunkSize:      cfg.Index.ChunkSize,
		ChunkOverlap:   cfg.Index.ChunkOverlap,
		MinChunkLength: cfg.Index.MinChunkLength,
	}, embedder, es)
	if err != nil {
		return a, err
	}

	if opts.pipeline {
		if err := a.buildPipeline(ctx); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (a *app) buildPipeline(ctx context.Context) error {
	cfg := a.cfg
	catalog := markets.New(cfg.Markets)

	fetcher, err := collector.New(collector.Config{
		Concurrency:      cfg.Collector.Concurrency,
		Timeout:          cfg.Collector.Timeout,
		MaxAttempts:      cfg.Collector.MaxAttempts,
		RateLimitBackoff: cfg.Collector.RateLimitBackoff,
		RetryBackoff:     cfg.Collector.RetryBackoff,
		MaxBackoff:       cfg.Collector.MaxBackoff,
		UserAgent:        cfg.Collector.UserAgent,
		MinContentLength: cfg.Collector.MinContentLength,
		MaxContentLength: cfg.Collector.MaxContentLength,
	}, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}

	llmClient, err := llm.New(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		SocketPath: cfg.LLM.SocketPath,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	// The cache is an optimization; run uncached when the dir is unusable.
	var results extraction.Store
	if c, err := cache.New(cache.Config{Dir: cfg.Cache.Dir, TTL: cfg.Cache.TTL(), MaxFiles: cfg.Cache.MaxFiles}); err != nil {
		slog.Warn("extraction cache disabled", "dir", cfg.Cache.Dir, "error", err)
	} else {
		results = c
	}
	extractor := extraction.New(llmClient, results, catalog, extraction.Config{
		MaxContentLength: cfg.Collector.MaxContentLength,
		MaxAttempts:      cfg.LLM.MaxAttempts,
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
	}, a.metrics)

	detector := anomaly.New(anomaly.Config{
		BaselineWindow: cfg.Anomaly.BaselineWindow,
		RecentWindow:   cfg.Anomaly.RecentWindow,
		MinSamples:     cfg.Anomaly.MinSamples,
		ZThreshold:     cfg.Anomaly.ZThreshold,
		StdDevFloor:    cfg.Anomaly.StdDevFloor,
	})

	deps := pipeline.Deps{
		Fetcher:   fetcher,
		Store:     a.store,
		Index:     a.index,
		Extractor: extractor,
		Detector:  detector,
		Catalog:   catalog,
		Metrics:   a.metrics,
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafka(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
		deps.Publisher = publisher
	}

	if cfg.Storage.Enabled {
		objects, err := storage.New(storage.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Bucket:          cfg.Storage.Bucket,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UseSSL:          cfg.Storage.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure bucket: %w", err)
		}
		deps.Archiver = storage.NewArchiver(objects)
	}

	a.pipeline, err = pipeline.New(deps, pipeline.Options{})
	if err != nil {
		return err
	}

	discoverer := discovery.New(discovery.Config{
		Feeds:              feeds(cfg.Discovery.Feeds),
		MaxArticlesPerFeed: cfg.Discovery.MaxArticlesPerFeed,
		NewsAPIKey:         cfg.Discovery.NewsAPIKey,
		NewsAPIURL:         cfg.Discovery.NewsAPIURL,
		NewsAPIQueries:     cfg.Discovery.NewsAPIQueries,
		QueryDelay:         cfg.Discovery.QueryDelay,
		Timeout:            cfg.Discovery.Timeout,
		UserAgent:          cfg.Collector.UserAgent,
	})
	a.runner = ingestion.NewRunner(discoverer, a.store, a.pipeline)
	return nil
}

func feeds(in []config.Feed) []discovery.Feed {
	out := make([]discovery.Feed, len(in))
	for i, f := range in {
		out[i] = discovery.Feed{Name: f.Name, URL: f.URL}
	}
	return out
}

// Close releases every component in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
