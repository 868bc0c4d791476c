// Package ingestion is the periodic ingestion job: discover candidate
// articles, drop the ones already stored and process the rest.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mfenderov/estate-pulse/internal/discovery"
	"github.com/mfenderov/estate-pulse/internal/pipeline"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Discoverer finds candidate articles.
type Discoverer interface {
	Discover(ctx context.Context) ([]models.CandidateItem, error)
}

// URLIndex reports which URLs are already stored.
type URLIndex interface {
	KnownURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// Processor runs a batch through the orchestrator.
type Processor interface {
	Process(ctx context.Context, urls []string, labels map[string]string) (*pipeline.Result, error)
}

// Summary describes one run.
type Summary struct {
	Discovered int              `json:"discovered"`
	New        int              `json:"new"`
	Result     *pipeline.Result `json:"result,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
}

// Runner runs the periodic ingestion job.
type Runner struct {
	discoverer Discoverer
	known      URLIndex
	processor  Processor
	logger     *slog.Logger

	mu   sync.Mutex
	last *Summary
}

// NewRunner creates a Runner.
func NewRunner(d Discoverer, known URLIndex, p Processor) *Runner {
	return &Runner{
		discoverer: d,
		known:      known,
		processor:  p,
		logger:     slog.Default().With("component", "ingestion"),
	}
}

// Run discovers candidates, diffs them against stored URLs and processes the
// new ones with their source labels.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: time.Now()}

	items, err := r.discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering sources: %w", err)
	}
	summary.Discovered = len(items)

	known, err := r.known.KnownURLs(ctx, discovery.URLs(items))
	if err != nil {
		return nil, fmt.Errorf("loading known urls: %w", err)
	}

	fresh := make([]models.CandidateItem, 0, len(items))
	for _, item := range items {
		if !known[item.URL] {
			fresh = append(fresh, item)
		}
	}
	summary.New = len(fresh)

	if len(fresh) > 0 {
		r.logger.Info("processing new articles", "discovered", len(items), "new", len(fresh))
		summary.Result, err = r.processor.Process(ctx, discovery.URLs(fresh), discovery.Labels(fresh))
		if err != nil && summary.Result == nil {
			return nil, fmt.Errorf("processing articles: %w", err)
		}
	} else {
		r.logger.Info("no new articles", "discovered", len(items))
	}
	summary.Duration = time.Since(summary.StartedAt)

	r.mu.Lock()
	r.last = summary
	r.mu.Unlock()
	return summary, err
}

// Job adapts Run to the scheduler's job signature.
func (r *Runner) Job(ctx context.Context) error {
	_, err := r.Run(ctx)
	return err
}

// Last returns the most recent completed run, or nil.
func (r *Runner) Last() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
