// Package vectorindex chunks article text, embeds the chunks and answers
// semantic similarity queries over everything indexed.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Embedder maps text to vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Backend stores chunk vectors and finds nearest neighbours by cosine
// distance.
type Backend interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) error
	SearchChunks(ctx context.Context, vector []float32, k int) ([]models.ChunkHit, error)
	DeleteByDocument(ctx context.Context, docID string) error
	Count(ctx context.Context) (int, error)
}

// Config holds chunking configuration.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
}

// Metadata is attached to every chunk of a document.
type Metadata struct {
	Title string
	URL   string
}

// Index is the vector index facade.
type Index struct {
	chunker  Chunker
	embedder Embedder
	backend  Backend
	logger   *slog.Logger
}

// New creates an Index. An invalid chunking configuration is rejected here.
func New(config Config, embedder Embedder, backend Backend) (*Index, error) {
	chunker := Chunker{
		Size:      config.ChunkSize,
		Overlap:   config.ChunkOverlap,
		MinLength: config.MinChunkLength,
	}
	if err := chunker.Validate(); err != nil {
		return nil, err
	}
	return &Index{
		chunker:  chunker,
		embedder: embedder,
		backend:  backend,
		logger:   slog.Default().With("component", "vectorindex"),
	}, nil
}

// Add chunks text, embeds the chunks and stores them under docID. It
// returns the number of chunks stored; text too short to yield a chunk
// stores nothing and returns 0.
func (ix *Index) Add(ctx context.Context, text string, meta Metadata, docID string) (int, error) {
	pieces, err := ix.chunker.Split(text)
	if err != nil {
		return 0, err
	}
	if len(pieces) == 0 {
		return 0, nil
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks for %s: %w", docID, err)
	}
	if len(vectors) != len(pieces) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces))
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s_%d", docID, i),
			DocumentID: docID,
			Index:      i,
			Content:    piece,
			Title:      meta.Title,
			URL:        meta.URL,
			Embedding:  vectors[i],
		}
	}

	if err := ix.backend.AddChunks(ctx, chunks); err != nil {
		ix.logger.Error("failed to add chunks", "doc_id", docID, "error", err)
		return 0, fmt.Errorf("failed to add chunks for %s: %w", docID, err)
	}
	ix.logger.Debug("indexed document", "doc_id", docID, "chunks", len(chunks))
	return len(chunks), nil
}

// Search returns up to k chunks most similar to query, best first.
// Relevance is 1 - distance/2, clamped to [0,1] and rounded to 3 places.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := ix.backend.SearchChunks(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		title := hit.Title
		if title == "" {
			title = "Unknown"
		}
		results = append(results, models.SearchResult{
			Content:   hit.Content,
			Title:     title,
			URL:       hit.URL,
			ArticleID: hit.DocumentID,
			Relevance: similarity(hit.Distance),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DeleteByDocument removes every chunk stored under docID.
func (ix *Index) DeleteByDocument(ctx context.Context, docID string) error {
	if err := ix.backend.DeleteByDocument(ctx, docID); err != nil {
		ix.logger.Error("failed to delete chunks", "doc_id", docID, "error", err)
		return fmt.Errorf("failed to delete chunks for %s: %w", docID, err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (ix *Index) Count(ctx context.Context) (int, error) {
	return ix.backend.Count(ctx)
}

func similarity(distance float64) float64 {
	s := 1 - distance/2
	if math.IsNaN(s) {
		return 0
	}
	s = max(0, min(1, s))
	return math.Round(s*1000) / 1000
}
