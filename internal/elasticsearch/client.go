package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses  []string
	Index      string
	Username   string
	Password   string
	Dimensions int // dense_vector dims
}

// Client stores article chunks and their embeddings in one index and
// answers k-nearest-neighbour queries over them.
type Client struct {
	es    *elasticsearch.Client
	index string
	dims  int
}

// New creates a new Elasticsearch client.
func New(config Config) (*Client, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if config.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}

	cfg := elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	return &Client{
		es:    es,
		index: config.Index,
		dims:  config.Dimensions,
	}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// indexMapping defines the chunk mapping. Scores for cosine similarity are
// reported by Elasticsearch as (1 + cos) / 2.
func (c *Client) indexMapping() ([]byte, error) {
	return json.Marshal(map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":          map[string]any{"type": "keyword"},
				"article_id":  map[string]any{"type": "keyword"},
				"chunk_index": map[string]any{"type": "integer"},
				"title":       map[string]any{"type": "text"},
				"url":         map[string]any{"type": "keyword"},
				"content":     map[string]any{"type": "text", "analyzer": "english"},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       c.dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	})
}

// CreateIndex creates the index with proper mapping.
func (c *Client) CreateIndex(ctx context.Context) error {
	// Check if index exists
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	mapping, err := c.indexMapping()
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	return nil
}

// DeleteIndex removes the index (for testing/cleanup).
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// AddChunks indexes chunks with a single bulk request. Any item failure
// fails the whole call. The request waits for a refresh so the chunks are
// visible to search and to DeleteByDocument once it returns.
func (c *Client) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, chunk := range chunks {
		if len(chunk.Embedding) != c.dims {
			return fmt.Errorf("chunk %s has %d dimensions, index expects %d", chunk.ID, len(chunk.Embedding), c.dims)
		}
		meta := map[string]any{"index": map[string]any{"_index": c.index, "_id": chunk.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		if err := enc.Encode(chunk); err != nil {
			return fmt.Errorf("failed to marshal chunk: %w", err)
		}
	}

	res, err := c.es.Bulk(
		&buf,
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("bulk index failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing chunks (status %d): %s", res.StatusCode, res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}

	var failed []string
	for _, item := range br.Items {
		for _, result := range item {
			if result.Error != nil {
				failed = append(failed, fmt.Sprintf("%s: %s", result.ID, result.Error.Reason))
			}
		}
	}
	return fmt.Errorf("failed to index %d of %d chunks: %s", len(failed), len(chunks), strings.Join(failed, "; "))
}

// searchResponse represents ES search response structure.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64      `json:"_score"`
			Source models.Chunk `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchChunks returns the k chunks nearest to vector, nearest first.
// Distances are cosine distances derived from the reported score.
func (c *Client) SearchChunks(ctx context.Context, vector []float32, k int) ([]models.ChunkHit, error) {
	if k <= 0 {
		return nil, nil
	}

	searchQuery := map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": max(k*10, 100),
		},
		"_source": map[string]any{"excludes": []string{"embedding"}},
		"size":    k,
	}

	data, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	hits := make([]models.ChunkHit, len(sr.Hits.Hits))
	for i, hit := range sr.Hits.Hits {
		hits[i] = models.ChunkHit{Chunk: hit.Source, Distance: scoreToDistance(hit.Score)}
	}
	return hits, nil
}

// scoreToDistance inverts score = (1 + cos) / 2 into distance = 1 - cos.
func scoreToDistance(score float64) float64 {
	return 2 - 2*score
}

// DeleteByDocument removes every chunk of docID.
func (c *Client) DeleteByDocument(ctx context.Context, docID string) error {
	query, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"article_id": docID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(query),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete error: %s", res.String())
	}
	return nil
}

// Count returns the number of indexed chunks.
func (c *Client) Count(ctx context.Context) (int, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("count error: %s", res.String())
	}

	var cr struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return cr.Count, nil
}
