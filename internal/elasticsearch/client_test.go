package elasticsearch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

func skipIfNoES(t *testing.T) {
	if os.Getenv("SKIP_ES_TESTS") == "1" {
		t.Skip("Skipping ES tests (SKIP_ES_TESTS=1)")
	}

	// Try to connect to ES
	client, err := New(Config{
		Addresses:  []string{"http://localhost:9200"},
		Index:      "test-skip-check",
		Dimensions: 3,
	})
	if err != nil {
		t.Skipf("Skipping ES tests: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !client.Ping(ctx) {
		t.Skip("Skipping ES tests: Elasticsearch not available")
	}
}

// fakeES records requests and answers like a minimal Elasticsearch node.
type fakeES struct {
	mu       sync.Mutex
	requests map[string][]byte // "METHOD path" -> body
	handler  func(w http.ResponseWriter, r *http.Request, body []byte) bool
}

func newFakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte) bool) (*Client, *fakeES) {
	t.Helper()
	f := &fakeES{requests: make(map[string][]byte), handler: handler}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests[r.URL.Path] = body
		f.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if f.handler != nil && f.handler(w, r, body) {
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{Addresses: []string{server.URL}, Index: "chunks", Dimensions: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client, f
}

func (f *fakeES) body(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Index: "", Dimensions: 3}); err == nil {
		t.Error("New() should require an index name")
	}
	if _, err := New(Config{Index: "x", Dimensions: 0}); err == nil {
		t.Error("New() should require positive dimensions")
	}
}

func TestAddChunks_BulkBody(t *testing.T) {
	var refresh string
	client, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ []byte) bool {
		if strings.HasSuffix(r.URL.Path, "/_bulk") {
			refresh = r.URL.Query().Get("refresh")
			fmt.Fprint(w, `{"errors":false,"items":[]}`)
			return true
		}
		return false
	})

	chunks := []models.Chunk{
		{ID: "a1_0", DocumentID: "a1", Index: 0, Content: "first", Title: "T", URL: "https://x/1", Embedding: []float32{1, 0, 0}},
		{ID: "a1_1", DocumentID: "a1", Index: 1, Content: "second", Title: "T", URL: "https://x/1", Embedding: []float32{0, 1, 0}},
	}
	if err := client.AddChunks(context.Background(), chunks); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if refresh != "wait_for" {
		t.Errorf("bulk refresh = %q, want wait_for", refresh)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(f.body("/chunks/_bulk"))))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 4 {
		t.Fatalf("bulk body has %d lines, want 4: %q", len(lines), lines)
	}

	var action map[string]map[string]string
	json.Unmarshal([]byte(lines[0]), &action)
	if action["index"]["_id"] != "a1_0" {
		t.Errorf("action = %v", action)
	}
	var doc models.Chunk
	json.Unmarshal([]byte(lines[3]), &doc)
	if doc.DocumentID != "a1" || doc.Index != 1 || doc.Content != "second" || len(doc.Embedding) != 3 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestAddChunks_ItemErrors(t *testing.T) {
	client, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ []byte) bool {
		fmt.Fprint(w, `{"errors":true,"items":[{"index":{"_id":"a1_0","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad vector"}}}]}`)
		return true
	})

	err := client.AddChunks(context.Background(), []models.Chunk{{ID: "a1_0", Embedding: []float32{1, 2, 3}}})
	if err == nil || !strings.Contains(err.Error(), "bad vector") {
		t.Errorf("AddChunks() error = %v, want item failure", err)
	}
}

func TestAddChunks_DimensionMismatch(t *testing.T) {
	client, f := newFakeES(t, nil)
	if err := client.AddChunks(context.Background(), []models.Chunk{{ID: "x", Embedding: []float32{1}}}); err == nil {
		t.Error("AddChunks() expected dimension error")
	}
	if f.body("/chunks/_bulk") != nil {
		t.Error("no request should be sent for invalid chunks")
	}
}

func TestSearchChunks(t *testing.T) {
	client, f := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ []byte) bool {
		fmt.Fprint(w, `{"hits":{"hits":[
			{"_score":1.0,"_source":{"id":"a_0","article_id":"a","chunk_index":0,"content":"exact","title":"A","url":"https://a"}},
			{"_score":0.75,"_source":{"id":"b_2","article_id":"b","chunk_index":2,"content":"close","title":"B","url":"https://b"}}
		]}}`)
		return true
	})

	hits, err := client.SearchChunks(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SearchChunks() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Distance != 0 || math.Abs(hits[1].Distance-0.5) > 1e-9 {
		t.Errorf("distances = %v, %v; want 0, 0.5", hits[0].Distance, hits[1].Distance)
	}
	if hits[1].DocumentID != "b" || hits[1].Index != 2 || hits[1].URL != "https://b" {
		t.Errorf("hit = %+v", hits[1])
	}

	var query struct {
		KNN struct {
			Field         string    `json:"field"`
			QueryVector   []float32 `json:"query_vector"`
			K             int       `json:"k"`
			NumCandidates int       `json:"num_candidates"`
		} `json:"knn"`
		Size int `json:"size"`
	}
	if err := json.Unmarshal(f.body("/chunks/_search"), &query); err != nil {
		t.Fatalf("bad search body: %v", err)
	}
	if query.KNN.Field != "embedding" || query.KNN.K != 5 || query.KNN.NumCandidates != 100 || query.Size != 5 {
		t.Errorf("query = %+v", query)
	}
}

func TestSearchChunks_MissingIndex(t *testing.T) {
	client, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ []byte) bool {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"index_not_found_exception"}}`)
		return true
	})

	hits, err := client.SearchChunks(context.Background(), []float32{1, 0, 0}, 3)
	if err != nil || len(hits) != 0 {
		t.Errorf("SearchChunks() = %v, %v; want empty result", hits, err)
	}
}

func TestDeleteByDocument(t *testing.T) {
	client, f := newFakeES(t, nil)
	if err := client.DeleteByDocument(context.Background(), "article-7"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	body := string(f.body("/chunks/_delete_by_query"))
	if !strings.Contains(body, `"article_id":"article-7"`) {
		t.Errorf("delete body = %s", body)
	}
}

func TestDeleteByDocument_Error(t *testing.T) {
	client, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ []byte) bool {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom"}`)
		return true
	})
	if err := client.DeleteByDocument(context.Background(), "a"); err == nil {
		t.Error("DeleteByDocument() expected error")
	}
}

func TestCount(t *testing.T) {
	client, _ := newFakeES(t, func(w http.ResponseWriter, r *http.Request, _ []byte) bool {
		fmt.Fprint(w, `{"count":42}`)
		return true
	})
	n, err := client.Count(context.Background())
	if err != nil || n != 42 {
		t.Errorf("Count() = %d, %v; want 42", n, err)
	}
}

func TestScoreToDistance(t *testing.T) {
	tests := []struct{ score, want float64 }{
		{1, 0},   // identical
		{0.5, 1}, // orthogonal
		{0, 2},   // opposite
	}
	for _, tt := range tests {
		if got := scoreToDistance(tt.score); got != tt.want {
			t.Errorf("scoreToDistance(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestClient_Connect(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses:  []string{"http://localhost:9200"},
		Index:      "estate-pulse-test",
		Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !client.Ping(context.Background()) {
		t.Error("Ping() should return true for running ES")
	}
}

func TestClient_ChunkLifecycle(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses:  []string{"http://localhost:9200"},
		Index:      "estate-pulse-test-chunks",
		Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()

	// Setup: delete and create fresh index
	client.DeleteIndex(ctx)
	if err := client.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	// Creating again should not error (idempotent)
	if err := client.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex() second call error = %v", err)
	}
	defer client.DeleteIndex(ctx)

	chunks := []models.Chunk{
		{ID: "a_0", DocumentID: "a", Index: 0, Content: "mortgage rates", Title: "A", URL: "https://a", Embedding: []float32{1, 0, 0}},
		{ID: "a_1", DocumentID: "a", Index: 1, Content: "home prices", Title: "A", URL: "https://a", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "b_0", DocumentID: "b", Index: 0, Content: "rent growth", Title: "B", URL: "https://b", Embedding: []float32{0, 0, 1}},
	}
	if err := client.AddChunks(ctx, chunks); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	n, err := client.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v; want 3", n, err)
	}

	hits, err := client.SearchChunks(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchChunks() error = %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "a_0" {
		t.Errorf("SearchChunks() = %+v, want a_0 first", hits)
	}
	if hits[0].Distance > 1e-3 {
		t.Errorf("identical vector distance = %v, want ~0", hits[0].Distance)
	}

	if err := client.DeleteByDocument(ctx, "a"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	if n, _ := client.Count(ctx); n != 1 {
		t.Errorf("Count() after delete = %d, want 1", n)
	}
}
