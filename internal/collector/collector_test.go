package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfenderov/estate-pulse/pkg/models"
)

func testConfig() Config {
	return Config{
		Concurrency:      10,
		Timeout:          2 * time.Second,
		MaxAttempts:      3,
		RateLimitBackoff: time.Millisecond,
		RetryBackoff:     time.Millisecond,
		MaxBackoff:       10 * time.Millisecond,
		MinContentLength: 50,
		MaxContentLength: 2000,
	}
}

func newTestCollector(t *testing.T, cfg Config) *Collector {
	t.Helper()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func page(title, body string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body><article><h1>%s</h1><p>%s</p></article></body></html>`,
		title, title, body)
}

func longText(seed string) string {
	return strings.Repeat(seed+" housing inventory and mortgage rates moved this week. ", 4)
}

func TestNew_RejectsInvertedLengths(t *testing.T) {
	cfg := testConfig()
	cfg.MinContentLength = 500
	cfg.MaxContentLength = 400
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("New() expected error when min >= max")
	}
}

func TestCollect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page("Austin market update", longText("Austin")))
	}))
	defer server.Close()

	c := newTestCollector(t, testConfig())
	docs, err := c.Collect(context.Background(), []string{server.URL + "/a"}, map[string]string{server.URL + "/a": "Feed: Test"})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}

	doc := docs[0]
	if doc.URL != server.URL+"/a" {
		t.Errorf("URL = %q", doc.URL)
	}
	if doc.Title != "Austin market update" {
		t.Errorf("Title = %q", doc.Title)
	}
	if doc.Source != "Feed: Test" {
		t.Errorf("Source = %q, want %q", doc.Source, "Feed: Test")
	}
	if !strings.Contains(doc.Content, "mortgage rates") {
		t.Errorf("Content = %q", doc.Content)
	}
	if len(doc.Fingerprint) != 64 {
		t.Errorf("Fingerprint = %q, want 64 hex chars", doc.Fingerprint)
	}
	if doc.PublishedAt != nil {
		t.Errorf("PublishedAt = %v, want nil", doc.PublishedAt)
	}
	if doc.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}
}

func TestCollect_LabelDefaultsToHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("t", longText("Tampa")))
	}))
	defer server.Close()

	docs, _ := newTestCollector(t, testConfig()).Collect(context.Background(), []string{server.URL}, nil)
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	u, _ := url.Parse(server.URL)
	if docs[0].Source != u.Host {
		t.Errorf("Source = %q, want %q", docs[0].Source, u.Host)
	}
}

func TestCollect_ContentLengthBounds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/short":
			fmt.Fprint(w, page("t", "too short"))
		default:
			fmt.Fprint(w, page("t", strings.Repeat("long text ", 500)))
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxContentLength = 300
	docs, err := newTestCollector(t, cfg).Collect(context.Background(),
		[]string{server.URL + "/short", server.URL + "/long"}, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if n := len([]rune(docs[0].Content)); n != 300 {
		t.Errorf("len(Content) = %d, want 300", n)
	}
}

func TestCollect_StatusHandling(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int // served in order; the last one repeats
		wantDocs int
		wantHits int32
	}{
		{"ok", []int{200}, 1, 1},
		{"not found abandoned", []int{404}, 0, 1},
		{"server error abandoned", []int{500}, 0, 1},
		{"forbidden abandoned", []int{403}, 0, 1},
		{"accepted dropped", []int{202}, 0, 1},
		{"rate limited then ok", []int{429, 200}, 1, 2},
		{"rate limited twice then ok", []int{429, 429, 200}, 1, 3},
		{"rate limited always", []int{429}, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(hits.Add(1))
				status := tt.statuses[min(n, len(tt.statuses))-1]
				w.WriteHeader(status)
				fmt.Fprint(w, page("t", longText("Boise")))
			}))
			defer server.Close()

			docs, err := newTestCollector(t, testConfig()).Collect(context.Background(), []string{server.URL}, nil)
			if err != nil {
				t.Fatalf("Collect() error = %v", err)
			}
			if len(docs) != tt.wantDocs {
				t.Errorf("got %d docs, want %d", len(docs), tt.wantDocs)
			}
			if got := hits.Load(); got != tt.wantHits {
				t.Errorf("server hits = %d, want %d", got, tt.wantHits)
			}
		})
	}
}

func TestCollect_TimeoutRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		fmt.Fprint(w, page("t", longText("Reno")))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	docs, err := newTestCollector(t, cfg).Collect(context.Background(), []string{server.URL}, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("got %d docs, want 1", len(docs))
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestCollect_ConnectionRefusedGivesUp(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	docs, err := newTestCollector(t, testConfig()).Collect(context.Background(), []string{addr}, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d docs, want 0", len(docs))
	}
}

func TestCollect_ConcurrencyLimit(t *testing.T) {
	const limit = 10

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, page("t", longText(r.URL.Path)))
	}))
	defer server.Close()

	urls := make([]string, 100)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/article-%d", server.URL, i)
	}

	cfg := testConfig()
	cfg.Concurrency = limit
	docs, err := newTestCollector(t, cfg).Collect(context.Background(), urls, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(docs) != 100 {
		t.Errorf("got %d docs, want 100", len(docs))
	}
	if p := peak.Load(); p > limit {
		t.Errorf("peak in-flight = %d, want <= %d", p, limit)
	}
}

func TestCollect_DedupesByFingerprint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("syndicated", longText("Same")))
	}))
	defer server.Close()

	docs, err := newTestCollector(t, testConfig()).Collect(context.Background(),
		[]string{server.URL + "/one", server.URL + "/two", server.URL + "/one"}, nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("got %d docs, want 1", len(docs))
	}
}

func TestCollect_CancelledContext(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, page("t", longText("x")))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs, err := newTestCollector(t, testConfig()).Collect(ctx, []string{server.URL}, nil)
	if err == nil {
		t.Error("Collect() expected context error")
	}
	if len(docs) != 0 || hits.Load() != 0 {
		t.Errorf("expected no fetches, got docs=%d hits=%d", len(docs), hits.Load())
	}
}

func TestCollect_Empty(t *testing.T) {
	docs, err := newTestCollector(t, testConfig()).Collect(context.Background(), nil, nil)
	if err != nil || docs != nil {
		t.Errorf("Collect(nil) = %v, %v", docs, err)
	}
}

func TestBackoff(t *testing.T) {
	c := newTestCollector(t, Config{
		RateLimitBackoff: 5 * time.Second,
		RetryBackoff:     time.Second,
		MaxBackoff:       3 * time.Second,
		MaxContentLength: 100,
	})

	tests := []struct {
		name      string
		status    int
		err       error
		attempt   int
		wantDelay time.Duration
		wantRetry bool
	}{
		{"429 first", http.StatusTooManyRequests, nil, 1, 5 * time.Second, true},
		{"429 second", http.StatusTooManyRequests, nil, 2, 10 * time.Second, true},
		{"timeout first", 0, context.DeadlineExceeded, 1, time.Second, true},
		{"timeout second", 0, context.DeadlineExceeded, 2, 2 * time.Second, true},
		{"timeout capped", 0, context.DeadlineExceeded, 5, 3 * time.Second, true},
		{"404", http.StatusNotFound, nil, 1, 0, false},
		{"503", http.StatusServiceUnavailable, nil, 1, 0, false},
		{"unknown error", 0, fmt.Errorf("unsupported protocol scheme"), 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, _, retry := c.backoff(tt.status, tt.err, tt.attempt)
			if retry != tt.wantRetry || delay != tt.wantDelay {
				t.Errorf("backoff() = (%v, %v), want (%v, %v)", delay, retry, tt.wantDelay, tt.wantRetry)
			}
		})
	}
}

func TestDedupe_FirstWins(t *testing.T) {
	docs := []models.FetchedDocument{
		{URL: "a", Fingerprint: "f1"},
		{URL: "b", Fingerprint: "f2"},
		{URL: "c", Fingerprint: "f1"},
	}
	got := dedupe(docs)
	if len(got) != 2 || got[0].URL != "a" || got[1].URL != "b" {
		t.Errorf("dedupe() = %+v", got)
	}
}
