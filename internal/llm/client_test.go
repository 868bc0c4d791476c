package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"no endpoint", Config{Model: "m"}, true},
		{"empty model", Config{BaseURL: "http://x"}, true},
		{"base url", Config{BaseURL: "http://x", Model: "m"}, false},
		{"socket", Config{SocketPath: "/tmp/test.sock", Model: "m"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func reply(content string) chatResponse {
	var r chatResponse
	r.Choices = make([]struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}, 1)
	r.Choices[0].Message.Content = content
	return r
}

func TestCompleteWithOptions_Request(t *testing.T) {
	var got chatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(reply("  {\"ok\": true}\n"))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/v1/", APIKey: "secret", Model: "test-model"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := client.CompleteWithOptions(context.Background(), "hello", Options{Temperature: 0.1, MaxTokens: 800, JSON: true})
	if err != nil {
		t.Fatalf("CompleteWithOptions() error = %v", err)
	}
	if out != `{"ok": true}` {
		t.Errorf("output = %q", out)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != "test-model" || len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("request = %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.1 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if got.MaxTokens != 800 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", got.ResponseFormat)
	}
}

func TestComplete_NoAPIKeyNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("unexpected Authorization header %q", h)
		}
		json.NewEncoder(w).Encode(reply("ok"))
	}))
	defer server.Close()

	client, _ := New(Config{BaseURL: server.URL, Model: "m"})
	if _, err := client.Complete(context.Background(), "hi"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRateLimit bool
	}{
		{"429", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true},
		{"500", http.StatusInternalServerError, "internal error", false},
		{"400 rate limit message", http.StatusBadRequest, `{"error":{"code":"rate_limit_exceeded"}}`, true},
		{"error payload", http.StatusOK, `{"error":{"message":"Rate limit reached for model"}}`, true},
		{"empty choices", http.StatusOK, `{"choices":[]}`, false},
		{"bad json", http.StatusOK, `not json`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client, _ := New(Config{BaseURL: server.URL, Model: "m"})
			_, err := client.Complete(context.Background(), "hi")
			if err == nil {
				t.Fatal("Complete() expected error")
			}
			if got := IsRateLimited(err); got != tt.wantRateLimit {
				t.Errorf("IsRateLimited(%v) = %v, want %v", err, got, tt.wantRateLimit)
			}
		})
	}
}

func TestAPIError_StatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := New(Config{BaseURL: server.URL, Model: "m"})
	_, err := client.Complete(context.Background(), "hi")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is(err, ErrRateLimited) = false")
	}
}

func TestIsRateLimited_PlainErrors(t *testing.T) {
	if IsRateLimited(nil) {
		t.Error("nil should not be rate limited")
	}
	if !IsRateLimited(fmt.Errorf("upstream: %w", ErrRateLimited)) {
		t.Error("wrapped ErrRateLimited should match")
	}
	if !IsRateLimited(errors.New("Rate Limit exceeded")) {
		t.Error("message match should be case-insensitive")
	}
	if IsRateLimited(errors.New("connection refused")) {
		t.Error("unrelated error matched")
	}
}

func TestComplete_UnixSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Failed to create Unix socket: %v", err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/exp/vDD4.40/engines/llama.cpp/v1/chat/completions" {
				t.Errorf("path = %q", r.URL.Path)
			}
			json.NewEncoder(w).Encode(reply("from socket"))
		}),
	}
	go server.Serve(listener)
	defer server.Close()

	client, err := New(Config{SocketPath: socketPath, Model: "ai/gemma3"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := client.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "from socket" {
		t.Errorf("output = %q", out)
	}
}
