package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// dmrBaseURL is the Docker Model Runner endpoint reached over its Unix socket.
const dmrBaseURL = "http://localhost/exp/vDD4.40/engines/llama.cpp/v1"

// Config holds embeddings client configuration.
type Config struct {
	BaseURL    string // OpenAI-compatible API root
	SocketPath string // Unix socket path for Docker Model Runner; used when BaseURL is empty
	APIKey     string
	Model      string // e.g. "sentence-transformers/all-MiniLM-L6-v2"
	Dimensions int    // expected vector size; 0 skips the check
	Timeout    time.Duration
}

// Client wraps an OpenAI-compatible embeddings API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
}

// New creates a new embeddings client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" && config.SocketPath == "" {
		return nil, fmt.Errorf("base URL or socket path is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		socketPath := config.SocketPath
		httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		baseURL = dmrBaseURL
	}

	dims := config.Dimensions
	if dims < 0 {
		dims = 0
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		model:      config.Model,
		dimensions: dims,
	}, nil
}

// embeddingRequest is the request payload for the embeddings API.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse is the response from the embeddings API.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MaxInputChars limits each input to stay within the model context window.
const MaxInputChars = 20000

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request. Vectors are returned in input
// order. Inputs longer than MaxInputChars are truncated from the end.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, text := range texts {
		if len(text) > MaxInputChars {
			text = text[:MaxInputChars]
		}
		input[i] = text
	}
	slog.Debug("generating embeddings", "inputs", len(input))

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	if len(embResp.Data) != len(input) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(input), len(embResp.Data))
	}

	sort.SliceStable(embResp.Data, func(i, j int) bool { return embResp.Data[i].Index < embResp.Data[j].Index })
	vectors := make([][]float32, len(embResp.Data))
	for i, d := range embResp.Data {
		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(d.Embedding), c.dimensions)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured vector size, falling back to the known
// size of common models.
func (c *Client) Dimensions() int {
	if c.dimensions > 0 {
		return c.dimensions
	}
	return Dimensions(c.model)
}

// Dimensions returns the expected embedding dimensions for common models.
func Dimensions(model string) int {
	switch model {
	case "sentence-transformers/all-MiniLM-L6-v2", "all-minilm", "ai/all-minilm":
		return 384
	case "ai/embeddinggemma", "nomic-embed-text":
		return 768
	case "ai/snowflake-arctic-embed":
		return 1024
	case "text-embedding-3-small":
		return 1536
	default:
		return 384
	}
}
