package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// dmrBaseURL is the OpenAI-compatible endpoint exposed by Docker Model Runner
// over its Unix socket. The host part is ignored by the socket dialer.
const dmrBaseURL = "http://localhost/exp/vDD4.40/engines/llama.cpp/v1"

// ErrRateLimited is matched by errors.Is for 429 responses.
var ErrRateLimited = errors.New("rate limited")

// Config holds LLM client configuration.
type Config struct {
	BaseURL    string // OpenAI-compatible API root, e.g. https://api.groq.com/openai/v1
	SocketPath string // Unix socket path for Docker Model Runner; used when BaseURL is empty
	APIKey     string // sent as a bearer token when set
	Model      string
	Timeout    time.Duration
}

// Client wraps an OpenAI-compatible chat completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// New creates a new LLM client.
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

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		model:      config.Model,
	}, nil
}

// APIError is returned for non-200 responses and error payloads.
type APIError struct {
	StatusCode int // 0 when the error came from a 200 response body
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "API error: " + e.Message
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrRateLimited) match rate limit responses.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.rateLimited()
}

func (e *APIError) rateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit")
}

// IsRateLimited reports whether err is a rate limit signal from the provider,
// either a 429 status or a message that says so.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit")
}

// Options tune a single completion.
type Options struct {
	Temperature float64
	MaxTokens   int  // 0 means no limit
	JSON        bool // request a JSON object response
}

// chatRequest is the request payload for the chat completions API.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the response from the chat completions API.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt to the LLM and returns the response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithOptions(ctx, prompt, Options{})
}

// CompleteWithOptions sends a single user message with the given options.
func (c *Client) CompleteWithOptions(ctx context.Context, prompt string, opts Options) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	if opts.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", &APIError{Message: chatResp.Error.Message}
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response returned")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
