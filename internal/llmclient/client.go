// Package llmclient is the LLM Client (C2, spec.md §4.2): a thin adapter
// over chat-completions and embeddings with per-tenant key resolution.
// Temperature/max-tokens are chosen by the caller (the RAG/AI handler, C9),
// not here.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/convoengine/internal/retry"
	"github.com/chatrelay/convoengine/internal/store"
)

const (
	chatTimeout      = 60 * time.Second
	embedTimeout     = 20 * time.Second
	maxEmbeddingChars = 8000

	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Role mirrors the chat-message roles the provider API expects.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat-completion request.
type Message struct {
	Role    Role
	Content string
}

// Params are the caller-chosen sampling parameters (chosen by C9 per
// spec.md §4.9 step 6, never defaulted here).
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for cost/analytics accounting (C14).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Client is the LLM Client (C2).
type Client struct {
	baseURL     string
	http        *http.Client
	keys        *keyResolver
	retryConfig retry.Config
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a Client. apiKeys may be nil in standalone/no-multi-tenant
// deployments, in which case defaultKey (LLM_API_KEY) is always used.
func New(apiKeys store.APIKeyStore, encryptionKey, defaultKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:     defaultBaseURL,
		http:        &http.Client{Timeout: chatTimeout},
		keys:        newKeyResolver(apiKeys, encryptionKey, defaultKey),
		retryConfig: retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseBody struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// CompleteChat sends messages to the LLM and returns the completion text
// and token usage.
func (c *Client) CompleteChat(ctx context.Context, tenant string, messages []Message, params Params) (string, Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	key, err := c.keys.Resolve(ctx, tenant)
	if err != nil {
		return "", Usage{}, err
	}

	var system string
	var wire []wireMessage
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		wire = append(wire, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body := chatRequestBody{
		Model:       params.Model,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		System:      system,
		Messages:    wire,
	}

	type result struct {
		text  string
		usage Usage
	}

	r, err := retry.Do(ctx, retry.Config{MaxAttempts: 1}, func() (result, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return result{}, fmt.Errorf("llmclient: marshal chat request: %w", err)
		}

		resp, err := c.doRequest(ctx, "/messages", key, payload)
		if err != nil {
			return result{}, err
		}
		defer resp.Close()

		var parsed chatResponseBody
		if err := json.NewDecoder(resp).Decode(&parsed); err != nil {
			return result{}, fmt.Errorf("llmclient: decode chat response: %w", err)
		}

		var text strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return result{
			text: text.String(),
			usage: Usage{
				PromptTokens:     parsed.Usage.InputTokens,
				CompletionTokens: parsed.Usage.OutputTokens,
			},
		}, nil
	})
	if err != nil {
		if isAuthError(err) {
			c.keys.Invalidate(tenant)
		}
		return "", Usage{}, err
	}
	return r.text, r.usage, nil
}

type embedRequestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponseBody struct {
	Embedding []float32 `json:"embedding"`
}

// Embed computes an embedding vector for text, truncating at
// maxEmbeddingChars (§4.2) and retrying up to 3x with exponential backoff.
func (c *Client) Embed(ctx context.Context, tenant, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	if len(text) > maxEmbeddingChars {
		text = text[:maxEmbeddingChars]
	}

	key, err := c.keys.Resolve(ctx, tenant)
	if err != nil {
		return nil, err
	}

	body := embedRequestBody{Model: "embedding-default", Input: text}

	vec, err := retry.Do(ctx, retry.DefaultConfig(), func() ([]float32, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("llmclient: marshal embed request: %w", err)
		}

		resp, err := c.doRequest(ctx, "/embeddings", key, payload)
		if err != nil {
			return nil, err
		}
		defer resp.Close()

		var parsed embedResponseBody
		if err := json.NewDecoder(resp).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("llmclient: decode embed response: %w", err)
		}
		return parsed.Embedding, nil
	})
	if err != nil {
		if isAuthError(err) {
			c.keys.Invalidate(tenant)
		}
		return nil, err
	}
	return vec, nil
}

// llmError carries the HTTP status so callers can distinguish permanent
// (4xx other than 429) from transient (5xx/timeout) failures per §7.
type llmError struct {
	status int
	body   string
}

func (e *llmError) Error() string {
	return fmt.Sprintf("llmclient: upstream status %d: %s", e.status, e.body)
}

func (e *llmError) ShouldRetry() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func (e *llmError) RetryAfter() (time.Duration, bool) { return 0, false }

func isAuthError(err error) bool {
	var le *llmError
	return asLLMError(err, &le) && (le.status == http.StatusUnauthorized || le.status == http.StatusForbidden)
}

func asLLMError(err error, target **llmError) bool {
	if le, ok := err.(*llmError); ok {
		*target = le
		return true
	}
	return false
}

func (c *Client) doRequest(ctx context.Context, path, apiKey string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &llmError{status: http.StatusServiceUnavailable, body: err.Error()}
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, &llmError{status: resp.StatusCode, body: string(data)}
	}
	return resp.Body, nil
}
