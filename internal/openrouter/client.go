// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds a non-streaming exchange. Long enough for slow
	// model startup, short enough to fail fast on dead connections.
	DefaultTimeout = 60 * time.Second

	// DefaultModel is used when no model is configured.
	DefaultModel = "openai/gpt-3.5-turbo"

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7

	// DefaultMaxTokens is the default completion length limit.
	DefaultMaxTokens = 1000

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// maxErrorBodySize limits how much of an error body is read for the message.
	maxErrorBodySize = 256 * 1024
)

// ModelAliases maps friendly names to full model identifiers.
var ModelAliases = map[string]string{
	"auto":    "openrouter/auto",
	"haiku":   "anthropic/claude-3-haiku",
	"sonnet":  "anthropic/claude-3-sonnet",
	"opus":    "anthropic/claude-3-opus",
	"gpt4o":   "openai/gpt-4o",
	"gpt4":    "openai/gpt-4-turbo",
	"gpt3.5":  "openai/gpt-3.5-turbo",
	"deepseek": "deepseek/deepseek-chat",
	"mistral": "mistralai/mistral-7b-instruct",
}

// ResolveModel expands a friendly alias to a full model identifier.
// Unknown names pass through unchanged.
func ResolveModel(name string) string {
	if full, ok := ModelAliases[name]; ok {
		return full
	}
	return name
}

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// ChatMessage represents a single message in a chat request.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse represents a non-streaming chat completions response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Content returns the content of the first choice, or "" if none.
func (r *ChatResponse) Content() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// Pricing represents the pricing information for a model.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// ModelInfo represents information about an available model.
type ModelInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	ContextSize int     `json:"context_length"`
	Pricing     Pricing `json:"pricing"`
}

// modelsResponse is the response structure for listing models.
type modelsResponse struct {
	Data []struct {
		ID            string   `json:"id"`
		Name          string   `json:"name"`
		ContextLength int      `json:"context_length"`
		Pricing       *Pricing `json:"pricing"`
	} `json:"data"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the OpenRouter API.
//
// The zero value is not usable; construct with NewClient. A Client holds no
// per-conversation state and is safe for concurrent use, but the streaming
// core opens at most one stream per turn by design.
type Client struct {
	apiKey   string
	baseURL  string
	model    string
	timeout  time.Duration
	siteURL  string
	siteName string

	// httpClient serves non-streaming calls and carries the timeout.
	httpClient *http.Client

	// streamClient serves streaming calls; no client timeout, the whole
	// exchange is bounded by the request context instead.
	streamClient *http.Client

	// limiter throttles outbound requests client-side so a busy UI cannot
	// hammer the gateway into 429s.
	limiter *rate.Limiter
}

// NewClient creates a new OpenRouter client with the given API key.
//
// The API key should be in the format "sk-or-..." as provided by
// OpenRouter. If it is empty the client is still created but requests fail
// with ErrNotConfigured.
func NewClient(apiKey string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   DefaultTimeout,
		},
		streamClient: &http.Client{
			Transport: transport,
		},
		// 2 requests/second with a small burst covers interactive use.
		limiter:  rate.NewLimiter(rate.Limit(2), 4),
		siteURL:  "https://aichat.local",
		siteName: "aichat",
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithModel sets the default model for requests that do not name one.
func (c *Client) WithModel(model string) *Client {
	c.model = ResolveModel(model)
	return c
}

// WithTimeout sets the non-streaming request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	c.httpClient.Timeout = timeout
	return c
}

// WithSite sets the HTTP-Referer and X-Title identification headers.
func (c *Client) WithSite(url, name string) *Client {
	c.siteURL = url
	c.siteName = name
	return c
}

// WithRateLimit replaces the client-side request limiter.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.model
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a masked representation of the API key for display.
// Never exposes key fragments; uses a fingerprint instead.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.keyFingerprint())
}

// keyFingerprint returns a short SHA-256 fingerprint of the API key for logging.
func (c *Client) keyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// setHeaders sets the required headers for OpenRouter API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aichat-tui/0.1.0")

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// logRequest logs an API request without exposing sensitive data.
// Headers may contain auth and bodies may contain user text; neither is logged.
func (c *Client) logRequest(req *http.Request) {
	log.Printf("API request: %s %s (key=%s)", req.Method, req.URL.Path, c.keyFingerprint())
}

// logResponse logs an API response with duration. Status only, no body.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API response: %d (%v)", resp.StatusCode, duration)
}

// readLimited reads a response body with a size cap to prevent memory
// exhaustion from a misbehaving server.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == limit {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", limit)
	}
	return body, nil
}

// wait applies the client-side rate limiter before an outbound request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// =============================================================================
// STREAMING
// =============================================================================

// OpenStream opens a streaming chat completion and returns the response
// body for a Decoder to consume. The caller must Close the body; closing
// it is also how cancellation releases the underlying connection.
//
// The request's Stream flag is forced on and an unset Model falls back to
// the client default. Non-2xx responses are read fully, closed, and
// returned as classified errors. OpenStream never retries.
func (c *Client) OpenStream(ctx context.Context, reqBody ChatRequest) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := c.wait(ctx); err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	reqBody.Stream = true
	if reqBody.Model == "" {
		reqBody.Model = c.model
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	c.logRequest(req)
	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	c.logResponse(resp, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		body, _ := readLimited(resp.Body, maxErrorBodySize)
		resp.Body.Close()
		return nil, classifyHTTPError(resp, body)
	}

	return resp.Body, nil
}

// =============================================================================
// NON-STREAMING
// =============================================================================

// Chat performs a blocking chat completion request.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := c.wait(ctx); err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      false,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	c.logRequest(req)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	body, err := readLimited(resp.Body, MaxResponseSize)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// =============================================================================
// MODEL LISTING
// =============================================================================

// ListModels retrieves the list of available models from OpenRouter.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	url := c.baseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// The models endpoint does not require auth but we identify anyway.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aichat-tui/0.1.0")

	c.logRequest(req)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	body, err := readLimited(resp.Body, MaxResponseSize)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]ModelInfo, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		info := ModelInfo{
			ID:          m.ID,
			Name:        m.Name,
			Provider:    providerFromID(m.ID),
			ContextSize: m.ContextLength,
		}
		if m.Pricing != nil {
			info.Pricing = *m.Pricing
		}
		models = append(models, info)
	}
	return models, nil
}

// providerFromID extracts the provider prefix of a model identifier,
// e.g. "anthropic/claude-3-opus" -> "anthropic".
func providerFromID(id string) string {
	if i := strings.IndexByte(id, '/'); i > 0 {
		return id[:i]
	}
	return ""
}

// ValidateAPIKey checks if an API key format appears valid.
// This does not verify the key with OpenRouter, just the shape.
func ValidateAPIKey(apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)
	if !strings.HasPrefix(apiKey, "sk-or-") {
		return false
	}
	// Prefix plus at least 32 characters of key material.
	return len(apiKey) >= 38
}
