// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testKey = "sk-or-v1-0123456789abcdef0123456789abcdef"

// testClient builds a client aimed at a test server with the rate limiter
// opened wide so tests never stall on throttling.
func testClient(url string) *Client {
	return NewClient(testKey).WithBaseURL(url).WithRateLimit(1000, 1000)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("  " + testKey + "  ")

	if !c.IsConfigured() {
		t.Error("client with key should be configured")
	}
	if c.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", c.Model(), DefaultModel)
	}
}

func TestNewClientEmptyKey(t *testing.T) {
	c := NewClient("")
	if c.IsConfigured() {
		t.Error("client without key should not be configured")
	}

	_, err := c.OpenStream(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("OpenStream error = %v, want ErrNotConfigured", err)
	}

	_, err = c.Chat(context.Background(), nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Chat error = %v, want ErrNotConfigured", err)
	}
}

func TestWithModelResolvesAliases(t *testing.T) {
	c := NewClient(testKey).WithModel("opus")
	if c.Model() != "anthropic/claude-3-opus" {
		t.Errorf("Model() = %q, want alias expansion", c.Model())
	}

	c.WithModel("custom/some-model")
	if c.Model() != "custom/some-model" {
		t.Errorf("Model() = %q, unknown names must pass through", c.Model())
	}
}

func TestAPIKeyMaskedNeverLeaksKey(t *testing.T) {
	c := NewClient(testKey)
	masked := c.APIKeyMasked()

	if strings.Contains(masked, testKey) {
		t.Error("masked key contains the raw key")
	}
	// Not even the distinguishing suffix beyond the known prefix.
	if strings.Contains(masked, "0123456789abcdef") {
		t.Error("masked key contains key material")
	}

	if NewClient("").APIKeyMasked() != "[not set]" {
		t.Error("empty key should mask as [not set]")
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"valid", testKey, true},
		{"valid with whitespace", "  " + testKey + "  ", true},
		{"empty", "", false},
		{"wrong prefix", "sk-proj-0123456789abcdef0123456789abcdef", false},
		{"too short", "sk-or-abc", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateAPIKey(tc.key); got != tc.valid {
				t.Errorf("ValidateAPIKey(%q) = %v, want %v", tc.key, got, tc.valid)
			}
		})
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestOpenStreamSendsProperRequest(t *testing.T) {
	var gotPath, gotAuth, gotAccept string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	body, err := c.OpenStream(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("OpenStream() error: %v", err)
	}
	defer body.Close()

	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer "+testKey {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Accept = %q", gotAccept)
	}
	// Stream flag is forced on and the default model is filled in.
	if !strings.Contains(string(gotBody), `"stream":true`) {
		t.Errorf("request body missing stream flag: %s", gotBody)
	}
	if !strings.Contains(string(gotBody), DefaultModel) {
		t.Errorf("request body missing default model: %s", gotBody)
	}
}

func TestOpenStreamDecodeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"lo!"}}]}`+"\n")
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	body, err := testClient(srv.URL).OpenStream(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("OpenStream() error: %v", err)
	}
	defer body.Close()

	frames := collectFrames(t, NewDecoder(body))
	if got := deltas(frames); got != "Hello!" {
		t.Errorf("accumulated = %q, want %q", got, "Hello!")
	}
	if frames[len(frames)-1].Kind != FrameTerminal {
		t.Error("stream should end with a terminal frame")
	}
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrUnauthenticated},
		{"payment required", http.StatusPaymentRequired, `{"error":{"message":"no credits"}}`, ErrInsufficientCredits},
		{"model not found", http.StatusNotFound, `{"error":{"message":"no such model"}}`, ErrModelNotFound},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited},
		{"server error", http.StatusInternalServerError, "upstream broke", ErrServerError},
		{"bad gateway", http.StatusBadGateway, "", ErrServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := testClient(srv.URL).OpenStream(context.Background(), ChatRequest{
				Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
			})
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("error = %v, want %v", err, tc.sentinel)
			}
		})
	}
}

func TestRateLimitRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).OpenStream(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
	})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rle.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", rle.RetryAfter)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("RateLimitError should match ErrRateLimited")
	}
}

func TestErrorBodyMessageSurvives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"code":"invalid_api_key","message":"API key is invalid"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).OpenStream(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "API key is invalid") {
		t.Errorf("error %v should carry the gateway message", err)
	}
}

func TestTransportErrorClassification(t *testing.T) {
	// Nothing listens here; connection is refused immediately.
	c := testClient("http://127.0.0.1:1")
	_, err := c.OpenStream(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("error = %v, want ErrNetwork", err)
	}
}

func TestContextCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL).OpenStream(ctx, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// NON-STREAMING AND MODELS
// =============================================================================

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "gen-1",
			"model": "openai/gpt-3.5-turbo",
			"choices": [{"message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Chat(context.Background(), []ChatMessage{
		{Role: "user", Content: "Hi"},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Content() != "Hello!" {
		t.Errorf("Content() = %q", resp.Content())
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"data": [
				{"id": "anthropic/claude-3-opus", "name": "Claude 3 Opus", "context_length": 200000,
				 "pricing": {"prompt": "0.000015", "completion": "0.000075"}},
				{"id": "standalone-model", "name": "Standalone", "context_length": 4096}
			]
		}`)
	}))
	defer srv.Close()

	models, err := testClient(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if models[0].Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", models[0].Provider)
	}
	if models[0].Pricing.Prompt != "0.000015" {
		t.Errorf("pricing = %+v", models[0].Pricing)
	}
	if models[1].Provider != "" {
		t.Errorf("provider for un-prefixed id = %q, want empty", models[1].Provider)
	}
}

func TestProviderFromID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"anthropic/claude-3-opus", "anthropic"},
		{"openai/gpt-4o", "openai"},
		{"no-slash", ""},
		{"/leading-slash", ""},
	}
	for _, tc := range tests {
		if got := providerFromID(tc.id); got != tc.want {
			t.Errorf("providerFromID(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrUnauthenticated, "Authentication failed. Please check your API key."},
		{ErrRateLimited, "Rate limit exceeded. Please wait before sending more requests."},
		{&RateLimitError{RetryAfter: time.Second}, "Rate limit exceeded. Please wait before sending more requests."},
		{context.Canceled, "Generation cancelled."},
		{nil, ""},
	}
	for _, tc := range tests {
		if got := Humanize(tc.err); got != tc.want {
			t.Errorf("Humanize(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
