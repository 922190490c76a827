// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Error variables for the gateway error taxonomy. Transport and HTTP
// failures map onto exactly one of these so callers can classify without
// string matching.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenRouter API key not configured")

	// ErrUnauthenticated indicates authentication failed (invalid or expired API key).
	ErrUnauthenticated = errors.New("authentication failed")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrServerError indicates a transient upstream failure (5xx).
	ErrServerError = errors.New("server error")

	// ErrNetwork indicates a connection-level failure before or during a request.
	ErrNetwork = errors.New("network error")

	// ErrTimeout indicates the exchange exceeded its deadline.
	ErrTimeout = errors.New("request timed out")
)

// APIError represents a structured error response from the gateway.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError is a rate limit error carrying the server's Retry-After hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// apiErrorResponse represents an error response body from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// classifyHTTPError converts a non-2xx response into a taxonomy error.
// The body has already been read in full so the gateway's message is never
// silently swallowed.
func classifyHTTPError(resp *http.Response, body []byte) error {
	status := resp.StatusCode

	var sentinel error
	switch {
	case status == http.StatusUnauthorized:
		sentinel = ErrUnauthenticated
	case status == http.StatusPaymentRequired:
		sentinel = ErrInsufficientCredits
	case status == http.StatusNotFound:
		sentinel = ErrModelNotFound
	case status == http.StatusTooManyRequests:
		sentinel = rateLimitError(resp)
	case status >= 500:
		sentinel = ErrServerError
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		structured := &APIError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  status,
		}
		if sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, structured.Message)
		}
		return structured
	}

	if sentinel != nil {
		return sentinel
	}
	return &APIError{Message: string(body), Status: status}
}

// rateLimitError builds a RateLimitError from the Retry-After header when
// present, falling back to the bare sentinel.
func rateLimitError(resp *http.Response) error {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return ErrRateLimited
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Duration(seconds) * time.Second}
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return ErrRateLimited
}

// classifyTransportError maps connection-level failures onto the taxonomy.
func classifyTransportError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// =============================================================================
// HUMAN-READABLE MESSAGES
// =============================================================================

// Humanize returns a user-facing message for a classified gateway error.
func Humanize(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "API key is not set. Please configure your OpenRouter API key."
	case errors.Is(err, ErrUnauthenticated):
		return "Authentication failed. Please check your API key."
	case errors.Is(err, ErrModelNotFound):
		return "Model not found. Please select a different model."
	case errors.Is(err, ErrRateLimited):
		return "Rate limit exceeded. Please wait before sending more requests."
	case errors.Is(err, ErrInsufficientCredits):
		return "Insufficient credits. Please top up your OpenRouter account."
	case errors.Is(err, ErrServerError):
		return "Server error. Please try again later."
	case errors.Is(err, ErrTimeout):
		return "Request timed out. Please check your internet connection and try again."
	case errors.Is(err, ErrNetwork):
		return "Network error. Please check your internet connection."
	case errors.Is(err, context.Canceled):
		return "Generation cancelled."
	default:
		return err.Error()
	}
}
