// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openrouter implements the client for the OpenRouter chat
// completions gateway.
//
// OpenRouter provides access to multiple LLM providers through a single
// API, including Claude, GPT-4, and other models. This package covers two
// concerns:
//
//   - Client: the transport. It issues authenticated HTTP requests, applies
//     timeouts and client-side rate limiting, lists models, and opens
//     streaming completions. It never retries; retry policy belongs to
//     callers.
//   - Decoder: the stream decoder. It turns the server-sent-event byte
//     stream of a completion into Frames (delta, terminal, malformed)
//     without aborting the whole stream on a single bad frame.
//
// # Usage
//
//	client := openrouter.NewClient(apiKey)
//	body, err := client.OpenStream(ctx, openrouter.ChatRequest{
//	    Model:    "openai/gpt-4o",
//	    Messages: []openrouter.ChatMessage{{Role: "user", Content: "Hello"}},
//	})
//	if err != nil { ... }
//	defer body.Close()
//	dec := openrouter.NewDecoder(body)
//	for {
//	    frame, err := dec.Next()
//	    ...
//	}
//
// # Security
//
// API keys are never logged; log lines carry only a SHA-256 fingerprint.
// Request logging records method and path, never headers or bodies.
package openrouter
