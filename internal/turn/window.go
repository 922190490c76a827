// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
)

// DefaultWindowSize is the number of recent non-system messages included
// in an outbound request. Bounds payload size without a real tokenizer.
const DefaultWindowSize = 10

// BuildWindow converts conversation history into the outbound message list.
//
// The system prompt, when set, always leads the request. System messages
// found in the history are likewise hoisted to the front and never dropped.
// Of the remaining messages only the most recent `window` survive, oldest
// dropped first, original order preserved. A window of zero or less falls
// back to DefaultWindowSize.
func BuildWindow(systemPrompt string, history []model.Message, window int) []openrouter.ChatMessage {
	if window <= 0 {
		window = DefaultWindowSize
	}

	var system, rest []openrouter.ChatMessage
	for _, msg := range history {
		wire := openrouter.ChatMessage{Role: msg.Role.String(), Content: msg.Content}
		if msg.Role == model.RoleSystem {
			system = append(system, wire)
		} else {
			rest = append(rest, wire)
		}
	}
	if len(rest) > window {
		rest = rest[len(rest)-window:]
	}

	out := make([]openrouter.ChatMessage, 0, 1+len(system)+len(rest))
	if systemPrompt != "" {
		out = append(out, openrouter.ChatMessage{Role: model.RoleSystem.String(), Content: systemPrompt})
	}
	out = append(out, system...)
	out = append(out, rest...)
	return out
}
