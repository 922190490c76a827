// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"fmt"
	"testing"

	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
)

func TestBuildWindowTruncation(t *testing.T) {
	// 15 prior messages plus a system prompt, window of 10: the request
	// must hold the system message plus exactly the 10 most recent
	// non-system messages in original order.
	var history []model.Message
	for i := 0; i < 15; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		history = append(history, model.NewMessage(role, fmt.Sprintf("m%d", i)))
	}

	got := BuildWindow("be brief", history, 10)

	if len(got) != 11 {
		t.Fatalf("got %d messages, want 11", len(got))
	}
	if got[0].Role != "system" || got[0].Content != "be brief" {
		t.Errorf("leading message = %+v, want the system prompt", got[0])
	}
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("m%d", i+5)
		if got[i+1].Content != want {
			t.Errorf("message %d = %q, want %q", i+1, got[i+1].Content, want)
		}
	}
}

func TestBuildWindowKeepsHistorySystemMessages(t *testing.T) {
	history := []model.Message{
		model.NewSystemMessage("instructions"),
	}
	for i := 0; i < 5; i++ {
		history = append(history, model.NewUserMessage(fmt.Sprintf("u%d", i)))
	}

	got := BuildWindow("", history, 3)

	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}
	if got[0].Role != "system" || got[0].Content != "instructions" {
		t.Errorf("system message dropped: %+v", got[0])
	}
	// The oldest user messages are dropped, not the system message.
	if got[1].Content != "u2" || got[3].Content != "u4" {
		t.Errorf("window = %+v", got[1:])
	}
}

func TestBuildWindowUnderCapacity(t *testing.T) {
	history := []model.Message{
		model.NewUserMessage("hello"),
		model.NewAssistantMessage("hi", nil),
	}

	got := BuildWindow("", history, 10)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Content != "hello" || got[1].Content != "hi" {
		t.Errorf("window = %+v", got)
	}
}

func TestBuildWindowEmptyHistory(t *testing.T) {
	if got := BuildWindow("", nil, 10); len(got) != 0 {
		t.Errorf("got %d messages from empty history, want 0", len(got))
	}
	got := BuildWindow("sys", nil, 10)
	if len(got) != 1 || got[0].Role != "system" {
		t.Errorf("got %+v, want just the system prompt", got)
	}
}

func TestBuildWindowDefaultSize(t *testing.T) {
	var history []model.Message
	for i := 0; i < 20; i++ {
		history = append(history, model.NewUserMessage(fmt.Sprintf("m%d", i)))
	}

	got := BuildWindow("", history, 0)
	if len(got) != DefaultWindowSize {
		t.Errorf("got %d messages, want default window of %d", len(got), DefaultWindowSize)
	}
}

func TestBuildWindowRoleMapping(t *testing.T) {
	history := []model.Message{
		model.NewUserMessage("q"),
		model.NewAssistantMessage("a", nil),
	}
	got := BuildWindow("", history, 10)

	want := []openrouter.ChatMessage{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
