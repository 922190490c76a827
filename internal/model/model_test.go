// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessagePreview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    string
	}{
		{"short content", "hello", 10, "hello"},
		{"truncated", "hello world and more", 10, "hello w..."},
		{"unicode safe", "héllo wörld", 8, "héllo..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := NewUserMessage(tc.content)
			if got := msg.Preview(tc.maxLen); got != tc.want {
				t.Errorf("Preview(%d) = %q, want %q", tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestMessageEstimateTokens(t *testing.T) {
	msg := NewUserMessage(strings.Repeat("a", 40))
	if got := msg.EstimateTokens(); got != 10 {
		t.Errorf("EstimateTokens() = %d, want 10", got)
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Errorf("Role %q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error("Role tool should not be valid")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversationAppendAndSnapshot(t *testing.T) {
	conv := NewConversation()
	conv.AppendUser("first")
	conv.AppendAssistant("second", nil)

	snap := conv.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot length = %d, want 2", len(snap))
	}
	if snap[0].Role != RoleUser || snap[0].Content != "first" {
		t.Errorf("snap[0] = %v", snap[0])
	}
	if snap[1].Role != RoleAssistant || snap[1].Content != "second" {
		t.Errorf("snap[1] = %v", snap[1])
	}
}

func TestSnapshotIsolation(t *testing.T) {
	conv := NewConversation()
	conv.AppendUser("before")

	snap := conv.Snapshot()

	// Appends after snapshot time must not alter the snapshot.
	conv.AppendUser("after")

	if len(snap) != 1 {
		t.Fatalf("snapshot mutated: length = %d, want 1", len(snap))
	}
	if snap[0].Content != "before" {
		t.Errorf("snapshot mutated: content = %q", snap[0].Content)
	}
}

func TestConversationClearBumpsEpoch(t *testing.T) {
	conv := NewConversation()
	conv.AppendUser("hello")

	before := conv.Epoch()
	conv.Clear()

	if conv.Epoch() != before+1 {
		t.Errorf("Epoch after Clear = %d, want %d", conv.Epoch(), before+1)
	}
	if !conv.IsEmpty() {
		t.Error("conversation should be empty after Clear")
	}
}

func TestConversationRemoveMessage(t *testing.T) {
	conv := NewConversation()
	conv.AppendUser("keep")
	id := conv.AppendAssistant("remove me", nil)

	if !conv.RemoveMessage(id) {
		t.Fatal("RemoveMessage returned false for existing ID")
	}
	if conv.MessageCount() != 1 {
		t.Errorf("MessageCount = %d, want 1", conv.MessageCount())
	}
	if conv.RemoveMessage("msg_missing") {
		t.Error("RemoveMessage returned true for missing ID")
	}
}

func TestConversationAutoTitle(t *testing.T) {
	conv := NewConversation()
	if conv.Title() != "New Conversation" {
		t.Errorf("default title = %q", conv.Title())
	}

	conv.AppendUser("What is the capital of France?")
	if conv.Title() != "What is the capital of France?" {
		t.Errorf("auto title = %q", conv.Title())
	}

	// Title sticks to the first user message.
	conv.AppendUser("Another question")
	if conv.Title() != "What is the capital of France?" {
		t.Errorf("title changed unexpectedly: %q", conv.Title())
	}
}

func TestConversationPrune(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < MaxMessages+25; i++ {
		conv.AppendUser(fmt.Sprintf("message %d", i))
	}

	if conv.MessageCount() != MaxMessages {
		t.Fatalf("MessageCount = %d, want %d", conv.MessageCount(), MaxMessages)
	}

	// Oldest messages were dropped, most recent kept.
	snap := conv.Snapshot()
	if snap[len(snap)-1].Content != fmt.Sprintf("message %d", MaxMessages+24) {
		t.Errorf("last message = %q", snap[len(snap)-1].Content)
	}
}

func TestConversationMeta(t *testing.T) {
	conv := NewConversationWithModel("openai/gpt-4o")
	conv.AppendUser("hello there")

	meta := conv.Meta()
	if meta.Model != "openai/gpt-4o" {
		t.Errorf("meta.Model = %q", meta.Model)
	}
	if meta.MessageCount != 1 {
		t.Errorf("meta.MessageCount = %d", meta.MessageCount)
	}
	if meta.Preview != "hello there" {
		t.Errorf("meta.Preview = %q", meta.Preview)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	messages := []Message{
		NewUserMessage("hello"),
		NewAssistantMessage("hi", nil),
	}

	conv := Restore("conv_abc", "greetings", "openai/gpt-4o", "be brief",
		created, updated, messages)

	if conv.ID() != "conv_abc" || conv.Title() != "greetings" {
		t.Errorf("identity = %q / %q", conv.ID(), conv.Title())
	}
	if conv.Model() != "openai/gpt-4o" || conv.SystemPrompt() != "be brief" {
		t.Errorf("config = %q / %q", conv.Model(), conv.SystemPrompt())
	}
	if !conv.CreatedAt().Equal(created) || !conv.UpdatedAt().Equal(updated) {
		t.Errorf("timestamps changed: %v / %v", conv.CreatedAt(), conv.UpdatedAt())
	}
	if conv.MessageCount() != 2 {
		t.Errorf("MessageCount = %d, want 2", conv.MessageCount())
	}

	// The restored log is a copy; mutating the source slice has no effect.
	messages[0].Content = "mutated"
	if conv.Snapshot()[0].Content != "hello" {
		t.Error("restored conversation shares the caller's slice")
	}
}
