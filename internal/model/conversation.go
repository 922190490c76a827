// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// MaxMessages is the maximum number of messages to keep in conversation history.
// When exceeded, old messages are pruned to prevent unbounded memory growth.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
//
// All mutating and reading methods are safe for concurrent use: the UI
// context appends the user message at submit time while the turn worker
// appends the assistant message at finalize time. Snapshot returns a copy
// so a request already built is never affected by later appends.
type Conversation struct {
	mu sync.Mutex

	// Identity
	id        string
	title     string
	createdAt time.Time
	updatedAt time.Time

	// Messages (append-only; pruned at MaxMessages)
	messages []Message

	// Model configuration
	model string

	// System prompt (optional, kept out of the message log so window
	// truncation can never drop it)
	systemPrompt string

	// epoch increments on Clear. A turn started against an earlier epoch
	// must not finalize into the cleared conversation.
	epoch uint64
}

// NewConversation creates a new conversation with a generated ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		id:        generateConversationID(),
		createdAt: now,
		updatedAt: now,
		messages:  make([]Message, 0),
	}
}

// NewConversationWithModel creates a new conversation with a specific model.
func NewConversationWithModel(modelID string) *Conversation {
	conv := NewConversation()
	conv.model = modelID
	return conv
}

// Restore rebuilds a conversation from persisted state. Unlike Append it
// does not touch timestamps or regenerate the title, so a loaded
// conversation round-trips exactly.
func Restore(id, title, modelID, systemPrompt string, createdAt, updatedAt time.Time, messages []Message) *Conversation {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return &Conversation{
		id:           id,
		title:        title,
		model:        modelID,
		systemPrompt: systemPrompt,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
		messages:     msgs,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the conversation.
func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
}

// AppendUser creates and appends a user message, returning its ID.
func (c *Conversation) AppendUser(content string) string {
	msg := NewUserMessage(content)
	c.Append(msg)
	return msg.ID
}

// AppendAssistant creates and appends a finalized assistant message,
// returning its ID. Only the turn orchestrator calls this, and only on
// terminal success.
func (c *Conversation) AppendAssistant(content string, stats *Statistics) string {
	msg := NewAssistantMessage(content, stats)
	c.Append(msg)
	return msg.ID
}

// RemoveMessage removes a message by ID. Used to compensate a failed turn
// by removing the placeholder the UI may have appended for streaming.
func (c *Conversation) RemoveMessage(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, msg := range c.messages {
		if msg.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			c.updatedAt = time.Now()
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the message log in chronological order.
// Appends after the snapshot do not alter the returned slice, so a request
// built from it is immune to mid-flight mutation.
func (c *Conversation) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// LastMessage returns the most recent message and true, or false if empty.
func (c *Conversation) LastMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Clear discards all messages and bumps the conversation epoch.
// An in-flight turn started before Clear observes the epoch change and
// reports itself cancelled instead of appending into the cleared history.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]Message, 0)
	c.title = ""
	c.epoch++
	c.updatedAt = time.Now()
}

// Epoch returns the current clear-epoch of the conversation.
func (c *Conversation) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return c.MessageCount() == 0
}

// appendLocked performs the append plus bookkeeping. Caller holds c.mu.
func (c *Conversation) appendLocked(msg Message) {
	c.messages = append(c.messages, msg)
	c.updatedAt = time.Now()
	c.updateTitleLocked()
	c.pruneLocked()
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the conversation ID.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// SetID overrides the generated ID. Used when loading a persisted
// conversation.
func (c *Conversation) SetID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Model returns the model identifier for this conversation.
func (c *Conversation) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel updates the model used for subsequent turns.
func (c *Conversation) SetModel(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = modelID
	c.updatedAt = time.Now()
}

// SystemPrompt returns the system prompt, or "".
func (c *Conversation) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt
}

// SetSystemPrompt sets the system prompt sent with every request.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

// CreatedAt returns the creation time.
func (c *Conversation) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// UpdatedAt returns the last modification time.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// =============================================================================
// TOKEN TRACKING
// =============================================================================

// EstimateTokens estimates the total token count of the conversation.
func (c *Conversation) EstimateTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	if c.systemPrompt != "" {
		total += (len(c.systemPrompt) + 3) / 4
	}
	for _, msg := range c.messages {
		total += msg.EstimateTokens()
		// Overhead for message structure (~4 tokens per message).
		total += 4
	}
	return total
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitleLocked auto-generates a title from the first user message if
// not set. Caller holds c.mu.
func (c *Conversation) updateTitleLocked() {
	if c.title != "" {
		return
	}
	for _, msg := range c.messages {
		if msg.Role == RoleUser {
			c.title = msg.Preview(50)
			return
		}
	}
}

// SetTitle manually sets the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
	c.updatedAt = time.Now()
}

// Title returns the conversation title or a default.
func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.title != "" {
		return c.title
	}
	return "New Conversation"
}

// =============================================================================
// METADATA
// =============================================================================

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// Meta returns metadata about the conversation.
func (c *Conversation) Meta() ConversationMeta {
	c.mu.Lock()
	defer c.mu.Unlock()

	preview := "Empty conversation"
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			preview = c.messages[i].Preview(100)
			break
		}
	}

	title := c.title
	if title == "" {
		title = "New Conversation"
	}

	return ConversationMeta{
		ID:           c.id,
		Title:        title,
		Model:        c.model,
		MessageCount: len(c.messages),
		CreatedAt:    c.createdAt,
		UpdatedAt:    c.updatedAt,
		Preview:      preview,
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}

// pruneLocked removes old messages when history exceeds MaxMessages,
// keeping the most recent ones. Caller holds c.mu.
func (c *Conversation) pruneLocked() {
	if len(c.messages) <= MaxMessages {
		return
	}
	start := len(c.messages) - MaxMessages
	c.messages = append(c.messages[:0:0], c.messages[start:]...)
}
