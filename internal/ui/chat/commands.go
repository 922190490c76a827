// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/storage"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// parseCommand splits "/model foo bar" into ("model", "foo bar").
func parseCommand(input string) (name, arg string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, arg, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// handleCommand dispatches a slash command typed into the input.
func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	name, arg := parseCommand(input)

	switch name {
	case "help", "h":
		m.setTranscriptExtra(m.theme.SystemText.Render(helpText))
		return m, nil

	case "clear":
		// Clearing mid-turn is allowed: the in-flight turn observes the
		// epoch change and finishes as cancelled without appending.
		m.conv.Clear()
		m.notice = "Conversation cleared."
		m.refreshTranscript()
		return m, nil

	case "new":
		if m.state == StateStreaming {
			m.worker.Cancel()
		}
		m.conv = newConversationLike(m.conv, m.cfg)
		m.notice = "Started a new conversation."
		m.refreshTranscript()
		return m, nil

	case "model":
		if arg == "" {
			m.errText = "Usage: /model <model-id>"
			return m, nil
		}
		resolved := openrouter.ResolveModel(arg)
		m.conv.SetModel(resolved)
		m.notice = fmt.Sprintf("Model set to %s", resolved)
		return m, nil

	case "models":
		m.notice = "Fetching model list..."
		return m, fetchModelsCmd(m.client)

	case "save":
		if m.store == nil {
			m.errText = "Persistence is disabled in the configuration."
			return m, nil
		}
		conv, store := m.conv, m.store
		return m, func() tea.Msg {
			return savedMsg{id: conv.ID(), err: store.Save(conv)}
		}

	case "list":
		return m.commandList()

	case "load":
		return m.commandLoad(arg)

	case "stats":
		m.cfg.UI.ShowStats = !m.cfg.UI.ShowStats
		m.notice = fmt.Sprintf("Per-message statistics %s.", onOff(m.cfg.UI.ShowStats))
		m.refreshTranscript()
		return m, nil

	case "quit", "exit", "q":
		m.worker.Cancel()
		return m, tea.Quit

	default:
		m.errText = fmt.Sprintf("Unknown command /%s. Try /help.", name)
		return m, nil
	}
}

func (m Model) commandList() (tea.Model, tea.Cmd) {
	if m.store == nil {
		m.errText = "Persistence is disabled in the configuration."
		return m, nil
	}
	metas, err := m.store.List()
	if err != nil {
		m.errText = fmt.Sprintf("Listing failed: %v", err)
		return m, nil
	}
	if len(metas) == 0 {
		m.notice = "No saved conversations."
		return m, nil
	}

	var b strings.Builder
	b.WriteString(m.theme.SystemText.Render("Saved conversations:"))
	for _, meta := range metas {
		b.WriteString(fmt.Sprintf("\n  %s  %s (%d messages, %s)",
			m.theme.StatusKey.Render(meta.ID),
			meta.Title, meta.MessageCount,
			meta.UpdatedAt.Format("Jan 2 15:04")))
	}
	m.setTranscriptExtra(b.String())
	return m, nil
}

func (m Model) commandLoad(id string) (tea.Model, tea.Cmd) {
	if m.store == nil {
		m.errText = "Persistence is disabled in the configuration."
		return m, nil
	}
	if id == "" {
		m.errText = "Usage: /load <conversation-id>"
		return m, nil
	}
	if m.state == StateStreaming {
		m.errText = "Cannot load while a response is streaming."
		return m, nil
	}

	loaded, err := m.store.Load(id)
	if errors.Is(err, storage.ErrNotFound) {
		m.errText = fmt.Sprintf("No conversation %s.", id)
		return m, nil
	}
	if err != nil {
		m.errText = fmt.Sprintf("Load failed: %v", err)
		return m, nil
	}

	m.conv = loaded
	m.notice = fmt.Sprintf("Loaded %q.", loaded.Title())
	m.refreshTranscript()
	return m, nil
}

// newConversationLike starts a fresh conversation carrying over the model
// and system prompt of the current one.
func newConversationLike(old *model.Conversation, cfg *config.Config) *model.Conversation {
	conv := model.NewConversationWithModel(old.Model())
	prompt := old.SystemPrompt()
	if prompt == "" {
		prompt = cfg.Chat.SystemPrompt
	}
	conv.SetSystemPrompt(prompt)
	return conv
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

const helpText = `Commands:
  /help           show this help
  /new            start a fresh conversation
  /clear          clear the conversation (cancels any in-flight turn)
  /model <id>     switch model (aliases like gpt-4o, claude, llama work)
  /models         list available models
  /save           save the conversation
  /list           list saved conversations
  /load <id>      load a saved conversation
  /stats          toggle per-message statistics
  /quit           exit`
