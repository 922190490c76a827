// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/turn"
	"github.com/jeranaias/aichat-tui/internal/worker"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case noteMsg:
		return m.handleNote(worker.Notification(msg))

	case StreamTickMsg:
		return m.handleStreamTick()

	case spinner.TickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case savedMsg:
		if msg.err != nil {
			m.errText = fmt.Sprintf("Save failed: %v", msg.err)
		} else {
			m.notice = fmt.Sprintf("Saved conversation %s", msg.id)
		}
		return m, nil

	case modelsMsg:
		return m.handleModels(msg), nil

	case ConfigReloadedMsg:
		return m.handleConfigReload(msg.Config), nil

	case ConfigErrorMsg:
		m.errText = fmt.Sprintf("Config reload failed: %v", msg.Err)
		return m, nil
	}

	return m.updateComponents(msg)
}

// updateComponents forwards unhandled messages to the focused components.
func (m Model) updateComponents(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// =============================================================================
// RESIZE
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	// Header, footer area (input box + status bar) and a spinner line.
	viewportHeight := msg.Height - chromeHeight
	if viewportHeight < 3 {
		viewportHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(msg.Width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	m.input.Width = msg.Width - 6
	m.md.Resize(msg.Width - 4)
	m.refreshTranscript()
	return m
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.worker.Cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.worker.Cancel() {
			m.notice = "Cancelling..."
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.handleSubmit()

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	return m.updateComponents(msg)
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	m.errText = ""
	m.notice = ""

	if strings.HasPrefix(value, "/") {
		m.input.Reset()
		return m.handleCommand(value)
	}

	_, err := m.worker.Submit(context.Background(), m.conv, value)
	switch {
	case errors.Is(err, worker.ErrTurnActive):
		m.errText = "A response is already streaming. Press esc to cancel it first."
		return m, nil
	case errors.Is(err, worker.ErrEmptyInput):
		m.input.Reset()
		return m, nil
	case err != nil:
		m.errText = openrouter.Humanize(err)
		return m, nil
	}

	m.input.Reset()
	// The user message was appended synchronously; show it now rather
	// than waiting for the turn to open its connection.
	m.refreshTranscript()
	return m, nil
}

// =============================================================================
// STREAM LIFECYCLE
// =============================================================================

func (m Model) handleNote(n worker.Notification) (tea.Model, tea.Cmd) {
	// Always re-arm the pump; notifications stop only at shutdown.
	rearm := waitForNote(m.worker.Notifications())

	switch n.Kind {
	case worker.NoteStarted:
		m.state = StateStreaming
		m.activeTurnID = n.TurnID
		m.streamContent = ""
		m.coalescer.Reset()
		return m, tea.Batch(rearm, m.spin.Tick, streamTickCmd())

	case worker.NoteProgress:
		if n.TurnID == m.activeTurnID {
			m.coalescer.Set(n.Content)
		}
		return m, rearm

	case worker.NoteFinished:
		if n.TurnID != m.activeTurnID || n.Result == nil {
			return m, rearm
		}
		var save tea.Cmd
		m, save = m.finalizeTurn(*n.Result)
		return m, tea.Batch(rearm, save)
	}

	return m, rearm
}

func (m Model) handleStreamTick() (tea.Model, tea.Cmd) {
	if m.state != StateStreaming {
		return m, nil
	}
	if content, ok := m.coalescer.Take(); ok {
		m.streamContent = content
		m.refreshTranscript()
	}
	return m, streamTickCmd()
}

// finalizeTurn folds the terminal result back into the view. On a
// successful turn it returns a command that auto-saves the conversation.
func (m Model) finalizeTurn(result turn.Result) (Model, tea.Cmd) {
	m.state = StateReady
	m.activeTurnID = ""
	m.streamContent = ""
	m.coalescer.Reset()

	var save tea.Cmd
	switch result.Status {
	case turn.StatusCompleted:
		if result.EmptyResponse {
			m.notice = "The model returned an empty response."
		} else {
			save = m.autoSaveCmd()
		}
	case turn.StatusCancelled:
		m.notice = "Generation cancelled."
	case turn.StatusFailed:
		m.errText = openrouter.Humanize(result.Err)
	}

	// The conversation already holds the final state: assistant message
	// on success, nothing new on failure or cancellation.
	m.refreshTranscript()
	return m, save
}

// autoSaveCmd persists the conversation after each completed turn, so a
// crash or quit never loses a finished exchange. Nil when persistence is
// off.
func (m Model) autoSaveCmd() tea.Cmd {
	if m.store == nil {
		return nil
	}
	conv, store := m.conv, m.store
	return func() tea.Msg {
		if err := store.Save(conv); err != nil {
			return savedMsg{id: conv.ID(), err: err}
		}
		// Quiet on success; a notice per turn would be noise.
		return nil
	}
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

// handleConfigReload applies a live config edit. Display options and the
// default system prompt take effect immediately; gateway settings
// (key, base URL) apply on the next restart since the client is built at
// startup.
func (m Model) handleConfigReload(cfg *config.Config) Model {
	m.cfg = cfg
	if m.conv.IsEmpty() {
		m.conv.SetSystemPrompt(cfg.Chat.SystemPrompt)
		m.conv.SetModel(cfg.Gateway.Model)
	}
	m.notice = "Configuration reloaded."
	m.refreshTranscript()
	return m
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

func (m Model) handleModels(msg modelsMsg) Model {
	if msg.err != nil {
		m.errText = openrouter.Humanize(msg.err)
		return m
	}
	m.notice = fmt.Sprintf("%d models available; /model <id> to switch", len(msg.models))
	m.setTranscriptExtra(renderModelList(msg.models, m.theme))
	return m
}
