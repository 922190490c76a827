// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/ui/styles"
)

// chromeHeight is the vertical space used around the transcript viewport:
// header, activity line, bordered input, status bar.
const chromeHeight = 6

// streamCursor marks the live end of streaming output.
const streamCursor = "▌"

// =============================================================================
// VIEW
// =============================================================================

// View renders the whole chat screen.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderActivity())
	b.WriteString("\n")
	b.WriteString(m.theme.InputContainer.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render(m.conv.Title())
	modelID := m.conv.Model()
	if modelID == "" {
		modelID = m.cfg.Gateway.Model
	}
	right := m.theme.HeaderModel.Render(modelID)

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(title + strings.Repeat(" ", gap) + right)
}

// renderActivity shows the spinner while streaming, otherwise the latest
// error or notice.
func (m Model) renderActivity() string {
	switch {
	case m.state == StateStreaming:
		return " " + m.spin.View() + m.theme.ThinkingText.Render(" Thinking... (esc to cancel)")
	case m.errText != "":
		return " " + m.theme.ErrorText.Render(m.errText)
	case m.notice != "":
		return " " + m.theme.WarningText.Render(m.notice)
	default:
		return ""
	}
}

func (m Model) renderStatusBar() string {
	help := fmt.Sprintf("%s %s  %s %s  %s %s",
		m.theme.StatusKey.Render("enter"), m.theme.StatusDesc.Render("send"),
		m.theme.StatusKey.Render("esc"), m.theme.StatusDesc.Render("cancel"),
		m.theme.StatusKey.Render("ctrl+c"), m.theme.StatusDesc.Render("quit"))

	tokens := m.theme.StatusDesc.Render(fmt.Sprintf("~%d tokens", m.conv.EstimateTokens()))

	gap := m.width - lipgloss.Width(help) - lipgloss.Width(tokens) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.StatusBar.Width(m.width).Render(help + strings.Repeat(" ", gap) + tokens)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// refreshTranscript rebuilds the viewport content from the conversation
// plus any in-flight streaming text, and pins the view to the bottom.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}

	var parts []string
	for _, msg := range m.conv.Snapshot() {
		parts = append(parts, m.renderMessage(msg))
	}

	if m.state == StateStreaming && m.streamContent != "" {
		parts = append(parts,
			m.theme.AssistantLabel.Render("Assistant")+"\n"+
				m.theme.AssistantText.Render(m.md.Render(m.streamContent)+streamCursor))
	}

	if m.extra != "" {
		parts = append(parts, m.extra)
	}

	m.viewport.SetContent(strings.Join(parts, "\n\n"))
	m.viewport.GotoBottom()
}

// setTranscriptExtra appends one-off content (help, model list) below the
// conversation. Cleared on the next refresh with empty extra.
func (m *Model) setTranscriptExtra(content string) {
	m.extra = content
	m.refreshTranscript()
	m.extra = ""
}

func (m Model) renderMessage(msg model.Message) string {
	switch msg.Role {
	case model.RoleUser:
		return m.theme.UserLabel.Render("You") + "\n" +
			m.theme.UserText.Render(msg.Content)

	case model.RoleAssistant:
		out := m.theme.AssistantLabel.Render("Assistant") + "\n" +
			m.theme.AssistantText.Render(m.md.Render(msg.Content))
		if m.cfg.UI.ShowStats && msg.TokenCount > 0 {
			out += "\n" + m.theme.StatsLine.Render(msg.FormatStats())
		}
		return out

	default:
		return m.theme.SystemText.Render(msg.Content)
	}
}

// renderModelList formats the model catalog for the transcript.
func renderModelList(models []openrouter.ModelInfo, theme *styles.Theme) string {
	var b strings.Builder
	b.WriteString(theme.SystemText.Render("Available models:"))
	for _, mi := range models {
		b.WriteString("\n  ")
		b.WriteString(theme.StatusKey.Render(mi.ID))
		if mi.ContextSize > 0 {
			b.WriteString(theme.StatusDesc.Render(fmt.Sprintf("  (%dk context)", mi.ContextSize/1000)))
		}
	}
	return b.String()
}
