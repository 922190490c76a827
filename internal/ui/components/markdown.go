// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERER
// =============================================================================

// Markdown renders assistant output as terminal markdown. The renderer is
// rebuilt on width changes; glamour wraps at render time.
type Markdown struct {
	renderer *glamour.TermRenderer
	width    int
	dark     bool
}

// NewMarkdown creates a markdown renderer for the given wrap width.
func NewMarkdown(width int, dark bool) *Markdown {
	m := &Markdown{dark: dark}
	m.Resize(width)
	return m
}

// Resize rebuilds the renderer for a new wrap width.
func (m *Markdown) Resize(width int) {
	if width < 20 {
		width = 20
	}
	if m.renderer != nil && m.width == width {
		return
	}
	m.width = width

	style := glamour.WithStandardStyle("light")
	if m.dark {
		style = glamour.WithStandardStyle("dark")
	}

	r, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		// Keep the previous renderer; Render falls back to raw text when
		// none was ever built.
		return
	}
	m.renderer = r
}

// Render converts markdown to styled terminal output. On any failure the
// raw text comes back, so a rendering bug never hides model output.
func (m *Markdown) Render(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	// Glamour pads with blank lines top and bottom; the transcript adds
	// its own spacing.
	return strings.Trim(out, "\n")
}
