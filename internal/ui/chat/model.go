// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the interactive chat view.
//
// The view is a bubbletea program wired to the turn worker: key presses
// submit and cancel turns, worker notifications drive the streaming
// transcript, and a render coalescer keeps redraw cost flat no matter how
// fast deltas arrive.
package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/storage"
	"github.com/jeranaias/aichat-tui/internal/ui/components"
	"github.com/jeranaias/aichat-tui/internal/ui/styles"
	"github.com/jeranaias/aichat-tui/internal/worker"
)

// State describes what the view is doing.
type State int

const (
	// StateReady accepts input.
	StateReady State = iota

	// StateStreaming has a turn in flight.
	StateStreaming
)

// maxInputRunes bounds a single submission.
const maxInputRunes = 8000

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model for the chat view.
type Model struct {
	cfg    *config.Config
	theme  *styles.Theme
	client *openrouter.Client
	worker *worker.Worker
	conv   *model.Conversation
	store  *storage.Store // nil disables persistence commands

	// Components
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	keys     KeyMap
	md       *components.Markdown

	// Streaming state
	state         State
	activeTurnID  string
	streamContent string // last coalesced cumulative text
	coalescer     *Coalescer

	// Transient footer content
	errText string
	notice  string
	extra   string // one-off transcript tail (help text, model list)

	// Layout
	width  int
	height int
	ready  bool
}

// New creates the chat view. The store may be nil when persistence is
// disabled in configuration.
func New(cfg *config.Config, client *openrouter.Client, w *worker.Worker,
	conv *model.Conversation, store *storage.Store) Model {

	theme := styles.NewTheme()

	input := textinput.New()
	input.Placeholder = "Type a message, or /help for commands"
	input.CharLimit = maxInputRunes
	input.Prompt = theme.InputPrompt.Render("> ")
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = theme.Spinner

	return Model{
		cfg:       cfg,
		theme:     theme,
		client:    client,
		worker:    w,
		conv:      conv,
		store:     store,
		input:     input,
		spin:      spin,
		keys:      DefaultKeyMap(),
		md:        components.NewMarkdown(80, theme.IsDark),
		coalescer: NewCoalescer(),
		state:     StateReady,
	}
}

// Init starts the cursor blink and the notification pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForNote(m.worker.Notifications()),
	)
}
