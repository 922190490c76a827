// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the plain terminal front end.
//
// Used when stdout is not a TTY capable of running the full-screen UI, or
// when --plain is passed. Provides a readline-style REPL with history,
// incremental streaming output, and the same slash commands as the TUI.
//
// Interactive commands:
//   /help, /h           Show available commands
//   /clear              Clear conversation history
//   /new                Start a fresh conversation
//   /model [name]       Show or switch model
//   /models             List available models
//   /save               Save the conversation
//   /list               List saved conversations
//   /load ID            Load a saved conversation
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/storage"
	"github.com/jeranaias/aichat-tui/internal/turn"
	"github.com/jeranaias/aichat-tui/internal/ui/components"
	"github.com/jeranaias/aichat-tui/internal/ui/styles"
	"github.com/jeranaias/aichat-tui/internal/worker"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	statsStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader wraps liner with persistent history.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	r.loadHistory()
	return r
}

func (r *lineReader) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

// readInput reads one line, recording non-empty input in history.
func (r *lineReader) readInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *lineReader) saveHistory() {
	if err := config.EnsureDir(); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

func (r *lineReader) close() {
	r.saveHistory()
	r.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// Session holds the state of one plain-mode chat session.
type Session struct {
	cfg    *config.Config
	client *openrouter.Client
	worker *worker.Worker
	conv   *model.Conversation
	store  *storage.Store // nil disables persistence commands

	reader *lineReader
	width  int

	startTime time.Time
	turnsRun  int
	totalTTFT time.Duration
	totalToks int
}

// NewSession assembles a plain-mode session around an already wired
// worker. The store may be nil.
func NewSession(cfg *config.Config, client *openrouter.Client, w *worker.Worker,
	conv *model.Conversation, store *storage.Store) *Session {
	return &Session{
		cfg:       cfg,
		client:    client,
		worker:    w,
		conv:      conv,
		store:     store,
		reader:    newLineReader(),
		width:     80,
		startTime: time.Now(),
	}
}

// Run is the REPL loop. Returns when the user quits or input closes.
func (s *Session) Run() error {
	defer s.reader.close()

	s.printWelcome()

	// Ctrl+C cancels the in-flight turn instead of killing the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if !s.worker.Cancel() {
				fmt.Fprintln(os.Stderr, "\n"+infoStyle.Render("No generation in progress. /quit to exit."))
			}
		}
	}()

	for {
		input, err := s.reader.readInput(promptStyle.Render("> "))
		if errors.Is(err, liner.ErrPromptAborted) {
			continue // Ctrl+C at the prompt
		}
		if err != nil {
			fmt.Println()
			return nil // Ctrl+D / EOF
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := s.handleCommand(input); quit {
				s.printSummary()
				return nil
			}
			continue
		}

		s.runTurn(input)
	}
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// runTurn submits the input and streams the reply to stdout as it arrives.
// Progress notifications carry cumulative text, so only the unseen suffix
// is printed each time.
func (s *Session) runTurn(input string) {
	handle, err := s.worker.Submit(context.Background(), s.conv, input)
	if errors.Is(err, worker.ErrEmptyInput) {
		return
	}
	if err != nil {
		fmt.Println(errorStyle.Render(openrouter.Humanize(err)))
		return
	}

	var printed string
	for note := range s.worker.Notifications() {
		if note.TurnID != handle.ID() {
			continue
		}
		switch note.Kind {
		case worker.NoteProgress:
			fmt.Print(unseenSuffix(printed, note.Content))
			printed = note.Content

		case worker.NoteFinished:
			fmt.Println()
			s.finishTurn(note.Result)
			return
		}
	}
}

func (s *Session) finishTurn(result *turn.Result) {
	if result == nil {
		return
	}
	switch {
	case result.Status == turn.StatusCancelled:
		fmt.Println(warningStyle.Render("[Cancelled]"))
	case result.Status == turn.StatusFailed:
		fmt.Println(errorStyle.Render(openrouter.Humanize(result.Err)))
	case result.EmptyResponse:
		fmt.Println(warningStyle.Render("[Empty response]"))
	default:
		s.turnsRun++
		if result.Stats != nil {
			s.totalTTFT += result.Stats.TTFT
			s.totalToks += result.Stats.CompletionTokens
			fmt.Println(statsStyle.Render(result.Stats.Format()))
		}
		// Auto-save each completed exchange.
		if s.store != nil {
			if err := s.store.Save(s.conv); err != nil {
				fmt.Println(warningStyle.Render(fmt.Sprintf("[autosave failed: %v]", err)))
			}
		}
	}
	fmt.Println()
}

// unseenSuffix returns the part of cumulative not yet printed. Guards
// against a non-extending update, which would otherwise slice past the end.
func unseenSuffix(printed, cumulative string) string {
	if len(cumulative) <= len(printed) {
		return ""
	}
	return cumulative[len(printed):]
}

// =============================================================================
// WELCOME AND SUMMARY
// =============================================================================

func (s *Session) printWelcome() {
	fmt.Println(welcomeStyle.Render("aichat") + infoStyle.Render("  interactive chat"))
	modelID := s.conv.Model()
	if modelID == "" {
		modelID = s.cfg.Gateway.Model
	}
	fmt.Println(infoStyle.Render("model: ") + commandStyle.Render(modelID))
	fmt.Println(infoStyle.Render("/help for commands, Ctrl+C cancels, Ctrl+D exits"))
	fmt.Println()
}

func (s *Session) printSummary() {
	if s.turnsRun == 0 {
		return
	}
	elapsed := time.Since(s.startTime).Round(time.Second)
	fmt.Printf("%s %d turns, ~%d tokens, %s\n",
		infoStyle.Render("session:"), s.turnsRun, s.totalToks, elapsed)
}

// renderReply renders a finished reply with markdown code blocks
// highlighted. Used by /history; live streaming prints raw text.
func (s *Session) renderReply(content string) string {
	return components.RenderCodeBlocks(content, s.width)
}
