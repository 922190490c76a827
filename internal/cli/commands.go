// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

// handleCommand dispatches a slash command. Returns true when the session
// should end.
func (s *Session) handleCommand(input string) bool {
	name, arg := parseCommand(input)

	switch name {
	case "help", "h":
		s.printHelp()

	case "clear":
		s.conv.Clear()
		fmt.Println(infoStyle.Render("Conversation cleared."))

	case "new":
		s.worker.Cancel()
		conv := model.NewConversationWithModel(s.conv.Model())
		conv.SetSystemPrompt(s.conv.SystemPrompt())
		s.conv = conv
		fmt.Println(infoStyle.Render("Started a new conversation."))

	case "model":
		if arg == "" {
			current := s.conv.Model()
			if current == "" {
				current = s.cfg.Gateway.Model
			}
			fmt.Println(infoStyle.Render("Current model: ") + commandStyle.Render(current))
			break
		}
		resolved := openrouter.ResolveModel(arg)
		s.conv.SetModel(resolved)
		fmt.Println(infoStyle.Render("Model set to ") + commandStyle.Render(resolved))

	case "models":
		s.listModels()

	case "history":
		s.printHistory()

	case "save":
		if s.store == nil {
			fmt.Println(errorStyle.Render("Persistence is disabled in the configuration."))
			break
		}
		if err := s.store.Save(s.conv); err != nil {
			fmt.Println(errorStyle.Render(fmt.Sprintf("Save failed: %v", err)))
			break
		}
		fmt.Println(infoStyle.Render("Saved ") + commandStyle.Render(s.conv.ID()))

	case "list":
		s.listConversations()

	case "load":
		s.loadConversation(arg)

	case "quit", "exit", "q":
		return true

	default:
		fmt.Println(errorStyle.Render(fmt.Sprintf("Unknown command /%s. Try /help.", name)))
	}
	return false
}

func (s *Session) printHelp() {
	help := [][2]string{
		{"/help", "show this help"},
		{"/new", "start a fresh conversation"},
		{"/clear", "clear conversation history"},
		{"/model [id]", "show or switch model"},
		{"/models", "list available models"},
		{"/history", "show the conversation so far"},
		{"/save", "save the conversation"},
		{"/list", "list saved conversations"},
		{"/load ID", "load a saved conversation"},
		{"/quit", "exit"},
	}
	for _, h := range help {
		fmt.Printf("  %-14s %s\n", commandStyle.Render(h[0]), infoStyle.Render(h[1]))
	}
}

func (s *Session) listModels() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := s.client.ListModels(ctx)
	if err != nil {
		fmt.Println(errorStyle.Render(openrouter.Humanize(err)))
		return
	}
	for _, mi := range models {
		line := "  " + commandStyle.Render(mi.ID)
		if mi.ContextSize > 0 {
			line += infoStyle.Render(fmt.Sprintf("  (%dk context)", mi.ContextSize/1000))
		}
		fmt.Println(line)
	}
	fmt.Println(infoStyle.Render(fmt.Sprintf("%d models. /model <id> to switch.", len(models))))
}

func (s *Session) printHistory() {
	snap := s.conv.Snapshot()
	if len(snap) == 0 {
		fmt.Println(infoStyle.Render("No messages yet."))
		return
	}
	for _, msg := range snap {
		switch msg.Role {
		case model.RoleUser:
			fmt.Println(promptStyle.Render("You: ") + msg.Content)
		case model.RoleAssistant:
			fmt.Println(welcomeStyle.Render("Assistant:"))
			fmt.Println(s.renderReply(msg.Content))
		default:
			fmt.Println(infoStyle.Render("[system] " + msg.Content))
		}
		fmt.Println()
	}
}

func (s *Session) listConversations() {
	if s.store == nil {
		fmt.Println(errorStyle.Render("Persistence is disabled in the configuration."))
		return
	}
	metas, err := s.store.List()
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Listing failed: %v", err)))
		return
	}
	if len(metas) == 0 {
		fmt.Println(infoStyle.Render("No saved conversations."))
		return
	}
	for _, meta := range metas {
		fmt.Printf("  %s  %s %s\n",
			commandStyle.Render(meta.ID),
			meta.Title,
			infoStyle.Render(fmt.Sprintf("(%d messages, %s)",
				meta.MessageCount, meta.UpdatedAt.Format("Jan 2 15:04"))))
	}
}

func (s *Session) loadConversation(id string) {
	if s.store == nil {
		fmt.Println(errorStyle.Render("Persistence is disabled in the configuration."))
		return
	}
	if id == "" {
		fmt.Println(errorStyle.Render("Usage: /load <conversation-id>"))
		return
	}
	loaded, err := s.store.Load(id)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Println(errorStyle.Render(fmt.Sprintf("No conversation %s.", id)))
		return
	}
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Load failed: %v", err)))
		return
	}
	s.conv = loaded
	fmt.Println(infoStyle.Render(fmt.Sprintf("Loaded %q (%d messages).",
		loaded.Title(), loaded.MessageCount())))
}
