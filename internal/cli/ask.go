// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - one-shot query mode.
//
// Invoked as `aichat "question"`. Sends a single non-streaming completion
// and prints the rendered answer. Suited for scripting and pipelines,
// where a REPL or full-screen UI is unwanted.

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/ui/components"
)

// Ask sends one question and prints the answer. The system prompt from
// the configuration applies. Markdown code blocks are highlighted only
// when stdout is a terminal, so piped output stays clean.
func Ask(cfg *config.Config, client *openrouter.Client, question string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Chat.TurnTimeout())
	defer cancel()

	messages := make([]openrouter.ChatMessage, 0, 2)
	if cfg.Chat.SystemPrompt != "" {
		messages = append(messages, openrouter.ChatMessage{
			Role: "system", Content: cfg.Chat.SystemPrompt,
		})
	}
	messages = append(messages, openrouter.ChatMessage{
		Role: "user", Content: question,
	})

	start := time.Now()
	resp, err := client.Chat(ctx, messages)
	if err != nil {
		return fmt.Errorf("%s", openrouter.Humanize(err))
	}

	content := resp.Content()
	if content == "" {
		fmt.Fprintln(os.Stderr, warningStyle.Render("[Empty response]"))
		return nil
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(components.RenderCodeBlocks(content, 100))
		fmt.Println(statsStyle.Render(fmt.Sprintf("%.1fs | %d tokens",
			time.Since(start).Seconds(), resp.Usage.CompletionTokens)))
	} else {
		fmt.Println(content)
	}
	return nil
}
