// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/worker"
)

// =============================================================================
// MESSAGES
// =============================================================================

// StreamTickMsg paces transcript redraws while streaming.
type StreamTickMsg time.Time

// noteMsg wraps a worker lifecycle notification.
type noteMsg worker.Notification

// savedMsg reports the outcome of a background save.
type savedMsg struct {
	id  string
	err error
}

// modelsMsg carries the catalog fetched for the /models command.
type modelsMsg struct {
	models []openrouter.ModelInfo
	err    error
}

// ConfigReloadedMsg arrives when the watched config file changes and
// revalidates. Exported so the entrypoint can send it from outside the
// program loop.
type ConfigReloadedMsg struct {
	Config *config.Config
}

// ConfigErrorMsg reports a config file edit that failed validation.
type ConfigErrorMsg struct {
	Err error
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForNote blocks on the worker's notification channel and converts
// the next event into a message. Re-issued after every delivery so the
// channel is drained for as long as the program runs.
func waitForNote(ch <-chan worker.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noteMsg(n)
	}
}

// fetchModelsCmd lists available models off the update loop.
func fetchModelsCmd(client *openrouter.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		models, err := client.ListModels(ctx)
		return modelsMsg{models: models, err: err}
	}
}
