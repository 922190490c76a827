// aichat - a streaming terminal chat client for OpenRouter.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/jeranaias/aichat-tui/internal/cli"
	"github.com/jeranaias/aichat-tui/internal/config"
	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/storage"
	"github.com/jeranaias/aichat-tui/internal/turn"
	"github.com/jeranaias/aichat-tui/internal/ui/chat"
	"github.com/jeranaias/aichat-tui/internal/worker"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		plain       = flag.Bool("plain", false, "use the line-mode interface even on a TTY")
		modelFlag   = flag.String("model", "", "model ID or alias (overrides config)")
		configPath  = flag.String("config", "", "path to a config file (TOML or JSON)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("aichat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *modelFlag, *plain); err != nil {
		fmt.Fprintln(os.Stderr, "aichat: "+err.Error())
		os.Exit(1)
	}
}

func run(configPath, modelOverride string, plain bool) error {
	cfg, watchPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if modelOverride != "" {
		cfg.Gateway.Model = openrouter.ResolveModel(modelOverride)
	}

	client := openrouter.NewClient(cfg.Gateway.APIKey).
		WithBaseURL(cfg.Gateway.BaseURL).
		WithModel(cfg.Gateway.Model).
		WithTimeout(cfg.Gateway.Timeout()).
		WithSite(cfg.Gateway.SiteURL, cfg.Gateway.SiteName)

	if !client.IsConfigured() {
		fmt.Fprintln(os.Stderr,
			"warning: no API key configured; set OPENROUTER_API_KEY or gateway.api_key")
	}

	// One-shot mode: `aichat "question"` prints a single answer and exits.
	if question := strings.Join(flag.Args(), " "); strings.TrimSpace(question) != "" {
		return cli.Ask(cfg, client, question)
	}

	orch := turn.New(client).
		WithWindowSize(cfg.Chat.WindowSize).
		WithTimeout(cfg.Chat.TurnTimeout()).
		WithSampling(cfg.Chat.Temperature, cfg.Chat.MaxTokens)
	w := worker.New(orch)

	conv := model.NewConversationWithModel(cfg.Gateway.Model)
	conv.SetSystemPrompt(cfg.Chat.SystemPrompt)

	// Chat still works without persistence; failures here only warn.
	var store *storage.Store
	if cfg.Storage.Enabled {
		dbPath, perr := cfg.StoragePath()
		if perr == nil {
			store, perr = storage.Open(dbPath)
		}
		if perr != nil {
			fmt.Fprintf(os.Stderr, "warning: persistence disabled: %v\n", perr)
			store = nil
		} else {
			defer store.Close()
			if _, err := store.Prune(cfg.Storage.MaxConversations); err != nil {
				fmt.Fprintf(os.Stderr, "warning: prune failed: %v\n", err)
			}
		}
	}

	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return cli.NewSession(cfg, client, w, conv, store).Run()
	}

	program := tea.NewProgram(
		chat.New(cfg, client, w, conv, store),
		tea.WithAltScreen(),
	)

	// Config edits land in the running UI without a restart.
	if watchPath != "" {
		if watcher, werr := config.Watch(watchPath); werr == nil {
			defer watcher.Close()
			go forwardConfigUpdates(watcher, program)
		}
	}

	_, err = program.Run()
	return err
}

// forwardConfigUpdates pumps watcher events into the bubbletea program.
func forwardConfigUpdates(watcher *config.Watcher, program *tea.Program) {
	for {
		select {
		case cfg, ok := <-watcher.Updates():
			if !ok {
				return
			}
			program.Send(chat.ConfigReloadedMsg{Config: cfg})
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			program.Send(chat.ConfigErrorMsg{Err: err})
		}
	}
}

// loadConfig resolves the effective configuration and the path to watch
// for live reloads ("" when no file exists yet).
func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.LoadFromPath(explicit)
		if err != nil {
			return nil, "", err
		}
		return cfg, explicit, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}

	watchPath := ""
	if tomlPath, perr := config.PathTOML(); perr == nil {
		if _, serr := os.Stat(tomlPath); serr == nil {
			watchPath = tomlPath
		}
	}
	return cfg, watchPath, nil
}
