// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of filesystem events an editor save
// produces into a single reload.
const debounceDelay = 200 * time.Millisecond

// Watcher watches a config file and delivers reloaded configurations.
//
// The parent directory is watched rather than the file itself because
// most editors replace the file on save, which would otherwise drop the
// watch. Reloads that fail validation are reported on Errors and the
// previous configuration stays in effect.
type Watcher struct {
	fw      *fsnotify.Watcher
	path    string
	updates chan *Config
	errs    chan error
	done    chan struct{}
}

// Watch starts watching the config file at path.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		fw:      fw,
		path:    path,
		updates: make(chan *Config, 1),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Updates delivers each successfully reloaded configuration.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Errors delivers reload failures. The watcher keeps running after one.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				debounce.Reset(debounceDelay)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			cfg, err := LoadFromPath(w.path)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			// Drop a stale pending update in favor of the newest one.
			select {
			case <-w.updates:
			default:
			}
			w.updates <- cfg

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}
