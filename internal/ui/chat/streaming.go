// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// RENDER COALESCER
// =============================================================================

// Coalescer decouples stream progress from rendering. Progress
// notifications carry the full cumulative text, so the newest one
// supersedes everything before it: the coalescer keeps only the latest
// value and releases it at most maxFPS times per second. A fast stream
// costs one redraw per frame instead of one per delta.
type Coalescer struct {
	mu        sync.Mutex
	latest    string
	taken     string
	lastFlush time.Time
	maxFPS    int
}

// DefaultMaxFPS caps transcript redraws during streaming.
const DefaultMaxFPS = 30

// NewCoalescer creates a coalescer with the default frame cap.
func NewCoalescer() *Coalescer {
	return &Coalescer{maxFPS: DefaultMaxFPS}
}

// Set records the newest cumulative content. Earlier values are
// superseded, never queued.
func (c *Coalescer) Set(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = content
}

// Take returns the latest content if it changed since the last take and
// the frame window has elapsed. The bool reports whether a redraw is due.
func (c *Coalescer) Take() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latest == c.taken {
		return "", false
	}
	minInterval := time.Second / time.Duration(c.maxFPS)
	if time.Since(c.lastFlush) < minInterval {
		return "", false
	}
	return c.takeLocked(), true
}

// ForceTake returns pending content regardless of the frame window.
// Called at stream end so the final text is never held back.
func (c *Coalescer) ForceTake() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latest == c.taken {
		return "", false
	}
	return c.takeLocked(), true
}

// takeLocked marks the latest value delivered. Caller holds c.mu.
func (c *Coalescer) takeLocked() string {
	c.taken = c.latest
	c.lastFlush = time.Now()
	return c.latest
}

// Pending reports whether content newer than the last take exists.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest != c.taken
}

// Reset clears all state for a new turn.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = ""
	c.taken = ""
	c.lastFlush = time.Time{}
}

// SetMaxFPS adjusts the frame cap. Values below 1 are clamped.
func (c *Coalescer) SetMaxFPS(fps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fps < 1 {
		fps = 1
	}
	c.maxFPS = fps
}

// =============================================================================
// STREAM TICK
// =============================================================================

// streamTickCmd drives redraws while a turn streams. Ticks at the frame
// cap; each tick takes at most one coalesced update.
func streamTickCmd() tea.Cmd {
	return tea.Tick(time.Second/DefaultMaxFPS, func(t time.Time) tea.Msg {
		return StreamTickMsg(t)
	})
}
