// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package worker runs turns off the caller's goroutine.
//
// The Worker is the concurrency boundary between an interactive front end
// and the streaming core: Submit appends the user message and starts the
// turn on a background goroutine, Cancel aborts it, and lifecycle
// notifications flow back over a single channel in emission order.
//
// Single-flight: one active turn at a time. Submit while a turn is active
// fails with ErrTurnActive rather than queueing, so two turns can never
// interleave their output.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/turn"
	"github.com/jeranaias/aichat-tui/internal/util"
)

// Submission errors.
var (
	// ErrTurnActive is returned by Submit while another turn is running.
	ErrTurnActive = errors.New("a turn is already active")

	// ErrEmptyInput is returned when the submitted text is empty after
	// sanitization.
	ErrEmptyInput = errors.New("empty input")
)

// notificationBuffer sizes the notification channel. Large enough that a
// briefly busy consumer never stalls the stream reader.
const notificationBuffer = 64

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// NotificationKind discriminates worker notifications.
type NotificationKind int

const (
	// NoteStarted signals the turn opened its connection.
	NoteStarted NotificationKind = iota

	// NoteProgress carries the cumulative accumulated text so far.
	NoteProgress

	// NoteFinished carries the terminal Result. Last notification of a turn.
	NoteFinished
)

// Notification is one lifecycle event delivered to the consumer.
// For a given turn, notifications arrive in emission order: Started,
// zero or more Progress with prefix-monotonic content, then Finished.
type Notification struct {
	Kind    NotificationKind
	TurnID  string
	Content string       // cumulative text, set for NoteProgress
	Result  *turn.Result // terminal outcome, set for NoteFinished
}

// =============================================================================
// HANDLE
// =============================================================================

// Handle identifies a submitted turn and exposes its cancellation and
// completion.
type Handle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result turn.Result
}

// ID returns the turn's unique identifier.
func (h *Handle) ID() string {
	return h.id
}

// Cancel aborts the turn. The underlying connection closes promptly and
// partial content is discarded. Safe to call more than once, and safe
// after completion.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed when the turn reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the terminal result. Valid only after Done is closed.
func (h *Handle) Result() turn.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *Handle) setResult(r turn.Result) {
	h.mu.Lock()
	h.result = r
	h.mu.Unlock()
}

// =============================================================================
// WORKER
// =============================================================================

// Worker hosts turn execution on a background goroutine.
type Worker struct {
	orch *turn.Orchestrator

	mu     sync.Mutex
	active *Handle

	notifications chan Notification
}

// New creates a worker around an orchestrator.
func New(orch *turn.Orchestrator) *Worker {
	return &Worker{
		orch:          orch,
		notifications: make(chan Notification, notificationBuffer),
	}
}

// Notifications returns the channel lifecycle events are delivered on.
// The consumer must drain it while turns run; the worker blocks on a full
// channel rather than dropping or reordering notifications.
func (w *Worker) Notifications() <-chan Notification {
	return w.notifications
}

// Active returns the handle of the running turn, or nil.
func (w *Worker) Active() *Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Submit sanitizes and appends the user message, then starts a turn in
// the background. It returns immediately with a handle; progress and the
// terminal result arrive on Notifications.
//
// The user message is appended synchronously, before Submit returns, so
// the caller's view of the conversation already includes it. It stays in
// the conversation even if the turn later fails; only assistant output is
// subject to the compensating-failure rule.
func (w *Worker) Submit(ctx context.Context, conv *model.Conversation, input string) (*Handle, error) {
	input = util.SanitizeInput(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	w.mu.Lock()
	if w.active != nil {
		w.mu.Unlock()
		return nil, ErrTurnActive
	}

	turnCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.active = h
	w.mu.Unlock()

	conv.AppendUser(input)

	go func() {
		defer cancel()
		result := w.orch.Run(turnCtx, conv, h.id, (*events)(w))
		h.setResult(result)

		w.mu.Lock()
		if w.active == h {
			w.active = nil
		}
		w.mu.Unlock()

		close(h.done)
	}()

	return h, nil
}

// Cancel aborts the active turn, if any. Reports whether there was one.
func (w *Worker) Cancel() bool {
	w.mu.Lock()
	h := w.active
	w.mu.Unlock()
	if h == nil {
		return false
	}
	h.Cancel()
	return true
}

// =============================================================================
// EVENT FORWARDING
// =============================================================================

// events adapts the Worker to turn.Events, forwarding each callback as a
// channel notification. Defined as a separate type so the forwarding
// methods do not pollute the Worker's public API.
type events Worker

func (e *events) TurnStarted(turnID string) {
	e.notifications <- Notification{Kind: NoteStarted, TurnID: turnID}
}

func (e *events) TurnProgress(turnID, content string) {
	e.notifications <- Notification{Kind: NoteProgress, TurnID: turnID, Content: content}
}

func (e *events) TurnFinished(turnID string, result turn.Result) {
	e.notifications <- Notification{Kind: NoteFinished, TurnID: turnID, Result: &result}
}
