// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
)

// DefaultTurnTimeout bounds a whole turn, connection open through last
// frame. Exceeding it fails the turn the same way a transport timeout does.
const DefaultTurnTimeout = 120 * time.Second

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle state of a turn.
type Status int

const (
	// StatusPending means the turn has been created but no connection opened.
	StatusPending Status = iota

	// StatusStreaming means frames are being consumed.
	StatusStreaming

	// StatusCompleted means the turn finished and its content (if any) was
	// appended to the conversation.
	StatusCompleted

	// StatusFailed means a transport or decode-source error aborted the turn.
	StatusFailed

	// StatusCancelled means the turn was cancelled; partial content discarded.
	StatusCancelled
)

// String returns a readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// =============================================================================
// RESULT AND EVENTS
// =============================================================================

// Result is the terminal outcome of a turn.
type Result struct {
	TurnID  string
	Status  Status
	Content string // final accumulated text; empty for failed/cancelled turns

	// MessageID is the ID of the assistant message appended to the
	// conversation, set only on non-empty completion.
	MessageID string

	// Stats carries timing and token metrics, set on completion.
	Stats *model.Statistics

	// Err is the classified error for failed turns.
	Err error

	// EmptyResponse marks a degenerate success: the stream terminated with
	// zero accumulated content. Non-fatal, surfaced as a warning.
	EmptyResponse bool

	// MalformedFrames counts frames skipped during decoding.
	MalformedFrames int
}

// Events receives turn lifecycle notifications. Calls for one turn arrive
// in order from a single goroutine: Started once, Progress zero or more
// times with cumulative text, Finished exactly once.
type Events interface {
	TurnStarted(turnID string)
	TurnProgress(turnID string, content string)
	TurnFinished(turnID string, result Result)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) TurnStarted(string)          {}
func (NopEvents) TurnProgress(string, string) {}
func (NopEvents) TurnFinished(string, Result) {}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Streamer opens a streaming chat completion. Satisfied by
// *openrouter.Client; tests substitute fakes.
type Streamer interface {
	OpenStream(ctx context.Context, req openrouter.ChatRequest) (io.ReadCloser, error)
}

// Orchestrator runs turns against a conversation. Safe to reuse across
// turns; it holds only configuration, no per-turn state.
type Orchestrator struct {
	client      Streamer
	windowSize  int
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

// New creates an orchestrator with default window, timeout, and sampling.
func New(client Streamer) *Orchestrator {
	return &Orchestrator{
		client:      client,
		windowSize:  DefaultWindowSize,
		timeout:     DefaultTurnTimeout,
		temperature: openrouter.DefaultTemperature,
		maxTokens:   openrouter.DefaultMaxTokens,
	}
}

// WithWindowSize sets how many recent messages the request window keeps.
func (o *Orchestrator) WithWindowSize(n int) *Orchestrator {
	if n > 0 {
		o.windowSize = n
	}
	return o
}

// WithTimeout sets the whole-turn deadline.
func (o *Orchestrator) WithTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.timeout = d
	}
	return o
}

// WithSampling sets the sampling parameters sent with each request.
func (o *Orchestrator) WithSampling(temperature float64, maxTokens int) *Orchestrator {
	o.temperature = temperature
	o.maxTokens = maxTokens
	return o
}

// Run executes one turn to completion and returns its terminal result.
//
// It snapshots the conversation, builds the bounded request window, streams
// the completion, and on success appends the assistant message. The caller
// appends the user message before Run; Run never touches the conversation
// on failure or cancellation, so both are fully compensating.
//
// Run blocks; callers wanting it off their context wrap it in a worker.
// Cancellation is the ctx: cancelling closes the connection promptly and
// discards partial content.
func (o *Orchestrator) Run(ctx context.Context, conv *model.Conversation, turnID string, events Events) Result {
	if events == nil {
		events = NopEvents{}
	}

	// Snapshot before anything else: appends after this point belong to the
	// next turn, and a Clear is detected through the epoch at finalize time.
	epoch := conv.Epoch()
	req := openrouter.ChatRequest{
		Model:       conv.Model(),
		Messages:    BuildWindow(conv.SystemPrompt(), conv.Snapshot(), o.windowSize),
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	events.TurnStarted(turnID)
	stats := model.NewStatistics()

	body, err := o.client.OpenStream(ctx, req)
	if err != nil {
		return o.finish(events, turnID, openFailure(turnID, err))
	}
	defer body.Close()

	var acc strings.Builder
	malformed := 0
	dec := openrouter.NewDecoder(body)

frames:
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			// Source closed without the sentinel: soft completion.
			break
		}
		if err != nil {
			status, terr := classifyStreamError(err)
			log.Printf("turn %s: stream aborted after %d bytes: %v", turnID, acc.Len(), err)
			return o.finish(events, turnID, Result{
				TurnID:          turnID,
				Status:          status,
				Err:             terr,
				MalformedFrames: malformed,
			})
		}

		switch frame.Kind {
		case openrouter.FrameDelta:
			stats.RecordFirstToken()
			acc.WriteString(frame.Delta)
			events.TurnProgress(turnID, acc.String())
		case openrouter.FrameMalformed:
			malformed++
			log.Printf("turn %s: skipping malformed frame: %.64s", turnID, frame.Raw)
		case openrouter.FrameTerminal:
			break frames
		}
	}

	if err := ctx.Err(); err != nil {
		status, terr := classifyStreamError(err)
		return o.finish(events, turnID, Result{
			TurnID:          turnID,
			Status:          status,
			Err:             terr,
			MalformedFrames: malformed,
		})
	}

	content := acc.String()
	stats.Finalize(estimateCompletionTokens(content))

	result := Result{
		TurnID:          turnID,
		Status:          StatusCompleted,
		Content:         content,
		Stats:           stats,
		MalformedFrames: malformed,
	}

	if content == "" {
		// Degenerate success: nothing to append.
		result.EmptyResponse = true
		return o.finish(events, turnID, result)
	}

	if conv.Epoch() != epoch {
		// The conversation was cleared mid-flight; this turn has no home.
		log.Printf("turn %s: conversation cleared during turn, discarding", turnID)
		return o.finish(events, turnID, Result{
			TurnID:          turnID,
			Status:          StatusCancelled,
			MalformedFrames: malformed,
		})
	}

	result.MessageID = conv.AppendAssistant(content, stats)
	return o.finish(events, turnID, result)
}

// finish publishes the terminal notification and returns the result.
func (o *Orchestrator) finish(events Events, turnID string, result Result) Result {
	events.TurnFinished(turnID, result)
	return result
}

// openFailure maps a connection-open error to a terminal result.
func openFailure(turnID string, err error) Result {
	status, terr := classifyStreamError(err)
	return Result{TurnID: turnID, Status: status, Err: terr}
}

// classifyStreamError maps an error from connection open or a mid-stream
// read onto a terminal status. Context cancellation is a user action, not
// a failure; deadline expiry is a timeout failure.
func classifyStreamError(err error) (Status, error) {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusCancelled, context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return StatusFailed, fmt.Errorf("%w: %v", openrouter.ErrTimeout, err)
	case errors.Is(err, openrouter.ErrTimeout),
		errors.Is(err, openrouter.ErrNetwork),
		errors.Is(err, openrouter.ErrNotConfigured),
		errors.Is(err, openrouter.ErrUnauthenticated),
		errors.Is(err, openrouter.ErrModelNotFound),
		errors.Is(err, openrouter.ErrRateLimited),
		errors.Is(err, openrouter.ErrInsufficientCredits),
		errors.Is(err, openrouter.ErrServerError):
		// Already classified by the transport.
		return StatusFailed, err
	default:
		return StatusFailed, fmt.Errorf("%w: %v", openrouter.ErrNetwork, err)
	}
}

// estimateCompletionTokens approximates the completion token count as the
// whitespace-delimited word count. Good enough for throughput stats; a
// precise tokenizer is out of scope.
func estimateCompletionTokens(content string) int {
	return len(strings.Fields(content))
}
