// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/aichat-tui/internal/model"
	"github.com/jeranaias/aichat-tui/internal/openrouter"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeBody is a stream body that serves fixed data, optionally failing
// with readErr once the data is exhausted, and records Close calls.
type fakeBody struct {
	reader  *strings.Reader
	readErr error
	closed  bool
}

func newFakeBody(data string, readErr error) *fakeBody {
	return &fakeBody{reader: strings.NewReader(data), readErr: readErr}
}

func (b *fakeBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err == io.EOF && b.readErr != nil {
		return n, b.readErr
	}
	return n, err
}

func (b *fakeBody) Close() error {
	b.closed = true
	return nil
}

// fakeStreamer returns a canned body or error and records the request.
type fakeStreamer struct {
	body    *fakeBody
	openErr error
	opened  int
	lastReq openrouter.ChatRequest
}

func (f *fakeStreamer) OpenStream(ctx context.Context, req openrouter.ChatRequest) (io.ReadCloser, error) {
	f.opened++
	f.lastReq = req
	if f.openErr != nil {
		return nil, f.openErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.body, nil
}

// recorder captures event notifications in call order.
type recorder struct {
	started  []string
	progress []string
	finished []Result

	// onProgress, when set, runs inside each progress notification.
	onProgress func()
}

func (r *recorder) TurnStarted(id string) { r.started = append(r.started, id) }

func (r *recorder) TurnProgress(id, content string) {
	r.progress = append(r.progress, content)
	if r.onProgress != nil {
		r.onProgress()
	}
}

func (r *recorder) TurnFinished(id string, result Result) {
	r.finished = append(r.finished, result)
}

func deltaLine(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n"
}

// =============================================================================
// ORCHESTRATOR TESTS
// =============================================================================

func TestRunEndToEnd(t *testing.T) {
	conv := model.NewConversation()
	conv.SetModel("openai/gpt-4o")
	conv.AppendUser("Hi")

	streamer := &fakeStreamer{body: newFakeBody(
		deltaLine("Hel")+deltaLine("lo!")+"data: [DONE]\n", nil)}
	events := &recorder{}

	result := New(streamer).Run(context.Background(), conv, "t1", events)

	if result.Status != StatusCompleted {
		t.Fatalf("status = %v (err %v), want completed", result.Status, result.Err)
	}
	if result.Content != "Hello!" {
		t.Errorf("content = %q, want %q", result.Content, "Hello!")
	}
	if result.MessageID == "" {
		t.Error("completed turn should carry the appended message ID")
	}
	if result.Stats == nil || result.Stats.TTFT <= 0 {
		t.Errorf("stats = %+v, want recorded TTFT", result.Stats)
	}

	// Two progress notifications with cumulative text, then one terminal.
	if len(events.progress) != 2 || events.progress[0] != "Hel" || events.progress[1] != "Hello!" {
		t.Errorf("progress = %v, want [Hel Hello!]", events.progress)
	}
	if len(events.finished) != 1 {
		t.Fatalf("finished notifications = %d, want 1", len(events.finished))
	}

	// Conversation ends [user:"Hi", assistant:"Hello!"].
	msgs := conv.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "Hi" {
		t.Errorf("message 0 = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hello!" {
		t.Errorf("message 1 = %+v", msgs[1])
	}
	if !streamer.body.closed {
		t.Error("stream body not closed")
	}
}

func TestRunRequestUsesWindowAndSampling(t *testing.T) {
	conv := model.NewConversation()
	conv.SetModel("openai/gpt-4o")
	conv.SetSystemPrompt("be brief")
	conv.AppendUser("Hi")

	streamer := &fakeStreamer{body: newFakeBody("data: [DONE]\n", nil)}
	New(streamer).WithSampling(0.2, 512).Run(context.Background(), conv, "t1", nil)

	req := streamer.lastReq
	if req.Model != "openai/gpt-4o" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature != 0.2 || req.MaxTokens != 512 {
		t.Errorf("sampling = (%v, %d)", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "Hi" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestRunPrefixMonotonicity(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("count")

	var body strings.Builder
	for _, d := range []string{"one ", "two ", "three ", "four"} {
		body.WriteString(deltaLine(d))
	}
	body.WriteString("data: [DONE]\n")

	events := &recorder{}
	streamer := &fakeStreamer{body: newFakeBody(body.String(), nil)}
	New(streamer).Run(context.Background(), conv, "t1", events)

	for i := 1; i < len(events.progress); i++ {
		if !strings.HasPrefix(events.progress[i], events.progress[i-1]) {
			t.Errorf("progress[%d] %q is not an extension of %q", i, events.progress[i], events.progress[i-1])
		}
	}
	if len(events.progress) != 4 {
		t.Errorf("got %d progress notifications, want 4", len(events.progress))
	}
}

func TestRunCompensatingFailure(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")
	before := conv.Snapshot()

	// Three deltas then the connection drops.
	streamer := &fakeStreamer{body: newFakeBody(
		deltaLine("a")+deltaLine("b")+deltaLine("c"),
		errors.New("connection reset by peer"))}
	events := &recorder{}

	result := New(streamer).Run(context.Background(), conv, "t1", events)

	if result.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", result.Status)
	}
	if !errors.Is(result.Err, openrouter.ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", result.Err)
	}
	if result.Content != "" {
		t.Errorf("failed turn content = %q, want empty", result.Content)
	}

	// Conversation equals its state before the turn began.
	after := conv.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("conversation has %d messages after failure, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].ID != before[i].ID {
			t.Errorf("message %d changed across failure", i)
		}
	}
	if !streamer.body.closed {
		t.Error("stream body not closed after failure")
	}
}

func TestRunMalformedFrameResilience(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")

	streamer := &fakeStreamer{body: newFakeBody(
		deltaLine("good ")+"data: {broken\n"+deltaLine("frames")+"data: [DONE]\n", nil)}

	result := New(streamer).Run(context.Background(), conv, "t1", nil)

	if result.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed despite malformed frame", result.Status)
	}
	if result.Content != "good frames" {
		t.Errorf("content = %q, want only the valid deltas", result.Content)
	}
	if result.MalformedFrames != 1 {
		t.Errorf("malformed count = %d, want 1", result.MalformedFrames)
	}
}

func TestRunSentinelVersusSilentClose(t *testing.T) {
	run := func(body string) Result {
		conv := model.NewConversation()
		conv.AppendUser("Hi")
		streamer := &fakeStreamer{body: newFakeBody(body, nil)}
		return New(streamer).Run(context.Background(), conv, "t1", nil)
	}

	withSentinel := run(deltaLine("same ") + deltaLine("text") + "data: [DONE]\n")
	silentClose := run(deltaLine("same ") + deltaLine("text"))

	if withSentinel.Status != StatusCompleted || silentClose.Status != StatusCompleted {
		t.Fatalf("statuses = %v / %v, want both completed", withSentinel.Status, silentClose.Status)
	}
	if withSentinel.Content != silentClose.Content {
		t.Errorf("content differs: %q vs %q", withSentinel.Content, silentClose.Content)
	}
}

func TestRunEmptyResponse(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")

	streamer := &fakeStreamer{body: newFakeBody("data: [DONE]\n", nil)}
	result := New(streamer).Run(context.Background(), conv, "t1", nil)

	if result.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed", result.Status)
	}
	if !result.EmptyResponse {
		t.Error("zero-content completion should be flagged EmptyResponse")
	}
	// Nothing appended: only the user message remains.
	if n := conv.MessageCount(); n != 1 {
		t.Errorf("conversation has %d messages, want 1", n)
	}
}

func TestRunCancellationDiscardsPartialContent(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")
	before := conv.MessageCount()

	// One delta arrives, then the read fails with the cancellation error
	// an aborted HTTP body produces.
	streamer := &fakeStreamer{body: newFakeBody(deltaLine("par"), context.Canceled)}
	events := &recorder{}

	result := New(streamer).Run(context.Background(), conv, "t1", events)

	if result.Status != StatusCancelled {
		t.Fatalf("status = %v, want cancelled", result.Status)
	}
	if result.Content != "" {
		t.Errorf("cancelled turn content = %q, want discarded", result.Content)
	}
	if conv.MessageCount() != before {
		t.Error("cancelled turn must not append to the conversation")
	}
	if !streamer.body.closed {
		t.Error("connection not closed on cancellation")
	}
	// The delta did flow as progress before the cancel landed.
	if len(events.progress) != 1 || events.progress[0] != "par" {
		t.Errorf("progress = %v", events.progress)
	}
}

func TestRunCancelledBeforeOpen(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streamer := &fakeStreamer{body: newFakeBody("", nil)}
	result := New(streamer).Run(ctx, conv, "t1", nil)

	if result.Status != StatusCancelled {
		t.Errorf("status = %v, want cancelled", result.Status)
	}
}

func TestRunTimeoutIsFailure(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")

	streamer := &fakeStreamer{openErr: context.DeadlineExceeded}
	result := New(streamer).Run(context.Background(), conv, "t1", nil)

	if result.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", result.Status)
	}
	if !errors.Is(result.Err, openrouter.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", result.Err)
	}
}

func TestRunOpenErrorKeepsClassification(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")

	streamer := &fakeStreamer{openErr: openrouter.ErrUnauthenticated}
	result := New(streamer).Run(context.Background(), conv, "t1", nil)

	if result.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", result.Status)
	}
	if !errors.Is(result.Err, openrouter.ErrUnauthenticated) {
		t.Errorf("err = %v, want ErrUnauthenticated preserved", result.Err)
	}
}

func TestRunClearDuringTurnReportsCancelled(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")

	events := &recorder{}
	// Clear the conversation while the stream is mid-flight.
	events.onProgress = func() { conv.Clear() }

	streamer := &fakeStreamer{body: newFakeBody(
		deltaLine("orphaned")+"data: [DONE]\n", nil)}
	result := New(streamer).Run(context.Background(), conv, "t1", events)

	if result.Status != StatusCancelled {
		t.Fatalf("status = %v, want cancelled after mid-flight clear", result.Status)
	}
	if conv.MessageCount() != 0 {
		t.Errorf("cleared conversation has %d messages, want 0", conv.MessageCount())
	}
}

func TestRunSnapshotIsolation(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("first")

	events := &recorder{}
	// An append racing in after the request was built must not change it.
	events.onProgress = func() { conv.AppendUser("late") }

	streamer := &fakeStreamer{body: newFakeBody(
		deltaLine("ok")+"data: [DONE]\n", nil)}
	New(streamer).Run(context.Background(), conv, "t1", events)

	if len(streamer.lastReq.Messages) != 1 || streamer.lastReq.Messages[0].Content != "first" {
		t.Errorf("request messages = %+v, want the snapshot only", streamer.lastReq.Messages)
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusStreaming, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tc := range tests {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%v.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestEstimateCompletionTokens(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"one", 1},
		{"one two three", 3},
		{"  padded   words  ", 2},
	}
	for _, tc := range tests {
		if got := estimateCompletionTokens(tc.content); got != tc.want {
			t.Errorf("estimateCompletionTokens(%q) = %d, want %d", tc.content, got, tc.want)
		}
	}
}

func TestRunStatsFinalized(t *testing.T) {
	conv := model.NewConversation()
	conv.AppendUser("Hi")

	streamer := &fakeStreamer{body: newFakeBody(
		deltaLine("three word reply")+"data: [DONE]\n", nil)}

	start := time.Now()
	result := New(streamer).Run(context.Background(), conv, "t1", nil)

	if result.Stats.CompletionTokens != 3 {
		t.Errorf("CompletionTokens = %d, want 3", result.Stats.CompletionTokens)
	}
	if result.Stats.TotalDuration <= 0 || result.Stats.TotalDuration > time.Since(start)+time.Second {
		t.Errorf("TotalDuration = %v", result.Stats.TotalDuration)
	}
}
