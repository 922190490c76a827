// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// =============================================================================
// STREAM FRAMING
// =============================================================================

// dataPrefix marks SSE payload lines; everything else on the wire is
// keep-alive comments, event names, or blank separators and is skipped.
const dataPrefix = "data:"

// terminalSentinel is the literal payload that ends the stream.
const terminalSentinel = "[DONE]"

// MaxLineSize is the maximum accepted size of a single SSE line (64KB).
// Longer lines are surfaced as malformed frames rather than decoded.
const MaxLineSize = 64 * 1024

// FrameKind discriminates decoded stream frames.
type FrameKind int

const (
	// FrameDelta carries an incremental content fragment.
	FrameDelta FrameKind = iota

	// FrameTerminal marks the end-of-stream sentinel. No frames follow.
	FrameTerminal

	// FrameMalformed carries the raw payload of a line that failed to
	// decode. Non-fatal: the decoder keeps going.
	FrameMalformed
)

// String returns a readable name for the frame kind.
func (k FrameKind) String() string {
	switch k {
	case FrameDelta:
		return "delta"
	case FrameTerminal:
		return "terminal"
	case FrameMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit from the wire. Frames are transient: callers
// consume the delta and drop the frame.
type Frame struct {
	Kind  FrameKind
	Delta string // content fragment, set for FrameDelta
	Raw   string // offending payload, set for FrameMalformed
}

// streamChunk mirrors the JSON payload of one data line.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content returns the first choice's delta content, or "".
func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder consumes a server-sent-event byte stream and produces a lazy,
// finite, non-restartable sequence of Frames.
//
// Decode behavior per line:
//   - lines without the "data:" prefix are skipped (keep-alives, comments)
//   - the terminal sentinel ends the sequence permanently, even if the
//     source has more data
//   - malformed JSON yields a FrameMalformed and decoding continues
//   - chunks without delta content (e.g. role-only deltas) yield nothing
//
// A source that closes without the sentinel simply ends the sequence with
// io.EOF; whether that counts as success is the caller's policy.
type Decoder struct {
	reader *bufio.Reader
	done   bool
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReader(r)}
}

// Next returns the next frame. It returns io.EOF when the sequence is
// exhausted, either by the terminal sentinel or by source closure. Any
// other error is a read failure on the underlying source.
func (d *Decoder) Next() (Frame, error) {
	if d.done {
		return Frame{}, io.EOF
	}

	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// A final unterminated line may still carry a payload.
				if frame, ok := d.decodeLine(line); ok {
					d.doneIfTerminal(frame)
					return frame, nil
				}
				d.done = true
				return Frame{}, io.EOF
			}
			d.done = true
			return Frame{}, err
		}

		if frame, ok := d.decodeLine(line); ok {
			d.doneIfTerminal(frame)
			return frame, nil
		}
	}
}

// doneIfTerminal latches the decoder closed after a terminal frame.
func (d *Decoder) doneIfTerminal(frame Frame) {
	if frame.Kind == FrameTerminal {
		d.done = true
	}
}

// decodeLine decodes a single wire line. The second return value is false
// for lines that produce no frame (keep-alives, role-only deltas).
func (d *Decoder) decodeLine(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{}, false
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return Frame{}, false
	}
	if payload == terminalSentinel {
		return Frame{Kind: FrameTerminal}, true
	}
	if len(payload) > MaxLineSize {
		return Frame{Kind: FrameMalformed, Raw: payload[:128] + "..."}, true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// A single bad frame must not terminate the stream.
		return Frame{Kind: FrameMalformed, Raw: payload}, true
	}

	if content := chunk.content(); content != "" {
		return Frame{Kind: FrameDelta, Delta: content}, true
	}

	// Valid no-op, e.g. a role-only delta or a finish_reason-only chunk.
	return Frame{}, false
}
