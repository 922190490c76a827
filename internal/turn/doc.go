// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn owns the lifecycle of a single chat exchange.
//
// An Orchestrator takes a conversation, builds a bounded request window
// from its history, opens a completion stream, accumulates delta frames,
// and finalizes the turn back into the conversation. Progress is published
// through the Events interface as cumulative text so observers can render
// a running buffer idempotently.
//
// Lifecycle: Pending -> Streaming -> Completed | Failed | Cancelled.
//
// Two guarantees matter to callers:
//
//   - Progress is prefix-monotonic: each notification's text extends the
//     previous one. No reordering within a turn.
//   - Failure and cancellation are fully compensating: the conversation is
//     left exactly as it was when the turn began. Partial output from a
//     cancelled or failed turn is never persisted.
//
// The orchestrator never retries. Retry and backoff policy, if wanted,
// belongs to a layer above.
package turn
