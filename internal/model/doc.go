// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// A Conversation is an ordered, append-only log of role-tagged Messages
// guarded by a mutex: the UI context appends the user message at submit
// time while the turn worker appends the assistant message at finalize
// time. Snapshot returns a copy of the log so a request that was already
// built from it can never be altered by later appends, and Clear bumps an
// epoch counter that lets an in-flight turn detect that its target history
// is gone.
package model
