// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations in a local SQLite database.
//
// The store keeps two tables: conversations for metadata and messages for
// the ordered history. Saves are transactional, so a crash mid-save never
// leaves a conversation half-written. Uses the pure-Go SQLite driver, no
// cgo required.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/aichat-tui/internal/model"
)

// ErrNotFound is returned when a conversation ID does not exist.
var ErrNotFound = errors.New("conversation not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	conversation_id   TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq               INTEGER NOT NULL,
	role              TEXT NOT NULL,
	content           TEXT NOT NULL,
	timestamp         INTEGER NOT NULL,
	token_count       INTEGER NOT NULL DEFAULT 0,
	ttft_ns           INTEGER NOT NULL DEFAULT 0,
	total_duration_ns INTEGER NOT NULL DEFAULT 0,
	tokens_per_sec    REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, seq);
CREATE INDEX IF NOT EXISTS idx_conversations_updated
	ON conversations(updated_at DESC);
`

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at the given path. Parent directories
// are created as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; SQLite serializes anyway and this avoids lock churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// Save persists a conversation and its full message history. The write is
// transactional: the previous state survives any failure.
func (s *Store) Save(conv *model.Conversation) error {
	meta := conv.Meta()
	messages := conv.Snapshot()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO conversations (id, title, model, system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			updated_at = excluded.updated_at`,
		meta.ID, meta.Title, meta.Model, conv.SystemPrompt(),
		meta.CreatedAt.UnixNano(), meta.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	// Replace the message log wholesale. Histories are small (pruned at
	// model.MaxMessages) so this is simpler than diffing.
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, meta.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages
			(id, conversation_id, seq, role, content, timestamp,
			 token_count, ttft_ns, total_duration_ns, tokens_per_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range messages {
		_, err := stmt.Exec(
			msg.ID, meta.ID, i, msg.Role.String(), msg.Content,
			msg.Timestamp.UnixNano(), msg.TokenCount,
			int64(msg.TTFT), int64(msg.TotalDuration), msg.TokensPerSec)
		if err != nil {
			return fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Load retrieves a conversation by ID, or ErrNotFound.
func (s *Store) Load(id string) (*model.Conversation, error) {
	var (
		title, modelID, systemPrompt string
		createdAt, updatedAt         int64
	)
	err := s.db.QueryRow(`
		SELECT title, model, system_prompt, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&title, &modelID, &systemPrompt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, role, content, timestamp,
		       token_count, ttft_ns, total_duration_ns, tokens_per_sec
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			msg                    model.Message
			role                   string
			timestamp, ttft, total int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &timestamp,
			&msg.TokenCount, &ttft, &total, &msg.TokensPerSec); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, timestamp)
		msg.TTFT = time.Duration(ttft)
		msg.TotalDuration = time.Duration(total)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return model.Restore(id, title, modelID, systemPrompt,
		time.Unix(0, createdAt), time.Unix(0, updatedAt), messages), nil
}

// =============================================================================
// LISTING AND MAINTENANCE
// =============================================================================

// List returns metadata for all conversations, most recently updated first.
func (s *Store) List() ([]model.ConversationMeta, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.title, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		       COALESCE((SELECT m.content FROM messages m
		                 WHERE m.conversation_id = c.id AND m.role = 'user'
		                 ORDER BY m.seq DESC LIMIT 1), '')
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var metas []model.ConversationMeta
	for rows.Next() {
		var (
			meta                 model.ConversationMeta
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Model,
			&createdAt, &updatedAt, &meta.MessageCount, &meta.Preview); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		meta.CreatedAt = time.Unix(0, createdAt)
		meta.UpdatedAt = time.Unix(0, updatedAt)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// Delete removes a conversation and its messages. Deleting a missing ID
// returns ErrNotFound.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes the oldest conversations beyond the retention limit and
// returns how many were removed. A limit of 0 or less keeps everything.
func (s *Store) Prune(maxConversations int) (int, error) {
	if maxConversations <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
		DELETE FROM conversations WHERE id NOT IN (
			SELECT id FROM conversations ORDER BY updated_at DESC LIMIT ?
		)`, maxConversations)
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of stored conversations.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}
