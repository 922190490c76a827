// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/aichat-tui/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)

	conv := model.NewConversationWithModel("anthropic/claude-3-opus")
	conv.SetSystemPrompt("be helpful")
	conv.AppendUser("What is Go?")

	stats := model.NewStatistics()
	stats.RecordFirstToken()
	stats.Finalize(12)
	conv.AppendAssistant("A programming language.", stats)

	require.NoError(t, store.Save(conv))

	loaded, err := store.Load(conv.ID())
	require.NoError(t, err)

	assert.Equal(t, conv.ID(), loaded.ID())
	assert.Equal(t, conv.Title(), loaded.Title())
	assert.Equal(t, "anthropic/claude-3-opus", loaded.Model())
	assert.Equal(t, "be helpful", loaded.SystemPrompt())

	want := conv.Snapshot()
	got := loaded.Snapshot()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Role, got[i].Role)
		assert.Equal(t, want[i].Content, got[i].Content)
		assert.Equal(t, want[i].TokenCount, got[i].TokenCount)
		assert.Equal(t, want[i].TTFT, got[i].TTFT)
		assert.WithinDuration(t, want[i].Timestamp, got[i].Timestamp, time.Millisecond)
	}
}

func TestSaveIsUpsert(t *testing.T) {
	store := openTestStore(t)

	conv := model.NewConversation()
	conv.AppendUser("first")
	require.NoError(t, store.Save(conv))

	conv.AppendAssistant("reply", nil)
	require.NoError(t, store.Save(conv))

	loaded, err := store.Load(conv.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.MessageCount())

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Load("conv_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdering(t *testing.T) {
	store := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		conv := model.NewConversation()
		conv.AppendUser(fmt.Sprintf("question %d", i))
		require.NoError(t, store.Save(conv))
		ids = append(ids, conv.ID())
		time.Sleep(5 * time.Millisecond) // distinct updated_at
	}

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 3)

	// Most recently updated first.
	assert.Equal(t, ids[2], metas[0].ID)
	assert.Equal(t, ids[0], metas[2].ID)
	assert.Equal(t, 1, metas[0].MessageCount)
	assert.Equal(t, "question 2", metas[0].Preview)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)

	conv := model.NewConversation()
	conv.AppendUser("delete me")
	require.NoError(t, store.Save(conv))

	require.NoError(t, store.Delete(conv.ID()))
	_, err := store.Load(conv.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	// Messages go with the conversation.
	metas, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, metas)

	assert.ErrorIs(t, store.Delete(conv.ID()), ErrNotFound)
}

func TestPruneKeepsNewest(t *testing.T) {
	store := openTestStore(t)

	var ids []string
	for i := 0; i < 5; i++ {
		conv := model.NewConversation()
		conv.AppendUser(fmt.Sprintf("q%d", i))
		require.NoError(t, store.Save(conv))
		ids = append(ids, conv.ID())
		time.Sleep(5 * time.Millisecond)
	}

	removed, err := store.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, ids[4], metas[0].ID)
	assert.Equal(t, ids[3], metas[1].ID)

	// Zero disables pruning.
	removed, err = store.Prune(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "conv.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}
