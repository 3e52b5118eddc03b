package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteConversationLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	conv, err := store.EnsureConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Zero(t, conv.MessageCount)

	// Idempotent on the same id.
	again, err := store.EnsureConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.CreatedAt, again.CreatedAt)

	require.NoError(t, store.SaveMessage(ctx, Message{ConversationID: "conv-1", Role: "user", Content: "hello"}))
	require.NoError(t, store.SaveMessage(ctx, Message{ConversationID: "conv-1", Role: "assistant", Content: "hi there"}))

	conv, err = store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, 2, conv.SinceExtraction)
	assert.Equal(t, 2, conv.SinceSummary)

	require.NoError(t, store.ResetExtractionCounter(ctx, "conv-1"))
	require.NoError(t, store.ResetSummaryCounter(ctx, "conv-1"))
	conv, err = store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Zero(t, conv.SinceExtraction)
	assert.Zero(t, conv.SinceSummary)
	assert.Equal(t, 2, conv.MessageCount, "resets leave the total alone")

	require.NoError(t, store.RotateSession(ctx, "conv-1", "sess-2"))
	conv, err = store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-2", conv.SessionID)
}

func TestSQLiteMessageOrdering(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.EnsureConversation(ctx, "conv-1")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, store.SaveMessage(ctx, Message{
			ConversationID: "conv-1",
			Role:           "user",
			Content:        fmt.Sprintf("message %d", i),
		}))
	}

	recent, err := store.RecentMessages(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "message 3", recent[0].Content)
	assert.Equal(t, "message 5", recent[2].Content)

	all, err := store.AllMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "message 0", all[0].Content)

	count, err := store.MessageCount(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestSQLiteCoreMemoryRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, ok, err := store.CoreMemory(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)

	mem := CoreMemory{
		UserFacts:   []string{"Has a dog", "Works nights"},
		Goals:       []Goal{{Text: "run a 10k", StartedAt: "2026-08-01"}},
		Constraints: []Constraint{{Type: ConstraintMoney, Description: "tight budget"}},
	}
	require.NoError(t, store.SaveCoreMemory(ctx, "conv-1", mem))

	loaded, ok, err := store.CoreMemory(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mem.UserFacts, loaded.UserFacts)
	assert.Equal(t, mem.Goals, loaded.Goals)
	assert.Equal(t, mem.Constraints, loaded.Constraints)
	assert.False(t, loaded.UpdatedAt.IsZero())

	// Second save replaces the payload.
	mem.UserFacts = append(mem.UserFacts, "Started pottery class")
	require.NoError(t, store.SaveCoreMemory(ctx, "conv-1", mem))
	loaded, _, err = store.CoreMemory(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, loaded.UserFacts, 3)
}

func TestSQLiteSessionSummaryUpsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveSessionSummary(ctx, "conv-1", SessionSummary{
		SessionID: "sess-1", Summary: "first draft", UpdatedAt: base,
	}))
	require.NoError(t, store.SaveSessionSummary(ctx, "conv-1", SessionSummary{
		SessionID: "sess-2", Summary: "a later session", UpdatedAt: base.Add(10 * time.Minute),
	}))
	require.NoError(t, store.SaveSessionSummary(ctx, "conv-1", SessionSummary{
		SessionID: "sess-1", Summary: "revised recap", UpdatedAt: base.Add(20 * time.Minute),
	}))

	sums, err := store.SessionSummaries(ctx, "conv-1", 5)
	require.NoError(t, err)
	require.Len(t, sums, 2, "same session id upserts instead of duplicating")
	assert.Equal(t, "revised recap", sums[0].Summary)
	assert.Equal(t, "a later session", sums[1].Summary)
}

func TestSQLiteCompressionsNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, covers := range []int{25, 32, 40} {
		require.NoError(t, store.SaveSessionCompression(ctx, SessionCompression{
			ConversationID:     "conv-1",
			Summary:            fmt.Sprintf("rolling summary covering %d messages of their chat", covers),
			CoversMessageCount: covers,
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}))
	}

	comps, err := store.SessionCompressions(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, 40, comps[0].CoversMessageCount)
	assert.Equal(t, 32, comps[1].CoversMessageCount)
	assert.NotEmpty(t, comps[0].ID)
}
