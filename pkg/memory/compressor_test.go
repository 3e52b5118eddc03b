package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/config"
)

const compressedReply = "They spent the early conversation unpacking a stressful move and settled into planning next steps."

func testCompressor(completer *stubCompleter) (*Compressor, *fakeStore, *OpLocks) {
	store := newFakeStore()
	locks := NewOpLocks()
	cfg := config.DefaultConfig().Compression
	return NewCompressor(store, completer, locks, cfg, zap.NewNop()), store, locks
}

func seedMessages(t *testing.T, store *fakeStore, conversationID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		require.NoError(t, store.SaveMessage(ctx, Message{
			ConversationID: conversationID,
			Role:           role,
			Content:        fmt.Sprintf("message %d", i),
		}))
	}
}

func TestCompressBelowThreshold(t *testing.T) {
	completer := &stubCompleter{reply: compressedReply}
	comp, store, _ := testCompressor(completer)

	// Exactly at the threshold still counts as below; it must be exceeded.
	seedMessages(t, store, "conv-1", 40)

	res, err := comp.Compress(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, completer.callCount())
}

func TestCompressFirstPass(t *testing.T) {
	completer := &stubCompleter{reply: compressedReply}
	comp, store, _ := testCompressor(completer)
	seedMessages(t, store, "conv-1", 45)

	res, err := comp.Compress(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, compressedReply, res.Context)
	require.Len(t, res.RecentMessages, 20)
	assert.Equal(t, "message 25", res.RecentMessages[0].Content)
	assert.Equal(t, "message 44", res.RecentMessages[19].Content)

	require.Len(t, store.comps["conv-1"], 1)
	assert.Equal(t, 25, store.comps["conv-1"][0].CoversMessageCount)
}

func TestCompressSkipsWhenTooFewNewMessages(t *testing.T) {
	completer := &stubCompleter{reply: compressedReply}
	comp, store, _ := testCompressor(completer)
	seedMessages(t, store, "conv-1", 44)
	require.NoError(t, store.SaveSessionCompression(context.Background(), SessionCompression{
		ConversationID:     "conv-1",
		Summary:            "an earlier rolling summary of the first stretch",
		CoversMessageCount: 20,
	}))

	// Cut point would be 24, only 4 messages past the covered prefix.
	res, err := comp.Compress(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "an earlier rolling summary of the first stretch", res.Context)
	require.Len(t, res.RecentMessages, 20)
	assert.Equal(t, "message 24", res.RecentMessages[0].Content)
	assert.Zero(t, completer.callCount())
	assert.Len(t, store.comps["conv-1"], 1)
}

func TestCompressCumulativeCoverage(t *testing.T) {
	completer := &stubCompleter{reply: compressedReply}
	comp, store, _ := testCompressor(completer)
	seedMessages(t, store, "conv-1", 52)
	require.NoError(t, store.SaveSessionCompression(context.Background(), SessionCompression{
		ConversationID:     "conv-1",
		Summary:            "an earlier rolling summary of the first stretch",
		CoversMessageCount: 25,
	}))

	res, err := comp.Compress(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, store.comps["conv-1"], 2)
	assert.Equal(t, 32, store.comps["conv-1"][0].CoversMessageCount)
	assert.Len(t, res.RecentMessages, 20)
}

func TestCompressRejectsShortSummary(t *testing.T) {
	completer := &stubCompleter{reply: "too short"}
	comp, store, _ := testCompressor(completer)
	seedMessages(t, store, "conv-1", 45)

	res, err := comp.Compress(context.Background(), "conv-1")
	assert.ErrorIs(t, err, ErrSummaryTooShort)
	assert.Nil(t, res)
	assert.Empty(t, store.comps["conv-1"])
}

func TestCompressSkipsWhenLocked(t *testing.T) {
	completer := &stubCompleter{reply: compressedReply}
	comp, store, locks := testCompressor(completer)
	seedMessages(t, store, "conv-1", 45)

	require.True(t, locks.TryAcquire("conv-1", OpCompression))
	defer locks.Release("conv-1", OpCompression)

	res, err := comp.Compress(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, completer.callCount())
}

func TestShouldCompress(t *testing.T) {
	completer := &stubCompleter{reply: compressedReply}
	comp, store, _ := testCompressor(completer)

	assert.False(t, comp.ShouldCompress(context.Background(), "conv-1"))
	seedMessages(t, store, "conv-1", 40)
	assert.False(t, comp.ShouldCompress(context.Background(), "conv-1"))
	seedMessages(t, store, "conv-1", 1)
	assert.True(t, comp.ShouldCompress(context.Background(), "conv-1"))
}
