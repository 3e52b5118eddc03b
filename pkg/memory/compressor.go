package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/config"
	"github.com/keeva-ai/keeva/pkg/providers"
)

const compressionSystemPrompt = `You compress older parts of a long ongoing conversation into a short narrative summary. Write in plain prose, third person, past tense. Capture what the person talked about, what mattered to them emotionally, and anything they decided or committed to. Do not include greetings, filler, or the assistant's responses except where they changed the course of the conversation. Aim for a tight paragraph.`

// Compressor folds the older span of a long conversation into a rolling
// summary so the live window stays small. Each pass summarizes only the
// messages past the previous cut point, folding the prior summary text in,
// and the stored coverage count never regresses.
type Compressor struct {
	store     Store
	completer providers.Completer
	locks     *OpLocks
	cfg       config.CompressionConfig
	log       *zap.Logger
}

func NewCompressor(store Store, completer providers.Completer, locks *OpLocks, cfg config.CompressionConfig, log *zap.Logger) *Compressor {
	return &Compressor{store: store, completer: completer, locks: locks, cfg: cfg, log: log}
}

// ShouldCompress reports whether the conversation has grown past the
// compression threshold. The count must strictly exceed it.
func (c *Compressor) ShouldCompress(ctx context.Context, conversationID string) bool {
	count, err := c.store.MessageCount(ctx, conversationID)
	if err != nil {
		return false
	}
	return count > c.cfg.TriggerThreshold
}

// Compress runs one compression pass. It returns the prior context plus the
// uncompressed tail so the caller can rebuild its prompt window. A nil result
// with nil error means the pass was skipped (lock contention or nothing new
// to compress).
func (c *Compressor) Compress(ctx context.Context, conversationID string) (*CompressionResult, error) {
	if !c.locks.TryAcquire(conversationID, OpCompression) {
		c.log.Info("compression already in flight, skipping", zap.String("conversation", conversationID))
		return nil, nil
	}
	defer c.locks.Release(conversationID, OpCompression)

	messages, err := c.store.AllMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading messages for compression: %w", err)
	}
	total := len(messages)
	if total <= c.cfg.TriggerThreshold {
		return nil, nil
	}

	alreadyCovered := 0
	priorSummary := ""
	prior, err := c.store.SessionCompressions(ctx, conversationID, 1)
	if err != nil {
		return nil, fmt.Errorf("loading prior compressions: %w", err)
	}
	if len(prior) > 0 {
		alreadyCovered = prior[0].CoversMessageCount
		priorSummary = prior[0].Summary
	}

	cutPoint := total - c.cfg.KeepRecent
	if cutPoint-alreadyCovered < c.cfg.MinNewMessages {
		if priorSummary == "" {
			return nil, nil
		}
		return &CompressionResult{
			Context:        priorSummary,
			RecentMessages: messages[total-c.cfg.KeepRecent:],
		}, nil
	}

	summary, err := c.completer.Complete(ctx, compressionSystemPrompt, c.transcript(messages[alreadyCovered:cutPoint], priorSummary), providers.FormatText)
	if err != nil {
		return nil, fmt.Errorf("compression completion: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if len([]rune(summary)) < c.cfg.MinSummaryChars {
		return nil, ErrSummaryTooShort
	}

	if err := c.store.SaveSessionCompression(ctx, SessionCompression{
		ConversationID:     conversationID,
		Summary:            summary,
		CoversMessageCount: cutPoint,
	}); err != nil {
		return nil, fmt.Errorf("saving compression: %w", err)
	}

	c.log.Info("compressed conversation prefix",
		zap.String("conversation", conversationID),
		zap.Int("covers", cutPoint),
		zap.Int("total", total))

	return &CompressionResult{
		Context:        summary,
		RecentMessages: messages[cutPoint:],
	}, nil
}

// transcript renders the compressed span as one user message. When a prior
// rolling summary exists it is placed first so the model folds it into the
// new one instead of losing it.
func (c *Compressor) transcript(messages []Message, priorSummary string) []providers.Message {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Summary of the conversation so far:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\nNewer messages to fold in:\n")
	}
	for _, msg := range messages {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return []providers.Message{{Role: "user", Content: b.String()}}
}
