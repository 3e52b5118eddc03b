package memory

import "context"

// Store provides durable persistence for conversations, messages, core
// memory, session summaries and compression records.
type Store interface {
	Close() error

	EnsureConversation(ctx context.Context, id string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	RotateSession(ctx context.Context, id, sessionID string) error
	ResetExtractionCounter(ctx context.Context, id string) error
	ResetSummaryCounter(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, msg Message) error
	RecentMessages(ctx context.Context, id string, limit int) ([]Message, error)
	AllMessages(ctx context.Context, id string) ([]Message, error)
	MessageCount(ctx context.Context, id string) (int, error)

	CoreMemory(ctx context.Context, id string) (CoreMemory, bool, error)
	SaveCoreMemory(ctx context.Context, id string, mem CoreMemory) error

	SessionSummaries(ctx context.Context, id string, limit int) ([]SessionSummary, error)
	SaveSessionSummary(ctx context.Context, id string, sum SessionSummary) error

	SessionCompressions(ctx context.Context, id string, limit int) ([]SessionCompression, error)
	SaveSessionCompression(ctx context.Context, comp SessionCompression) error
}
