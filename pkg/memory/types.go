// Package memory implements the durable companion memory layer: the
// persistence facade, capped core-memory extraction and merging, the
// token-budgeted context assembler, and rolling history compression.
package memory

import "time"

// Conversation is the persistent per-conversation record, including the
// counters that drive background extraction and summarization.
type Conversation struct {
	ID              string
	SessionID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	MessageCount    int
	SinceExtraction int
	SinceSummary    int
}

// Message is one stored conversation turn half.
type Message struct {
	ID             string
	ConversationID string
	SessionID      string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Goal is a capped core-memory entry with its start date preserved.
type Goal struct {
	Text      string `json:"text"`
	StartedAt string `json:"started_at"`
}

// Constraint types recognized in core memory.
const (
	ConstraintTime   = "time"
	ConstraintMoney  = "money"
	ConstraintHealth = "health"
	ConstraintFamily = "family"
	ConstraintWork   = "work"
	ConstraintOther  = "other"
)

// Constraint is a known limitation in the user's life.
type Constraint struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// CoreMemory is the durable, capped set of extracted knowledge about the
// user. Every list stays within its configured cap at all times; mutation
// happens only through Validate and Merge.
type CoreMemory struct {
	UserFacts       []string     `json:"user_facts"`
	Goals           []Goal       `json:"goals"`
	Constraints     []Constraint `json:"constraints"`
	Commitments     []string     `json:"commitments"`
	Themes          []string     `json:"themes"`
	PendingTopics   []string     `json:"pending_topics"`
	EmotionTimeline []string     `json:"emotion_timeline"`
	Contradictions  []string     `json:"contradictions"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsEmpty reports whether no list holds any entry.
func (m CoreMemory) IsEmpty() bool {
	return len(m.UserFacts) == 0 && len(m.Goals) == 0 && len(m.Constraints) == 0 &&
		len(m.Commitments) == 0 && len(m.Themes) == 0 && len(m.PendingTopics) == 0 &&
		len(m.EmotionTimeline) == 0 && len(m.Contradictions) == 0
}

// SessionSummary is a short free-text recap of one session.
type SessionSummary struct {
	SessionID string
	Summary   string
	UpdatedAt time.Time
}

// SessionCompression is one rolling compression record. CoversMessageCount is
// cumulative per conversation and never regresses.
type SessionCompression struct {
	ID                 string
	ConversationID     string
	Summary            string
	CoversMessageCount int
	CreatedAt          time.Time
}

// CompressionResult pairs the compression context with the retained tail of
// recent messages.
type CompressionResult struct {
	Context        string
	RecentMessages []Message
}
