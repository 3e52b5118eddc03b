// Package convstate tracks per-conversation dialogue state: the stage machine,
// the current topic keywords, and short-lived multi-turn trackers (active runs
// and pending followups).
package convstate

import "time"

// Stage is the dialogue stage of a conversation.
type Stage string

const (
	StageArrival     Stage = "arrival"
	StageOpening     Stage = "opening"
	StageSharing     Stage = "sharing"
	StageExploring   Stage = "exploring"
	StageProcessing  Stage = "processing"
	StageIntegrating Stage = "integrating"
	StageClosing     Stage = "closing"
)

// ActiveRun tracks a multi-turn mode (for example an extended music
// exploration) with its own TTL.
type ActiveRun struct {
	Mode          string
	AnchorLabel   string
	StartedAt     time.Time
	LastTouchedAt time.Time
	TTL           time.Duration
}

// PendingFollowup tracks the expectation that the next user turn answers a
// previously asked question.
type PendingFollowup struct {
	Type           string
	ExpectedIntent string
	ActivityID     string
	CreatedAt      time.Time
	TTL            time.Duration
}

// RunView is what a getter returns for an active run. Expired is set on the
// single read that observes the TTL lapse; the run is cleared as a side effect
// of that read.
type RunView struct {
	Run     ActiveRun
	Expired bool
}

// FollowupView mirrors RunView for pending followups.
type FollowupView struct {
	Followup PendingFollowup
	Expired  bool
}

// State is the mutable per-conversation record. It is owned by the Store;
// callers get value snapshots.
type State struct {
	Stage             Stage
	LastMoveType      string
	TopicEstablished  bool
	TurnCount         int
	LastTopicKeywords []string
	ActiveRun         *ActiveRun
	PendingFollowup   *PendingFollowup
	LastAccessed      time.Time
}

// Snapshot is a read-only copy of a conversation's state taken for the
// duration of one turn.
type Snapshot struct {
	Stage             Stage
	LastMoveType      string
	TopicEstablished  bool
	TurnCount         int
	LastTopicKeywords []string
	HasActiveRun      bool
	ActiveRunMode     string
	HasFollowup       bool
	FollowupType      string
}

// AdvanceResult reports what one turn did to the state machine.
type AdvanceResult struct {
	ContentDetected bool
	Stage           Stage
	Keywords        []string
}
