// Package intent fuses external detector signals and the conversation-state
// snapshot into one canonical turn directive. Precedence lives in ordered
// rule slices, not control flow, so each rule is testable on its own.
package intent

// Reply modes.
const (
	ModeMicro    = "micro"
	ModeNormal   = "normal"
	ModeLongform = "longform"
	ModeCrisis   = "crisis"
)

// Primary interaction modes.
const (
	PrimaryConversation = "conversation"
	PrimaryStudios      = "studios"
	PrimaryOnboarding   = "onboarding"
	PrimaryDream        = "dream"
	PrimaryActivity     = "activity"
	PrimaryCrisis       = "crisis"
)

// Intent types produced by the intent chain.
const (
	IntentRecipe   = "recipe"
	IntentSteps    = "steps"
	IntentStory    = "story"
	IntentMusic    = "music"
	IntentDream    = "dream"
	IntentPresence = "presence"
	IntentClarify  = "clarify"
	IntentOther    = "other"
	IntentCrisis   = "crisis"
)

// studiosDirective is attached whenever the studios gate fires.
const studiosDirective = "Studios mode: respond only about the music experience in progress. Do not mix in activities, soundscapes, or other content sources."

// Cognitive is the cognitive-intent detector output.
type Cognitive struct {
	AsksForHelp      bool   `json:"asks_for_help"`
	EmotionalContext string `json:"emotional_context"`
	TopicShift       bool   `json:"topic_shift"`
	IsShortMessage   bool   `json:"is_short_message"`
}

// Raw carries the low-level detector flags. Arousal and mood are resolved to
// booleans upstream by the mood detector.
type Raw struct {
	AsksForHelp  bool `json:"asks_for_help"`
	HighArousal  bool `json:"high_arousal"`
	LowMood      bool `json:"low_mood"`
	MusicRequest bool `json:"music_request"`
}

// Doorway is the topic-doorway detector result.
type Doorway struct {
	SelectedDoorID string   `json:"selected_door_id"`
	TriggeredDoor  string   `json:"triggered_door"`
	Doorway        string   `json:"doorway"`
	Candidates     []string `json:"candidates"`
}

// ID returns the doorway identity used by the rule chains: first of the
// selected door, the triggered door, the doorway field, the first candidate.
func (d Doorway) ID() string {
	if d.SelectedDoorID != "" {
		return d.SelectedDoorID
	}
	if d.TriggeredDoor != "" {
		return d.TriggeredDoor
	}
	if d.Doorway != "" {
		return d.Doorway
	}
	if len(d.Candidates) > 0 {
		return d.Candidates[0]
	}
	return ""
}

// Signals is everything the synthesizer consumes for one turn. The bullet
// fields are untyped because detectors hand back decoded JSON; anything that
// is not a string array becomes an empty list.
type Signals struct {
	UserText      string
	Crisis        bool
	Cognitive     Cognitive
	Raw           Raw
	Doorway       Doorway
	Onboarding    bool
	ActivityAsked bool

	Posture       string
	DetectedState string

	MemoryBullets   any
	PatternBullets  any
	DreamBullet     any
	ActivityBullets any
}

// Constraints bound the shape of the generated reply.
type Constraints struct {
	MaxSentences        *int     `json:"max_sentences"`
	AllowQuestions      int      `json:"allow_questions"`
	AllowActivities     string   `json:"allow_activities"`
	MustNotTruncate     bool     `json:"must_not_truncate"`
	RequiredSections    []string `json:"required_sections"`
	SuppressSoundscapes bool     `json:"suppress_soundscapes"`
	CapabilityDirective string   `json:"capability_directive"`
}

// SelectedContext is the bounded slice of context the directive carries.
type SelectedContext struct {
	MemoryBullets   []string `json:"memory_bullets"`
	PatternBullets  []string `json:"pattern_bullets"`
	DreamBullet     string   `json:"dream_bullet"`
	ActivityBullets []string `json:"activity_bullets"`
	DoorwayHint     string   `json:"doorway_hint"`
}

// TraceIntent is the synthesized turn directive. Created fresh each turn,
// never persisted.
type TraceIntent struct {
	Mode            string          `json:"mode"`
	IntentType      string          `json:"intent_type"`
	PrimaryMode     string          `json:"primary_mode"`
	Posture         string          `json:"posture"`
	DetectedState   string          `json:"detected_state"`
	Constraints     Constraints     `json:"constraints"`
	SelectedContext SelectedContext `json:"selected_context"`

	// Signals keeps the inputs that produced this directive, for tracing.
	Signals Signals `json:"-"`
}

// NewTraceIntent returns the per-turn defaults before any rule runs.
func NewTraceIntent() TraceIntent {
	return TraceIntent{
		Mode:        ModeMicro,
		IntentType:  IntentOther,
		PrimaryMode: PrimaryConversation,
		Constraints: Constraints{
			AllowQuestions:  1,
			AllowActivities: "allowed",
		},
	}
}
