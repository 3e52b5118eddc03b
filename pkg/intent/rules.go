package intent

import "regexp"

var (
	recipeAskRegex = regexp.MustCompile(`(?i)\b(recipe|how (do|would) (i|you) (make|cook|bake)|ingredients for)\b`)
	stepsAskRegex  = regexp.MustCompile(`(?i)\b(step[- ]by[- ]step|walk me through|how (do|can) i (fix|set ?up|install|build)|instructions for)\b`)
	storyAskRegex  = regexp.MustCompile(`(?i)\b(tell me a story|make up a story|bedtime story|once upon a time)\b`)
	musicAskRegex  = regexp.MustCompile(`(?i)\b(play (some|me)? ?(music|a song)|put on (some )?music|soundscape|playlist)\b`)
	dreamAskRegex  = regexp.MustCompile(`(?i)\b(i (dreamt|dreamed)|i had (a|an|this|that|another)[^.!?]*(dream|nightmare)|my dream|a (weird|strange|recurring) dream|nightmare)s?\b`)
)

const (
	doorwayDreams = "dreams_symbols"
	doorwayGrief  = "grief"
)

// intentRule is one entry in the intent precedence chain.
type intentRule struct {
	name     string
	match    func(in Signals) bool
	intent   string
	mode     string
	sections []string
}

// intentRules is evaluated top to bottom; the first match decides intentType,
// mode and required sections for the turn. Order is load-bearing.
var intentRules = []intentRule{
	{
		name:     "recipe-ask",
		match:    func(in Signals) bool { return recipeAskRegex.MatchString(in.UserText) },
		intent:   IntentRecipe,
		mode:     ModeLongform,
		sections: []string{"ingredients", "steps"},
	},
	{
		name:     "steps-ask",
		match:    func(in Signals) bool { return stepsAskRegex.MatchString(in.UserText) },
		intent:   IntentSteps,
		mode:     ModeLongform,
		sections: []string{"steps"},
	},
	{
		name:     "story-ask",
		match:    func(in Signals) bool { return storyAskRegex.MatchString(in.UserText) },
		intent:   IntentStory,
		mode:     ModeLongform,
		sections: []string{"beginning", "middle", "end"},
	},
	{
		name:   "music-ask",
		match:  func(in Signals) bool { return musicAskRegex.MatchString(in.UserText) },
		intent: IntentMusic,
		mode:   ModeNormal,
	},
	{
		name: "dream",
		match: func(in Signals) bool {
			return dreamAskRegex.MatchString(in.UserText) || in.Doorway.ID() == doorwayDreams
		},
		intent: IntentDream,
		mode:   ModeNormal,
	},
	{
		name:   "grief-doorway",
		match:  func(in Signals) bool { return in.Doorway.ID() == doorwayGrief },
		intent: IntentPresence,
		mode:   ModeNormal,
	},
	{
		name:   "cognitive-help",
		match:  func(in Signals) bool { return in.Cognitive.AsksForHelp },
		intent: IntentClarify,
		mode:   ModeMicro,
	},
	{
		name: "cognitive-emotion",
		match: func(in Signals) bool {
			return in.Cognitive.EmotionalContext != "" && in.Cognitive.EmotionalContext != "neutral"
		},
		intent: IntentPresence,
		mode:   ModeMicro,
	},
	{
		name:   "raw-help",
		match:  func(in Signals) bool { return in.Raw.AsksForHelp },
		intent: IntentClarify,
		mode:   ModeMicro,
	},
	{
		name:   "raw-distress",
		match:  func(in Signals) bool { return in.Raw.HighArousal && in.Raw.LowMood },
		intent: IntentPresence,
		mode:   ModeMicro,
	},
	{
		name:   "default",
		match:  func(Signals) bool { return true },
		intent: IntentOther,
		mode:   ModeMicro,
	},
}

// primaryModeRule is one entry in the primary-mode chain. It sees the already
// resolved intentType and may override the conversational framing entirely.
type primaryModeRule struct {
	name  string
	match func(in Signals, intentType string) bool
	mode  string
}

var primaryModeRules = []primaryModeRule{
	{
		name: "studios",
		match: func(in Signals, intentType string) bool {
			return intentType == IntentMusic || in.Raw.MusicRequest
		},
		mode: PrimaryStudios,
	},
	{
		name:  "onboarding",
		match: func(in Signals, _ string) bool { return in.Onboarding },
		mode:  PrimaryOnboarding,
	},
	{
		name: "dream",
		match: func(in Signals, intentType string) bool {
			return in.Doorway.ID() == doorwayDreams || intentType == IntentDream
		},
		mode: PrimaryDream,
	},
	{
		name:  "activity",
		match: func(in Signals, _ string) bool { return in.ActivityAsked },
		mode:  PrimaryActivity,
	},
	{
		name:  "default",
		match: func(Signals, string) bool { return true },
		mode:  PrimaryConversation,
	},
}

func matchIntent(in Signals) intentRule {
	for _, rule := range intentRules {
		if rule.match(in) {
			return rule
		}
	}
	return intentRules[len(intentRules)-1]
}

func matchPrimaryMode(in Signals, intentType string) primaryModeRule {
	for _, rule := range primaryModeRules {
		if rule.match(in, intentType) {
			return rule
		}
	}
	return primaryModeRules[len(primaryModeRules)-1]
}
