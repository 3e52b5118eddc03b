package convstate

import (
	"regexp"
	"strings"
)

var (
	shortAckRegex = regexp.MustCompile(`(?i)^\s*(ok(ay)?|k|yeah|yep|yes|no|nah|nope|fine|sure|cool|right|true|thanks|thank you|lol|ha+|hm+|mhm+|idk)[\s.!]*$`)

	sentencePunctRegex = regexp.MustCompile(`[.!?]`)

	emotionWordRegex = regexp.MustCompile(`(?i)\b(sad|happy|angry|anxious|scared|afraid|lonely|tired|excited|worried|stressed|frustrated|hurt|numb|grateful|hopeful|ashamed|guilty|jealous|overwhelmed)\b`)

	// Messages matching this pattern force the processing stage regardless of
	// any other rule.
	intensityRegex = regexp.MustCompile(`(?i)\b(overwhelm(?:ed|ing)?|can'?t\s+(?:stop|handle|take)|too much for me|falling apart|breaking down|panic(?:king)?|spiraling)\b`)
)

type topicRule struct {
	pattern *regexp.Regexp
	label   string
}

// topicRules is an ordered list of pattern -> label rules. Every matching
// label is collected, in rule order, not just the first.
var topicRules = []topicRule{
	{regexp.MustCompile(`(?i)\b(work|job|boss|coworker|colleague|office|shift|career|promotion|deadline)\b`), "work"},
	{regexp.MustCompile(`(?i)\b(school|class|classes|homework|exam|exams|teacher|college|university|studying|semester)\b`), "school"},
	{regexp.MustCompile(`(?i)\b(family|mom|dad|mother|father|parents?|sister|brother|daughter|son|kids?|children|grandma|grandpa|aunt|uncle|cousin)\b`), "family"},
	{regexp.MustCompile(`(?i)\b(boyfriend|girlfriend|partner|husband|wife|dating|relationship|friend|friends|friendship)\b`), "relationships"},
	{regexp.MustCompile(`(?i)\b(sleep|insomnia|tired|exhausted|can'?t sleep|awake all night|nap)\b`), "sleep"},
	{regexp.MustCompile(`(?i)\b(anxious|anxiety|nervous|worry|worried|panic)\b`), "anxiety"},
	{regexp.MustCompile(`(?i)\b(sad|depressed|depression|down|crying|cried|tears|hopeless)\b`), "sadness"},
	{regexp.MustCompile(`(?i)\b(stress(?:ed|ful)?|pressure|burn(?:ed|t)? out|burnout)\b`), "stress"},
	{regexp.MustCompile(`(?i)\b(dream(?:s|t|ed)?|nightmare|dreaming)\b`), "dreams"},
	{regexp.MustCompile(`(?i)\b(music|song|songs|playlist|album|band|listening to)\b`), "music"},
	{regexp.MustCompile(`(?i)\b(money|rent|bills?|debt|broke|paycheck|salary|afford|savings)\b`), "finances"},
	{regexp.MustCompile(`(?i)\b(doctor|sick|illness|pain|diagnosis|health|hospital|medication|therapy|therapist)\b`), "health"},
	{regexp.MustCompile(`(?i)\b(break\s?up|broke up|divorce|separated|ex\b|split up)\b`), "breakup"},
	{regexp.MustCompile(`(?i)\b(moving|moved|new city|new job|quit|graduat(?:ed|ing)|retirement|big change|fresh start)\b`), "life-change"},
}

// TopicKeywords extracts all matching topic labels from a message, in rule
// order.
func TopicKeywords(text string) []string {
	var labels []string
	for _, rule := range topicRules {
		if rule.pattern.MatchString(text) {
			labels = append(labels, rule.label)
		}
	}
	return labels
}

// HasContent reports whether a message carries substantive content. Short
// acknowledgments never count; otherwise length, word count, sentence
// punctuation, or an emotion/topic lexicon hit qualifies.
func HasContent(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if shortAckRegex.MatchString(trimmed) {
		return false
	}
	if len([]rune(trimmed)) >= 8 {
		return true
	}
	if len(strings.Fields(trimmed)) >= 2 {
		return true
	}
	if sentencePunctRegex.MatchString(trimmed) {
		return true
	}
	if emotionWordRegex.MatchString(trimmed) {
		return true
	}
	return len(TopicKeywords(trimmed)) > 0
}

// IsIntense reports whether the message matches the emotional-intensity
// lexicon that forces the processing stage.
func IsIntense(text string) bool {
	return intensityRegex.MatchString(text)
}
