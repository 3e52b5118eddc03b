package memory

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/config"
	"github.com/keeva-ai/keeva/pkg/providers"
)

// Self-disclosure lexicon for the extraction importance heuristic. A message
// matching two or more patterns, or running past 100 characters, signals that
// something worth remembering was probably said.
var disclosurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy\s+(name|wife|husband|partner|boyfriend|girlfriend|daughter|son|mom|dad|mother|father|sister|brother|best friend|friend)\b`),
	regexp.MustCompile(`(?i)\bi\s+(just|recently|finally)\b`),
	regexp.MustCompile(`(?i)\b(got married|got engaged|moved|new job|lost my job|quit|got fired|graduated|broke up|divorced|pregnant|passed away|died|funeral)\b`),
	regexp.MustCompile(`(?i)\b(diagnos\w+|therap\w+|depress\w+|anxiet\w+|adhd|insomnia|medication)\b`),
	regexp.MustCompile(`(?i)\bi\s+(love|hate|can'?t stand|really want|always|never)\b`),
	regexp.MustCompile(`(?i)\b(i'?m going to|i plan to|i'?ll|next (week|month|year))\b`),
	regexp.MustCompile(`(?i)\b(my goal|i want to|i'?m trying to|i hope to)\b`),
}

const importanceCharThreshold = 100

const extractionSystemPrompt = `You maintain long-term memory about one person from their conversation.
Read the messages and return ONLY a JSON object with these keys:
"user_facts" (array of short strings), "goals" (array of {"text","started_at"}),
"constraints" (array of {"type","description"} where type is one of
time|money|health|family|work|other), "commitments" (array of strings),
"themes" (array of strings), "pending_topics" (array of strings),
"emotion_timeline" (array of short strings, oldest first),
"contradictions" (array of strings).
Only include things the person actually said about themselves. Keep entries short.
Return an empty array for anything not present.`

const sessionSummarySystemPrompt = `Summarize this conversation session in 2-4 sentences.
Preserve names, decisions, emotional tone, and anything the person asked to come back to.
Write plain prose, no headers or bullets.`

// Manager owns core-memory extraction and session summarization: when they
// run, how raw output is validated, and how it merges into existing memory.
type Manager struct {
	facade    *Facade
	completer providers.Completer
	locks     *OpLocks
	cfg       config.MemoryConfig
	log       *zap.Logger
}

func NewManager(facade *Facade, completer providers.Completer, locks *OpLocks, cfg config.MemoryConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{facade: facade, completer: completer, locks: locks, cfg: cfg, log: log}
}

// ShouldExtract reports whether enough has accumulated since the last
// extraction. Either the plain counter threshold is met, or a lower threshold
// combines with an importance signal in the recent user messages.
func (m *Manager) ShouldExtract(conv Conversation, recent []Message) bool {
	if conv.SinceExtraction >= m.cfg.ExtractEveryMessages {
		return true
	}
	if conv.SinceExtraction >= m.cfg.ExtractMinMessages && hasImportanceSignal(recent) {
		return true
	}
	return false
}

// ShouldSummarize reports whether a session summary should run now.
func (m *Manager) ShouldSummarize(conv Conversation, sessionRotated bool) bool {
	if sessionRotated {
		return true
	}
	return conv.SinceSummary >= m.cfg.SummaryEveryMessages
}

func hasImportanceSignal(recent []Message) bool {
	userSeen := 0
	for i := len(recent) - 1; i >= 0 && userSeen < 5; i-- {
		msg := recent[i]
		if msg.Role != "user" {
			continue
		}
		userSeen++
		if len(msg.Content) > importanceCharThreshold {
			return true
		}
		hits := 0
		for _, p := range disclosurePatterns {
			if p.MatchString(msg.Content) {
				hits++
				if hits >= 2 {
					return true
				}
			}
		}
	}
	return false
}

// RunExtraction extracts core memory from recent messages and merges it into
// the stored memory. It is a silent no-op when another extraction is already
// in flight for the conversation. A malformed completion aborts without
// touching existing memory or the trigger counter.
func (m *Manager) RunExtraction(ctx context.Context, conversationID string, recent []Message) error {
	if !m.locks.TryAcquire(conversationID, OpExtraction) {
		m.log.Info("extraction already in flight, skipping",
			zap.String("conversation_id", conversationID))
		return nil
	}
	defer m.locks.Release(conversationID, OpExtraction)

	raw, err := m.completer.Complete(ctx, extractionSystemPrompt, transcriptMessages(recent), providers.FormatJSON)
	if err != nil {
		m.log.Warn("extraction completion failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return err
	}

	extracted, err := m.Validate([]byte(raw))
	if err != nil {
		m.log.Warn("extraction payload rejected",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return err
	}
	if extracted.IsEmpty() {
		// A clean-but-empty extraction still counts as a completed pass.
		return m.facade.ResetExtractionCounter(ctx, conversationID)
	}

	existing, _, err := m.facade.CoreMemory(ctx, conversationID)
	if err != nil {
		return err
	}
	merged := m.Merge(existing, extracted)
	if err := m.facade.SaveCoreMemory(ctx, conversationID, merged); err != nil {
		return err
	}
	m.log.Debug("core memory updated",
		zap.String("conversation_id", conversationID),
		zap.Int("facts", len(merged.UserFacts)),
		zap.Int("goals", len(merged.Goals)))
	return m.facade.ResetExtractionCounter(ctx, conversationID)
}

// RunSessionSummary generates and stores a short session recap. Silent no-op
// when a summary is already in flight.
func (m *Manager) RunSessionSummary(ctx context.Context, conversationID, sessionID string, recent []Message) error {
	if !m.locks.TryAcquire(conversationID, OpSummary) {
		m.log.Info("summary already in flight, skipping",
			zap.String("conversation_id", conversationID))
		return nil
	}
	defer m.locks.Release(conversationID, OpSummary)

	summary, err := m.completer.Complete(ctx, sessionSummarySystemPrompt, transcriptMessages(recent), providers.FormatText)
	if err != nil {
		m.log.Warn("session summary failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return providers.ErrEmptyCompletion
	}

	if err := m.facade.SaveSessionSummary(ctx, conversationID, SessionSummary{
		SessionID: sessionID,
		Summary:   summary,
		UpdatedAt: time.Now(),
	}); err != nil {
		return err
	}
	return m.facade.ResetSummaryCounter(ctx, conversationID)
}

func transcriptMessages(msgs []Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		out = append(out, providers.Message{Role: msg.Role, Content: content})
	}
	return out
}

// Validate parses a raw extraction payload into a CoreMemory, keeping only
// correctly shaped elements and slicing every list to its cap. The emotion
// timeline keeps the most recent entries rather than the first.
func (m *Manager) Validate(raw []byte) (CoreMemory, error) {
	trimmed := strings.TrimSpace(string(raw))
	// Tolerate fenced output from the completion service.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return CoreMemory{}, ErrMalformedExtraction
	}

	mem := CoreMemory{
		UserFacts:       stringList(payload["user_facts"], m.cfg.MaxUserFacts, false),
		Goals:           goalList(payload["goals"], m.cfg.MaxGoals),
		Constraints:     constraintList(payload["constraints"], m.cfg.MaxConstraints),
		Commitments:     stringList(payload["commitments"], m.cfg.MaxCommitments, false),
		Themes:          stringList(payload["themes"], m.cfg.MaxThemes, false),
		PendingTopics:   stringList(payload["pending_topics"], m.cfg.MaxPendingTopics, false),
		EmotionTimeline: stringList(payload["emotion_timeline"], m.cfg.MaxEmotionEntries, true),
		Contradictions:  stringList(payload["contradictions"], m.cfg.MaxContradictions, false),
		UpdatedAt:       time.Now(),
	}
	return mem, nil
}

func stringList(raw json.RawMessage, limit int, keepLast bool) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) <= limit {
		return out
	}
	if keepLast {
		return out[len(out)-limit:]
	}
	return out[:limit]
}

func goalList(raw json.RawMessage, limit int) []Goal {
	if len(raw) == 0 {
		return nil
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Goal, 0, len(items))
	for _, item := range items {
		text, _ := item["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		started, _ := item["started_at"].(string)
		out = append(out, Goal{Text: text, StartedAt: started})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func constraintList(raw json.RawMessage, limit int) []Constraint {
	if len(raw) == 0 {
		return nil
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Constraint, 0, len(items))
	for _, item := range items {
		desc, _ := item["description"].(string)
		desc = strings.TrimSpace(desc)
		if desc == "" {
			continue
		}
		typ, _ := item["type"].(string)
		out = append(out, Constraint{Type: normalizeConstraintType(typ), Description: desc})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalizeConstraintType(typ string) string {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case ConstraintTime, ConstraintMoney, ConstraintHealth, ConstraintFamily, ConstraintWork:
		return strings.ToLower(strings.TrimSpace(typ))
	default:
		return ConstraintOther
	}
}

// Merge folds extracted memory into existing memory. Facts, themes and
// pending topics deduplicate (pending topics case-insensitively) and keep the
// most recent entries when over limit. Goals, constraints, commitments, the
// emotion timeline and contradictions append without dedup; a re-extracted
// identical goal stays duplicated until the limit evicts it.
func (m *Manager) Merge(existing, extracted CoreMemory) CoreMemory {
	return CoreMemory{
		UserFacts:       mergeDedup(existing.UserFacts, extracted.UserFacts, false, m.cfg.MaxUserFacts),
		Themes:          mergeDedup(existing.Themes, extracted.Themes, false, m.cfg.MaxThemes),
		PendingTopics:   mergeDedup(existing.PendingTopics, extracted.PendingTopics, true, m.cfg.MaxPendingTopics),
		Goals:           lastN(append(append([]Goal(nil), existing.Goals...), extracted.Goals...), m.cfg.MaxGoals),
		Constraints:     lastN(append(append([]Constraint(nil), existing.Constraints...), extracted.Constraints...), m.cfg.MaxConstraints),
		Commitments:     lastN(append(append([]string(nil), existing.Commitments...), extracted.Commitments...), m.cfg.MaxCommitments),
		EmotionTimeline: lastN(append(append([]string(nil), existing.EmotionTimeline...), extracted.EmotionTimeline...), m.cfg.MaxEmotionEntries),
		Contradictions:  lastN(append(append([]string(nil), existing.Contradictions...), extracted.Contradictions...), m.cfg.MaxContradictions),
		UpdatedAt:       time.Now(),
	}
}

func mergeDedup(existing, extracted []string, foldCase bool, limit int) []string {
	merged := append([]string(nil), existing...)
	for _, candidate := range extracted {
		if !containsString(merged, candidate, foldCase) {
			merged = append(merged, candidate)
		}
	}
	return lastN(merged, limit)
}

func containsString(haystack []string, needle string, foldCase bool) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
		if foldCase && strings.EqualFold(item, needle) {
			return true
		}
	}
	return false
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
