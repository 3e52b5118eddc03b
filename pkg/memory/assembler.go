package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/keeva-ai/keeva/pkg/config"
)

// Section priorities, lower is more important.
const (
	sectionCoreMemory = 1
	sectionRecent     = 2
	sectionSummaries  = 3
	sectionCompressed = 4
)

type section struct {
	priority int
	text     string
}

// Assembler builds the memory context block for one turn under a fixed token
// budget. It works in two phases: candidate sections are generated in
// priority order against the remaining budget, then the accepted sections are
// stably sorted by priority and concatenated.
type Assembler struct {
	cfg config.ContextConfig
}

func NewAssembler(cfg config.ContextConfig) *Assembler {
	return &Assembler{cfg: cfg}
}

func (a *Assembler) estimateTokens(text string) int {
	perToken := a.cfg.CharsPerToken
	if perToken <= 0 {
		perToken = 3.5
	}
	return int(math.Ceil(float64(len([]rune(text))) / perToken))
}

// Assemble returns the budgeted context block, or an empty string when
// nothing fit.
func (a *Assembler) Assemble(core CoreMemory, summaries []SessionSummary, recent []Message, trimLevel int, compressions []SessionCompression) string {
	budget := a.cfg.TokenBudget
	if budget <= 0 {
		budget = 2500
	}
	minTruncate := a.cfg.MinTruncateTokens
	if minTruncate <= 0 {
		minTruncate = 50
	}

	candidates := []section{
		{sectionCoreMemory, a.renderCoreMemory(core, trimLevel)},
		{sectionRecent, a.renderRecentMessages(recent, trimLevel)},
		{sectionSummaries, a.renderSummaries(summaries, trimLevel)},
		{sectionCompressed, a.renderCompressions(compressions)},
	}

	used := 0
	accepted := make([]section, 0, len(candidates))
	for _, cand := range candidates {
		if cand.text == "" {
			continue
		}
		tokens := a.estimateTokens(cand.text)
		remaining := budget - used
		if tokens <= remaining {
			accepted = append(accepted, cand)
			used += tokens
			continue
		}
		if remaining >= minTruncate {
			cand.text = a.truncateToTokens(cand.text, remaining) + "…"
			accepted = append(accepted, cand)
		}
		// Budget exhausted either way; no further sections are attempted.
		break
	}

	if len(accepted) == 0 {
		return ""
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].priority < accepted[j].priority
	})

	parts := make([]string, 0, len(accepted))
	for _, sec := range accepted {
		parts = append(parts, sec.text)
	}
	return strings.Join(parts, "\n\n")
}

func (a *Assembler) truncateToTokens(text string, tokens int) string {
	perToken := a.cfg.CharsPerToken
	if perToken <= 0 {
		perToken = 3.5
	}
	maxRunes := int(float64(tokens) * perToken)
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}

func (a *Assembler) renderCoreMemory(core CoreMemory, trimLevel int) string {
	facts := core.UserFacts
	goals := core.Goals
	themes := core.Themes
	pending := core.PendingTopics
	constraints := core.Constraints
	emotions := core.EmotionTimeline
	if trimLevel > 0 {
		facts = lastN(facts, a.cfg.TrimFacts)
		goals = lastN(goals, a.cfg.TrimGoals)
		themes = lastN(themes, a.cfg.TrimThemes)
		pending = lastN(pending, a.cfg.TrimPending)
		constraints = lastN(constraints, a.cfg.TrimConstraints)
		emotions = lastN(emotions, a.cfg.TrimEmotions)
	}

	var b strings.Builder
	writeList := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(header)
		b.WriteString("\n")
		for _, item := range items {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}

	writeList("What I know about them:", facts)

	if len(goals) > 0 {
		b.WriteString("Their goals:\n")
		for _, g := range goals {
			if g.StartedAt != "" {
				fmt.Fprintf(&b, "- %s (since %s)\n", g.Text, g.StartedAt)
			} else {
				fmt.Fprintf(&b, "- %s\n", g.Text)
			}
		}
	}

	writeList("Recurring themes:", themes)
	writeList("Topics to come back to:", pending)

	if len(constraints) > 0 {
		b.WriteString("Known constraints:\n")
		for _, c := range constraints {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Type, c.Description)
		}
	}

	if len(emotions) > 0 {
		b.WriteString("Recent emotional arc: ")
		b.WriteString(strings.Join(emotions, " → "))
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

func (a *Assembler) renderRecentMessages(recent []Message, trimLevel int) string {
	window := a.cfg.MessageLimitFor(trimLevel)
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	userCount := a.cfg.UserMessageCount
	if userCount <= 0 {
		userCount = 5
	}
	var userMsgs []Message
	for _, msg := range recent {
		if msg.Role == "user" {
			userMsgs = append(userMsgs, msg)
		}
	}
	userMsgs = lastN(userMsgs, userCount)
	if len(userMsgs) == 0 {
		return ""
	}

	charLimit := a.cfg.MessageCharLimit
	if charLimit <= 0 {
		charLimit = 120
	}

	var b strings.Builder
	b.WriteString("Recent things they said:\n")
	for _, msg := range userMsgs {
		content := strings.TrimSpace(msg.Content)
		runes := []rune(content)
		if len(runes) > charLimit {
			content = string(runes[:charLimit]) + "..."
		}
		b.WriteString("- ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func (a *Assembler) renderSummaries(summaries []SessionSummary, trimLevel int) string {
	limit := a.cfg.SummaryLimitFor(trimLevel)
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	if len(summaries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Earlier sessions:\n")
	for _, sum := range summaries {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(sum.Summary))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func (a *Assembler) renderCompressions(compressions []SessionCompression) string {
	limit := a.cfg.MaxCompressionBlocks
	if limit <= 0 {
		limit = 2
	}
	if len(compressions) > limit {
		compressions = compressions[:limit]
	}
	if len(compressions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Earlier in our conversations:\n")
	for _, comp := range compressions {
		b.WriteString(strings.TrimSpace(comp.Summary))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
