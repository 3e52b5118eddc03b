package intent

// Bullet caps on the selected context.
const (
	maxMemoryBullets   = 6
	maxPatternBullets  = 4
	maxActivityBullets = 2
)

// Synthesize fuses one turn's signals into a directive. Pure function: no
// I/O, no mutation of its inputs.
func Synthesize(in Signals) TraceIntent {
	out := NewTraceIntent()
	out.Signals = in
	out.Posture = in.Posture
	out.DetectedState = in.DetectedState

	if in.Crisis {
		out.Mode = ModeCrisis
		out.IntentType = IntentCrisis
		out.PrimaryMode = PrimaryCrisis
		out.Constraints.MaxSentences = nil
		out.Constraints.AllowQuestions = 0
		out.Constraints.AllowActivities = "never"
		return out
	}

	rule := matchIntent(in)
	out.IntentType = rule.intent
	out.Mode = rule.mode

	out.PrimaryMode = matchPrimaryMode(in, out.IntentType).mode
	if out.PrimaryMode == PrimaryStudios {
		out.Constraints.AllowActivities = "never"
		out.Constraints.SuppressSoundscapes = true
		out.Constraints.CapabilityDirective = studiosDirective
	}

	switch out.Mode {
	case ModeMicro:
		two := 2
		out.Constraints.MaxSentences = &two
		out.Constraints.AllowQuestions = 1
	case ModeNormal:
		out.Constraints.MaxSentences = nil
		out.Constraints.AllowQuestions = 1
	case ModeLongform:
		out.Constraints.MaxSentences = nil
		out.Constraints.AllowQuestions = 0
		out.Constraints.MustNotTruncate = true
		out.Constraints.RequiredSections = append([]string(nil), rule.sections...)
	}

	out.SelectedContext = SelectedContext{
		MemoryBullets:   stringListOf(in.MemoryBullets, maxMemoryBullets),
		PatternBullets:  stringListOf(in.PatternBullets, maxPatternBullets),
		DreamBullet:     firstStringOf(in.DreamBullet),
		ActivityBullets: stringListOf(in.ActivityBullets, maxActivityBullets),
		DoorwayHint:     in.Doorway.ID(),
	}
	return out
}

// stringListOf normalizes a detector-provided value into a capped string
// list. Anything that is not a string collection becomes empty.
func stringListOf(v any, limit int) []string {
	var out []string
	switch items := v.(type) {
	case []string:
		out = append(out, items...)
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case nil:
		return nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func firstStringOf(v any) string {
	switch item := v.(type) {
	case string:
		return item
	case []string:
		if len(item) > 0 {
			return item[0]
		}
	case []any:
		if len(item) > 0 {
			if s, ok := item[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
