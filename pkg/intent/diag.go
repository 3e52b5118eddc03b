package intent

import "go.uber.org/zap"

// LogDirective emits a structured summary of a synthesized directive and
// flags malformed ones: a missing mode or intent type, or a longform
// directive without the no-truncation guarantee. Diagnostic only; the turn
// proceeds regardless.
func LogDirective(log *zap.Logger, out TraceIntent) {
	if log == nil {
		return
	}
	fields := []zap.Field{
		zap.String("mode", out.Mode),
		zap.String("intent_type", out.IntentType),
		zap.String("primary_mode", out.PrimaryMode),
		zap.Int("allow_questions", out.Constraints.AllowQuestions),
		zap.Int("memory_bullets", len(out.SelectedContext.MemoryBullets)),
		zap.String("doorway_hint", out.SelectedContext.DoorwayHint),
	}
	if out.Constraints.MaxSentences != nil {
		fields = append(fields, zap.Int("max_sentences", *out.Constraints.MaxSentences))
	}
	log.Debug("turn directive", fields...)

	if out.Mode == "" || out.IntentType == "" {
		log.Warn("directive missing mode or intent type",
			zap.String("mode", out.Mode), zap.String("intent_type", out.IntentType))
	}
	if out.Mode == ModeLongform && !out.Constraints.MustNotTruncate {
		log.Warn("longform directive without truncation guard",
			zap.String("intent_type", out.IntentType))
	}
}
