// Package engine orchestrates one conversational turn end to end: state
// advance, memory context assembly, directive synthesis, reply generation,
// and the background memory operations that follow.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/bus"
	"github.com/keeva-ai/keeva/pkg/config"
	"github.com/keeva-ai/keeva/pkg/convstate"
	"github.com/keeva-ai/keeva/pkg/intent"
	"github.com/keeva-ai/keeva/pkg/memory"
	"github.com/keeva-ai/keeva/pkg/providers"
)

// A session rotates after this much quiet time.
const sessionIdleGap = 30 * time.Minute

const backgroundOpTimeout = 2 * time.Minute

// Turn is one inbound user turn.
type Turn struct {
	ConversationID string
	Content        string
}

// Reply is the synthesized response plus the directive that shaped it.
type Reply struct {
	Content   string
	Directive intent.TraceIntent
}

// SignalFunc produces the detector signals for a turn. The default wires the
// conversation-state snapshot through; deployments plug richer detectors in.
type SignalFunc func(conversationID, userText string, snap convstate.Snapshot) intent.Signals

type Engine struct {
	cfg       *config.Config
	states    *convstate.Store
	facade    *memory.Facade
	manager   *memory.Manager
	comp      *memory.Compressor
	assembler *memory.Assembler
	completer providers.Completer
	signals   SignalFunc
	log       *zap.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	closeOnce sync.Once
}

func New(cfg *config.Config, store memory.Store, completer providers.Completer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	locks := memory.NewOpLocks()
	facade := memory.NewFacade(store, cfg.Memory, log)
	bgCtx, bgCancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		states:    convstate.NewStore(cfg.State, log),
		facade:    facade,
		manager:   memory.NewManager(facade, completer, locks, cfg.Memory, log),
		comp:      memory.NewCompressor(facade, completer, locks, cfg.Compression, log),
		assembler: memory.NewAssembler(cfg.Context),
		completer: completer,
		log:       log.Named("engine"),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
	e.signals = e.defaultSignals
	return e
}

// SetSignalFunc replaces the detector wiring. Call before serving turns.
func (e *Engine) SetSignalFunc(fn SignalFunc) {
	if fn != nil {
		e.signals = fn
	}
}

func (e *Engine) defaultSignals(_, userText string, snap convstate.Snapshot) intent.Signals {
	return intent.Signals{
		UserText:      userText,
		DetectedState: string(snap.Stage),
	}
}

// HandleTurn runs one full turn. Memory-layer failures degrade to a smaller
// context; only a failed reply completion is surfaced to the caller.
func (e *Engine) HandleTurn(ctx context.Context, turn Turn) (Reply, error) {
	id := turn.ConversationID
	content := strings.TrimSpace(turn.Content)
	if id == "" || content == "" {
		return Reply{}, fmt.Errorf("turn needs a conversation id and content")
	}

	conv, err := e.facade.EnsureConversation(ctx, id)
	if err != nil {
		return Reply{}, fmt.Errorf("ensuring conversation: %w", err)
	}
	sessionID, sessionRotated := e.resolveSession(ctx, conv, e.lastMessageAt(ctx, id))

	if err := e.facade.SaveMessage(ctx, memory.Message{
		ConversationID: id,
		SessionID:      sessionID,
		Role:           "user",
		Content:        content,
		CreatedAt:      time.Now(),
	}); err != nil {
		e.log.Warn("user message not saved", zap.String("conversation_id", id), zap.Error(err))
	}

	adv := e.states.Advance(id, content)
	snap := e.states.Snapshot(id)

	directive := intent.Synthesize(e.signals(id, content, snap))
	if e.cfg.Companion.DebugTrace {
		intent.LogDirective(e.log, directive)
	}

	memoryContext := e.buildContext(ctx, id)

	system := buildSystemPrompt(directive, memoryContext, snap)
	recent, _ := e.facade.RecentMessages(ctx, id, e.cfg.Context.MessageLimitFor(0))
	answer, err := e.completer.Complete(ctx, system, historyMessages(recent), providers.FormatText)
	if err != nil {
		return Reply{}, fmt.Errorf("completing reply: %w", err)
	}
	answer = strings.TrimSpace(answer)

	if err := e.facade.SaveMessage(ctx, memory.Message{
		ConversationID: id,
		SessionID:      sessionID,
		Role:           "assistant",
		Content:        answer,
		CreatedAt:      time.Now(),
	}); err != nil {
		e.log.Warn("assistant message not saved", zap.String("conversation_id", id), zap.Error(err))
	}

	e.scheduleBackground(id, sessionID, sessionRotated)

	e.log.Debug("turn handled",
		zap.String("conversation_id", id),
		zap.String("stage", string(adv.Stage)),
		zap.Strings("keywords", adv.Keywords),
		zap.String("mode", directive.Mode))

	return Reply{Content: answer, Directive: directive}, nil
}

// lastMessageAt returns when the conversation last saw a message, or the
// zero time when it has none.
func (e *Engine) lastMessageAt(ctx context.Context, id string) time.Time {
	msgs, err := e.facade.RecentMessages(ctx, id, 1)
	if err != nil || len(msgs) == 0 {
		return time.Time{}
	}
	return msgs[len(msgs)-1].CreatedAt
}

// resolveSession assigns a session id on first contact and rotates it after
// a long quiet gap. The gap is measured against the last stored message; the
// conversation record's updated_at is touched on every turn and would never
// show the gap.
func (e *Engine) resolveSession(ctx context.Context, conv memory.Conversation, lastMessageAt time.Time) (string, bool) {
	if conv.SessionID != "" && !lastMessageAt.IsZero() && time.Since(lastMessageAt) < sessionIdleGap {
		return conv.SessionID, false
	}
	rotated := conv.SessionID != ""
	sessionID := "sess-" + uuid.NewString()
	if err := e.facade.RotateSession(ctx, conv.ID, sessionID); err != nil {
		e.log.Warn("session rotation failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	return sessionID, rotated
}

func (e *Engine) trimLevel(messageCount int) int {
	switch {
	case messageCount >= e.cfg.Context.TrimLevel2After:
		return 2
	case messageCount >= e.cfg.Context.TrimLevel1After:
		return 1
	default:
		return 0
	}
}

func (e *Engine) buildContext(ctx context.Context, id string) string {
	total, err := e.facade.MessageCount(ctx, id)
	if err != nil {
		total = 0
	}
	trim := e.trimLevel(total)

	core, _, _ := e.facade.CoreMemory(ctx, id)
	summaries, _ := e.facade.SessionSummaries(ctx, id, e.cfg.Context.SummaryLimitFor(trim))
	recent, _ := e.facade.RecentMessages(ctx, id, e.cfg.Context.MessageLimitFor(trim))
	compressions, _ := e.facade.SessionCompressions(ctx, id, e.cfg.Context.MaxCompressionBlocks)

	return e.assembler.Assemble(core, summaries, recent, trim, compressions)
}

// scheduleBackground kicks off extraction, summarization and compression as
// needed. The single-flight locks make overlapping turns safe.
func (e *Engine) scheduleBackground(id, sessionID string, sessionRotated bool) {
	conv, err := e.facade.GetConversation(e.bgCtx, id)
	if err != nil {
		return
	}
	recent, err := e.facade.RecentMessages(e.bgCtx, id, e.cfg.Context.MessageLimitFor(0))
	if err != nil {
		return
	}

	if e.manager.ShouldExtract(conv, recent) {
		e.spawn(func(ctx context.Context) {
			if err := e.manager.RunExtraction(ctx, id, recent); err != nil {
				e.log.Warn("background extraction failed", zap.String("conversation_id", id), zap.Error(err))
			}
		})
	}
	if e.manager.ShouldSummarize(conv, sessionRotated) {
		e.spawn(func(ctx context.Context) {
			if err := e.manager.RunSessionSummary(ctx, id, sessionID, recent); err != nil {
				e.log.Warn("background summary failed", zap.String("conversation_id", id), zap.Error(err))
			}
		})
	}
	if e.comp.ShouldCompress(e.bgCtx, id) {
		e.spawn(func(ctx context.Context) {
			if _, err := e.comp.Compress(ctx, id); err != nil {
				e.log.Warn("background compression failed", zap.String("conversation_id", id), zap.Error(err))
			}
		})
	}
}

func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(e.bgCtx, backgroundOpTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Serve consumes inbound turns from the bus until the context ends, replying
// on the outbound side. Runs in the caller's goroutine.
func (e *Engine) Serve(ctx context.Context, turnBus *bus.TurnBus) {
	for {
		turn, ok := turnBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		reply, err := e.HandleTurn(ctx, Turn{ConversationID: turn.ConversationID, Content: turn.Content})
		if err != nil {
			e.log.Error("turn failed", zap.String("conversation_id", turn.ConversationID), zap.Error(err))
			continue
		}
		turnBus.PublishOutbound(bus.OutboundReply{
			Channel:        turn.Channel,
			ConversationID: turn.ConversationID,
			ChatID:         turn.ChatID,
			Content:        reply.Content,
		})
	}
}

// States exposes the conversation-state store for callers that track runs
// and followups.
func (e *Engine) States() *convstate.Store { return e.states }

// Close stops background work and releases the store. Idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.bgCancel()
		e.bg.Wait()
		err = e.facade.Close()
	})
	return err
}

func historyMessages(msgs []memory.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		out = append(out, providers.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}
