package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/config"
)

const maxShadowMessages = 400

// shadow mirrors writes in memory so reads can degrade gracefully when the
// backing store is unavailable.
type shadow struct {
	conversation Conversation
	messages     []Message
	memory       *CoreMemory
	summaries    []SessionSummary
	compressions []SessionCompression
}

type pendingWrite struct {
	kind        string // "message" | "core_memory" | "summary" | "compression"
	message     Message
	memory      CoreMemory
	summary     SessionSummary
	compression SessionCompression
}

// Facade fronts the Store with a fast-path cache, an in-memory fallback, and
// a pending-write queue. Write failures are absorbed: the write lands in the
// shadow and a retry record, and is replayed on the next access to the same
// conversation. There is no background retry timer.
type Facade struct {
	store Store
	log   *zap.Logger

	memCache *expirable.LRU[string, CoreMemory]
	sumCache *expirable.LRU[string, []SessionSummary]

	mu      sync.Mutex
	shadows map[string]*shadow
	pending map[string][]pendingWrite
}

func NewFacade(store Store, cfg config.MemoryConfig, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Facade{
		store:    store,
		log:      log,
		memCache: expirable.NewLRU[string, CoreMemory](size, nil, ttl),
		sumCache: expirable.NewLRU[string, []SessionSummary](size, nil, ttl),
		shadows:  make(map[string]*shadow),
		pending:  make(map[string][]pendingWrite),
	}
}

func (f *Facade) Close() error { return f.store.Close() }

func (f *Facade) shadowFor(id string) *shadow {
	sh, ok := f.shadows[id]
	if !ok {
		sh = &shadow{}
		f.shadows[id] = sh
	}
	return sh
}

// drainPending replays queued writes for one conversation, stopping at the
// first failure so ordering is preserved.
func (f *Facade) drainPending(ctx context.Context, id string) {
	f.mu.Lock()
	queue := f.pending[id]
	if len(queue) == 0 {
		f.mu.Unlock()
		return
	}
	delete(f.pending, id)
	f.mu.Unlock()

	for i, w := range queue {
		var err error
		switch w.kind {
		case "message":
			err = f.store.SaveMessage(ctx, w.message)
		case "core_memory":
			err = f.store.SaveCoreMemory(ctx, id, w.memory)
		case "summary":
			err = f.store.SaveSessionSummary(ctx, id, w.summary)
		case "compression":
			err = f.store.SaveSessionCompression(ctx, w.compression)
		}
		if err != nil {
			remaining := append([]pendingWrite(nil), queue[i:]...)
			f.mu.Lock()
			f.pending[id] = append(remaining, f.pending[id]...)
			f.mu.Unlock()
			f.log.Warn("pending write replay halted",
				zap.String("conversation_id", id),
				zap.Int("remaining", len(queue)-i),
				zap.Error(err))
			return
		}
	}
	f.log.Info("pending writes replayed",
		zap.String("conversation_id", id),
		zap.Int("count", len(queue)))
}

// RetryPending replays queued writes for every conversation that has any.
// Called from the engine maintenance pass; drains also happen on access.
func (f *Facade) RetryPending(ctx context.Context) {
	f.mu.Lock()
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.drainPending(ctx, id)
	}
}

// PendingCount reports queued writes for a conversation.
func (f *Facade) PendingCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[id])
}

func (f *Facade) enqueue(id string, w pendingWrite, cause error) {
	f.mu.Lock()
	f.pending[id] = append(f.pending[id], w)
	n := len(f.pending[id])
	f.mu.Unlock()
	f.log.Warn("write failed, queued for retry",
		zap.String("conversation_id", id),
		zap.String("kind", w.kind),
		zap.Int("queued", n),
		zap.Error(cause))
}

func (f *Facade) EnsureConversation(ctx context.Context, id string) (Conversation, error) {
	f.drainPending(ctx, id)
	conv, err := f.store.EnsureConversation(ctx, id)
	if err != nil {
		f.mu.Lock()
		sh := f.shadowFor(id)
		if sh.conversation.ID == "" {
			sh.conversation = Conversation{ID: id, CreatedAt: time.Now()}
		}
		conv = sh.conversation
		f.mu.Unlock()
		f.log.Warn("ensure conversation fell back to memory", zap.String("conversation_id", id), zap.Error(err))
		return conv, nil
	}
	f.mu.Lock()
	f.shadowFor(id).conversation = conv
	f.mu.Unlock()
	return conv, nil
}

func (f *Facade) GetConversation(ctx context.Context, id string) (Conversation, error) {
	f.drainPending(ctx, id)
	conv, err := f.store.GetConversation(ctx, id)
	if err != nil {
		f.mu.Lock()
		conv = f.shadowFor(id).conversation
		f.mu.Unlock()
		return conv, nil
	}
	return conv, nil
}

func (f *Facade) RotateSession(ctx context.Context, id, sessionID string) error {
	f.mu.Lock()
	sh := f.shadowFor(id)
	sh.conversation.SessionID = sessionID
	f.mu.Unlock()
	if err := f.store.RotateSession(ctx, id, sessionID); err != nil {
		f.log.Warn("rotate session failed", zap.String("conversation_id", id), zap.Error(err))
	}
	return nil
}

func (f *Facade) ResetExtractionCounter(ctx context.Context, id string) error {
	f.mu.Lock()
	f.shadowFor(id).conversation.SinceExtraction = 0
	f.mu.Unlock()
	return f.store.ResetExtractionCounter(ctx, id)
}

func (f *Facade) ResetSummaryCounter(ctx context.Context, id string) error {
	f.mu.Lock()
	f.shadowFor(id).conversation.SinceSummary = 0
	f.mu.Unlock()
	return f.store.ResetSummaryCounter(ctx, id)
}

func (f *Facade) SaveMessage(ctx context.Context, msg Message) error {
	id := msg.ConversationID
	f.drainPending(ctx, id)

	f.mu.Lock()
	sh := f.shadowFor(id)
	sh.messages = append(sh.messages, msg)
	if len(sh.messages) > maxShadowMessages {
		sh.messages = sh.messages[len(sh.messages)-maxShadowMessages:]
	}
	sh.conversation.MessageCount++
	sh.conversation.SinceExtraction++
	sh.conversation.SinceSummary++
	f.mu.Unlock()

	if err := f.store.SaveMessage(ctx, msg); err != nil {
		f.enqueue(id, pendingWrite{kind: "message", message: msg}, err)
	}
	return nil
}

func (f *Facade) RecentMessages(ctx context.Context, id string, limit int) ([]Message, error) {
	f.drainPending(ctx, id)
	msgs, err := f.store.RecentMessages(ctx, id, limit)
	if err != nil {
		f.mu.Lock()
		sh := f.shadowFor(id)
		if len(sh.messages) > limit {
			msgs = append([]Message(nil), sh.messages[len(sh.messages)-limit:]...)
		} else {
			msgs = append([]Message(nil), sh.messages...)
		}
		f.mu.Unlock()
		f.log.Warn("recent messages fell back to memory", zap.String("conversation_id", id), zap.Error(err))
		return msgs, nil
	}
	return msgs, nil
}

func (f *Facade) AllMessages(ctx context.Context, id string) ([]Message, error) {
	f.drainPending(ctx, id)
	msgs, err := f.store.AllMessages(ctx, id)
	if err != nil {
		f.mu.Lock()
		msgs = append([]Message(nil), f.shadowFor(id).messages...)
		f.mu.Unlock()
		return msgs, nil
	}
	return msgs, nil
}

func (f *Facade) MessageCount(ctx context.Context, id string) (int, error) {
	f.drainPending(ctx, id)
	count, err := f.store.MessageCount(ctx, id)
	if err != nil {
		f.mu.Lock()
		count = f.shadowFor(id).conversation.MessageCount
		f.mu.Unlock()
		return count, nil
	}
	return count, nil
}

func (f *Facade) CoreMemory(ctx context.Context, id string) (CoreMemory, bool, error) {
	if mem, ok := f.memCache.Get(id); ok {
		return mem, true, nil
	}
	f.drainPending(ctx, id)

	mem, ok, err := f.store.CoreMemory(ctx, id)
	if err != nil {
		f.mu.Lock()
		sh := f.shadowFor(id)
		if sh.memory != nil {
			mem, ok = *sh.memory, true
		}
		f.mu.Unlock()
		f.log.Warn("core memory read fell back to memory", zap.String("conversation_id", id), zap.Error(err))
		return mem, ok, nil
	}
	if ok {
		f.memCache.Add(id, mem)
	}
	return mem, ok, nil
}

func (f *Facade) SaveCoreMemory(ctx context.Context, id string, mem CoreMemory) error {
	f.drainPending(ctx, id)

	f.mu.Lock()
	cp := mem
	f.shadowFor(id).memory = &cp
	f.mu.Unlock()
	f.memCache.Add(id, mem)

	if err := f.store.SaveCoreMemory(ctx, id, mem); err != nil {
		f.enqueue(id, pendingWrite{kind: "core_memory", memory: mem}, err)
	}
	return nil
}

func (f *Facade) SessionSummaries(ctx context.Context, id string, limit int) ([]SessionSummary, error) {
	if sums, ok := f.sumCache.Get(id); ok && len(sums) >= limit {
		return sums[:limit], nil
	}
	f.drainPending(ctx, id)

	sums, err := f.store.SessionSummaries(ctx, id, limit)
	if err != nil {
		f.mu.Lock()
		sh := f.shadowFor(id)
		if len(sh.summaries) > limit {
			sums = append([]SessionSummary(nil), sh.summaries[:limit]...)
		} else {
			sums = append([]SessionSummary(nil), sh.summaries...)
		}
		f.mu.Unlock()
		return sums, nil
	}
	f.sumCache.Add(id, sums)
	return sums, nil
}

func (f *Facade) SaveSessionSummary(ctx context.Context, id string, sum SessionSummary) error {
	f.drainPending(ctx, id)

	f.mu.Lock()
	sh := f.shadowFor(id)
	// Most recent first, keep the fast-path view small.
	sh.summaries = append([]SessionSummary{sum}, sh.summaries...)
	if len(sh.summaries) > 3 {
		sh.summaries = sh.summaries[:3]
	}
	f.mu.Unlock()
	f.sumCache.Remove(id)

	if err := f.store.SaveSessionSummary(ctx, id, sum); err != nil {
		f.enqueue(id, pendingWrite{kind: "summary", summary: sum}, err)
	}
	return nil
}

func (f *Facade) SessionCompressions(ctx context.Context, id string, limit int) ([]SessionCompression, error) {
	f.drainPending(ctx, id)
	comps, err := f.store.SessionCompressions(ctx, id, limit)
	if err != nil {
		f.mu.Lock()
		sh := f.shadowFor(id)
		if len(sh.compressions) > limit {
			comps = append([]SessionCompression(nil), sh.compressions[:limit]...)
		} else {
			comps = append([]SessionCompression(nil), sh.compressions...)
		}
		f.mu.Unlock()
		return comps, nil
	}
	return comps, nil
}

func (f *Facade) SaveSessionCompression(ctx context.Context, comp SessionCompression) error {
	id := comp.ConversationID
	f.drainPending(ctx, id)

	f.mu.Lock()
	sh := f.shadowFor(id)
	sh.compressions = append([]SessionCompression{comp}, sh.compressions...)
	if len(sh.compressions) > 4 {
		sh.compressions = sh.compressions[:4]
	}
	f.mu.Unlock()

	if err := f.store.SaveSessionCompression(ctx, comp); err != nil {
		f.enqueue(id, pendingWrite{kind: "compression", compression: comp}, err)
	}
	return nil
}
