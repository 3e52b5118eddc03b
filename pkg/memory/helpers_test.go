package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/keeva-ai/keeva/pkg/providers"
)

var errStoreDown = errors.New("store down")

// fakeStore is an in-memory Store with a switchable failure mode, used to
// exercise the facade's fallback and retry paths without a database.
type fakeStore struct {
	mu      sync.Mutex
	failing bool

	convs  map[string]*Conversation
	msgs   map[string][]Message
	mems   map[string]CoreMemory
	sums   map[string][]SessionSummary
	comps  map[string][]SessionCompression
	resets int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs: make(map[string]*Conversation),
		msgs:  make(map[string][]Message),
		mems:  make(map[string]CoreMemory),
		sums:  make(map[string][]SessionSummary),
		comps: make(map[string][]SessionCompression),
	}
}

func (s *fakeStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) EnsureConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return Conversation{}, errStoreDown
	}
	conv, ok := s.convs[id]
	if !ok {
		conv = &Conversation{ID: id}
		s.convs[id] = conv
	}
	return *conv, nil
}

func (s *fakeStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return Conversation{}, errStoreDown
	}
	conv, ok := s.convs[id]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s not found", id)
	}
	return *conv, nil
}

func (s *fakeStore) RotateSession(_ context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	if conv, ok := s.convs[id]; ok {
		conv.SessionID = sessionID
	}
	return nil
}

func (s *fakeStore) ResetExtractionCounter(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	if conv, ok := s.convs[id]; ok {
		conv.SinceExtraction = 0
	}
	s.resets++
	return nil
}

func (s *fakeStore) ResetSummaryCounter(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	if conv, ok := s.convs[id]; ok {
		conv.SinceSummary = 0
	}
	return nil
}

func (s *fakeStore) SaveMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	id := msg.ConversationID
	s.msgs[id] = append(s.msgs[id], msg)
	conv, ok := s.convs[id]
	if !ok {
		conv = &Conversation{ID: id}
		s.convs[id] = conv
	}
	conv.MessageCount++
	conv.SinceExtraction++
	conv.SinceSummary++
	return nil
}

func (s *fakeStore) RecentMessages(_ context.Context, id string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreDown
	}
	msgs := s.msgs[id]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

func (s *fakeStore) AllMessages(_ context.Context, id string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreDown
	}
	return append([]Message(nil), s.msgs[id]...), nil
}

func (s *fakeStore) MessageCount(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errStoreDown
	}
	return len(s.msgs[id]), nil
}

func (s *fakeStore) CoreMemory(_ context.Context, id string) (CoreMemory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return CoreMemory{}, false, errStoreDown
	}
	mem, ok := s.mems[id]
	return mem, ok, nil
}

func (s *fakeStore) SaveCoreMemory(_ context.Context, id string, mem CoreMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	s.mems[id] = mem
	return nil
}

func (s *fakeStore) SessionSummaries(_ context.Context, id string, limit int) ([]SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreDown
	}
	sums := s.sums[id]
	if len(sums) > limit {
		sums = sums[:limit]
	}
	return append([]SessionSummary(nil), sums...), nil
}

func (s *fakeStore) SaveSessionSummary(_ context.Context, id string, sum SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	s.sums[id] = append([]SessionSummary{sum}, s.sums[id]...)
	return nil
}

func (s *fakeStore) SessionCompressions(_ context.Context, id string, limit int) ([]SessionCompression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreDown
	}
	comps := s.comps[id]
	if len(comps) > limit {
		comps = comps[:limit]
	}
	return append([]SessionCompression(nil), comps...), nil
}

func (s *fakeStore) SaveSessionCompression(_ context.Context, comp SessionCompression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	id := comp.ConversationID
	s.comps[id] = append([]SessionCompression{comp}, s.comps[id]...)
	return nil
}

// stubCompleter returns a canned reply and records what it was asked.
type stubCompleter struct {
	mu         sync.Mutex
	reply      string
	err        error
	calls      int
	lastSystem string
	lastFormat providers.ResponseFormat
}

func (c *stubCompleter) Complete(_ context.Context, system string, _ []providers.Message, format providers.ResponseFormat) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastSystem = system
	c.lastFormat = format
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *stubCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
