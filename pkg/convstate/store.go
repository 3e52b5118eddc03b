package convstate

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/config"
)

// Store owns all conversation states for one process. Eviction of idle states
// happens only through SweepIdle, which a scheduler calls; reads never evict
// whole states. Active runs and pending followups expire lazily at read time.
type Store struct {
	mu     sync.Mutex
	states map[string]*State
	cfg    config.StateConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewStore(cfg config.StateConfig, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		states: make(map[string]*State),
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// SetClock replaces the store clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) getOrCreateLocked(id string) *State {
	st, ok := s.states[id]
	if !ok {
		st = &State{
			Stage:        StageArrival,
			LastAccessed: s.now(),
		}
		s.states[id] = st
	}
	return st
}

// GetOrCreate returns a snapshot of the conversation's state, creating it
// with defaults on first access.
func (s *Store) GetOrCreate(id string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(id)
	st.LastAccessed = s.now()
	return snapshotLocked(st)
}

// Advance applies one user turn to the stage machine and returns whether the
// message carried substantive content.
//
// Rule order per turn:
//  1. three or more completed turns while still in arrival/opening force
//     sharing, even without content;
//  2. a content-bearing message moves arrival/opening to sharing and sharing
//     to exploring;
//  3. an emotional-intensity match forces processing unconditionally, last.
func (s *Store) Advance(id, userText string) AdvanceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(id)
	st.LastAccessed = s.now()

	content := HasContent(userText)
	keywords := TopicKeywords(userText)
	if len(keywords) > 0 {
		st.LastTopicKeywords = keywords
		st.TopicEstablished = true
	}

	if st.TurnCount >= 3 && (st.Stage == StageArrival || st.Stage == StageOpening) {
		st.Stage = StageSharing
		st.LastMoveType = "auto_advance"
	}

	if content {
		switch st.Stage {
		case StageArrival, StageOpening:
			st.Stage = StageSharing
			st.LastMoveType = "content_advance"
		case StageSharing:
			st.Stage = StageExploring
			st.LastMoveType = "content_advance"
		}
	}

	if IsIntense(userText) {
		st.Stage = StageProcessing
		st.LastMoveType = "intensity_override"
	}

	st.TurnCount++

	return AdvanceResult{
		ContentDetected: content,
		Stage:           st.Stage,
		Keywords:        keywords,
	}
}

// Snapshot returns a read-only copy of the state, resolving lazy expiry of
// the run and followup first so the snapshot never reports stale trackers.
func (s *Store) Snapshot(id string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(id)
	s.expireTrackersLocked(id, st)
	return snapshotLocked(st)
}

func snapshotLocked(st *State) Snapshot {
	snap := Snapshot{
		Stage:             st.Stage,
		LastMoveType:      st.LastMoveType,
		TopicEstablished:  st.TopicEstablished,
		TurnCount:         st.TurnCount,
		LastTopicKeywords: append([]string(nil), st.LastTopicKeywords...),
	}
	if st.ActiveRun != nil {
		snap.HasActiveRun = true
		snap.ActiveRunMode = st.ActiveRun.Mode
	}
	if st.PendingFollowup != nil {
		snap.HasFollowup = true
		snap.FollowupType = st.PendingFollowup.Type
	}
	return snap
}

// SetActiveRun starts or refreshes a run. Touching a run of the same mode
// refreshes its last-touched time and replaces the anchor label only when a
// new label is supplied.
func (s *Store) SetActiveRun(id, mode, anchorLabel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(id)
	now := s.now()
	ttl := time.Duration(s.cfg.ActiveRunTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 12 * time.Minute
	}

	if st.ActiveRun != nil && st.ActiveRun.Mode == mode {
		st.ActiveRun.LastTouchedAt = now
		if anchorLabel != "" {
			st.ActiveRun.AnchorLabel = anchorLabel
		}
		return
	}

	st.ActiveRun = &ActiveRun{
		Mode:          mode,
		AnchorLabel:   anchorLabel,
		StartedAt:     now,
		LastTouchedAt: now,
		TTL:           ttl,
	}
}

// ActiveRun returns the conversation's run, or nil. A run whose TTL has
// elapsed is cleared by this read and returned once with Expired set.
func (s *Store) ActiveRun(id string) *RunView {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok || st.ActiveRun == nil {
		return nil
	}
	run := *st.ActiveRun
	if s.now().Sub(run.LastTouchedAt) > run.TTL {
		st.ActiveRun = nil
		s.log.Debug("active run expired on read",
			zap.String("conversation_id", id),
			zap.String("mode", run.Mode))
		return &RunView{Run: run, Expired: true}
	}
	return &RunView{Run: run}
}

func (s *Store) ClearActiveRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.ActiveRun = nil
	}
}

// SetPendingFollowup records the expectation that the next turn answers a
// question the companion asked.
func (s *Store) SetPendingFollowup(id string, f PendingFollowup) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(id)
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	if f.TTL <= 0 {
		f.TTL = time.Duration(s.cfg.PendingFollowupTTLMinutes) * time.Minute
		if f.TTL <= 0 {
			f.TTL = 10 * time.Minute
		}
	}
	st.PendingFollowup = &f
}

// PendingFollowup returns the conversation's followup, or nil, with the same
// read-time expiry contract as ActiveRun.
func (s *Store) PendingFollowup(id string) *FollowupView {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok || st.PendingFollowup == nil {
		return nil
	}
	f := *st.PendingFollowup
	if s.now().Sub(f.CreatedAt) > f.TTL {
		st.PendingFollowup = nil
		s.log.Debug("pending followup expired on read",
			zap.String("conversation_id", id),
			zap.String("type", f.Type))
		return &FollowupView{Followup: f, Expired: true}
	}
	return &FollowupView{Followup: f}
}

func (s *Store) expireTrackersLocked(id string, st *State) {
	now := s.now()
	if st.ActiveRun != nil && now.Sub(st.ActiveRun.LastTouchedAt) > st.ActiveRun.TTL {
		st.ActiveRun = nil
	}
	if st.PendingFollowup != nil && now.Sub(st.PendingFollowup.CreatedAt) > st.PendingFollowup.TTL {
		st.PendingFollowup = nil
	}
}

// SweepIdle evicts states not accessed within the idle window and returns how
// many were removed.
func (s *Store) SweepIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle := time.Duration(s.cfg.IdleEvictionMinutes) * time.Minute
	if idle <= 0 {
		idle = 30 * time.Minute
	}

	now := s.now()
	evicted := 0
	for id, st := range s.states {
		if now.Sub(st.LastAccessed) > idle {
			delete(s.states, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.log.Info("swept idle conversation states", zap.Int("evicted", evicted))
	}
	return evicted
}

// Len reports how many conversation states are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
