package convstate

import (
	"testing"
	"time"

	"github.com/keeva-ai/keeva/pkg/config"
)

func testStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	cfg := config.DefaultConfig().State
	s := NewStore(cfg, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestGetOrCreate_Defaults(t *testing.T) {
	s, _ := testStore(t)
	snap := s.GetOrCreate("c1")
	if snap.Stage != StageArrival {
		t.Fatalf("expected arrival stage, got %s", snap.Stage)
	}
	if snap.TurnCount != 0 || snap.TopicEstablished {
		t.Fatalf("unexpected defaults: %+v", snap)
	}
}

func TestAdvance_ContentMovesOpeningToSharing(t *testing.T) {
	s, _ := testStore(t)

	// Two turns to land in opening territory with turn count 2.
	s.Advance("c1", "hey")
	s.Advance("c1", "hello again")

	res := s.Advance("c1", "my daughter Nyla had her first day of school")
	if !res.ContentDetected {
		t.Fatalf("expected content detected")
	}
	found := false
	for _, kw := range res.Keywords {
		if kw == "family" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected family keyword, got %v", res.Keywords)
	}
	snap := s.Snapshot("c1")
	if !snap.TopicEstablished {
		t.Fatalf("expected topic established")
	}
	if snap.Stage != StageExploring && snap.Stage != StageSharing {
		t.Fatalf("expected sharing/exploring after content turns, got %s", snap.Stage)
	}
}

func TestAdvance_ScenarioTurnCountTwo(t *testing.T) {
	s, _ := testStore(t)

	// Force the opening stage with two completed non-content turns.
	s.Advance("c1", "ok")
	s.Advance("c1", "ok")
	snap := s.Snapshot("c1")
	if snap.Stage != StageArrival || snap.TurnCount != 2 {
		t.Fatalf("setup failed: %+v", snap)
	}

	res := s.Advance("c1", "my daughter Nyla had her first day of school")
	if res.Stage != StageSharing {
		t.Fatalf("expected sharing after first content turn, got %s", res.Stage)
	}
}

func TestAdvance_AutoAdvanceWithoutContent(t *testing.T) {
	s, _ := testStore(t)

	for i := 0; i < 3; i++ {
		s.Advance("c1", "ok")
	}
	// Fourth turn: turn count is 3, still arrival, non-content. Rule 1 fires.
	res := s.Advance("c1", "ok")
	if res.ContentDetected {
		t.Fatalf("ack should not count as content")
	}
	if res.Stage != StageSharing {
		t.Fatalf("expected forced sharing, got %s", res.Stage)
	}
}

func TestAdvance_IntensityForcesProcessingFromAnyStage(t *testing.T) {
	for _, setup := range [][]string{
		{},
		{"hello there friend"},
		{"hello there friend", "I have been thinking about work a lot."},
	} {
		s, _ := testStore(t)
		for _, msg := range setup {
			s.Advance("c1", msg)
		}
		res := s.Advance("c1", "I feel completely overwhelmed, I can't handle this")
		if res.Stage != StageProcessing {
			t.Fatalf("after %d setup turns expected processing, got %s", len(setup), res.Stage)
		}
	}
}

func TestActiveRun_LazyExpiryExactlyOnce(t *testing.T) {
	s, now := testStore(t)

	s.SetActiveRun("c1", "music_exploration", "rainy jazz")

	*now = now.Add(13 * time.Minute)

	view := s.ActiveRun("c1")
	if view == nil || !view.Expired {
		t.Fatalf("expected expired view on first read, got %+v", view)
	}
	if view.Run.Mode != "music_exploration" {
		t.Fatalf("expired view should carry the run, got %+v", view.Run)
	}
	if second := s.ActiveRun("c1"); second != nil {
		t.Fatalf("expected nil on second read, got %+v", second)
	}
}

func TestActiveRun_SameModeTouchKeepsLabel(t *testing.T) {
	s, now := testStore(t)

	s.SetActiveRun("c1", "music_exploration", "rainy jazz")
	*now = now.Add(5 * time.Minute)
	s.SetActiveRun("c1", "music_exploration", "")

	view := s.ActiveRun("c1")
	if view == nil || view.Expired {
		t.Fatalf("run should still be live: %+v", view)
	}
	if view.Run.AnchorLabel != "rainy jazz" {
		t.Fatalf("empty label should not clear anchor, got %q", view.Run.AnchorLabel)
	}
	if !view.Run.LastTouchedAt.Equal(*now) {
		t.Fatalf("touch should refresh last touched time")
	}

	s.SetActiveRun("c1", "music_exploration", "midnight blues")
	if v := s.ActiveRun("c1"); v.Run.AnchorLabel != "midnight blues" {
		t.Fatalf("new label should replace anchor, got %q", v.Run.AnchorLabel)
	}
}

func TestPendingFollowup_Expiry(t *testing.T) {
	s, now := testStore(t)

	s.SetPendingFollowup("c1", PendingFollowup{Type: "activity_check", ExpectedIntent: "confirm", ActivityID: "a1"})

	if v := s.PendingFollowup("c1"); v == nil || v.Expired {
		t.Fatalf("followup should be live: %+v", v)
	}

	*now = now.Add(11 * time.Minute)
	v := s.PendingFollowup("c1")
	if v == nil || !v.Expired {
		t.Fatalf("expected expired view, got %+v", v)
	}
	if s.PendingFollowup("c1") != nil {
		t.Fatalf("expected nil after expiry read")
	}
}

func TestSweepIdle(t *testing.T) {
	s, now := testStore(t)

	s.GetOrCreate("old")
	*now = now.Add(31 * time.Minute)
	s.GetOrCreate("fresh")

	if evicted := s.SweepIdle(); evicted != 1 {
		t.Fatalf("expected 1 evicted, got %d", evicted)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 live state, got %d", s.Len())
	}
}
