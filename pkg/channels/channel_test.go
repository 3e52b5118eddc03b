package channels

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keeva-ai/keeva/pkg/bus"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		name     string
		list     []string
		senderID string
		want     bool
	}{
		{"empty list admits anyone", nil, "123|alice", true},
		{"raw id match", []string{"123"}, "123|alice", true},
		{"username match", []string{"alice"}, "123|alice", true},
		{"at-prefixed username", []string{"@alice"}, "123|alice", true},
		{"full compound match", []string{"123|alice"}, "123|alice", true},
		{"no match", []string{"456", "bob"}, "123|alice", false},
		{"blank entries ignored", []string{"", "  "}, "123|alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allowed(tt.list, tt.senderID); got != tt.want {
				t.Fatalf("allowed(%v, %q) = %v, want %v", tt.list, tt.senderID, got, tt.want)
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	short := "a short reply"
	if got := splitMessage(short, 1500); len(got) != 1 || got[0] != short {
		t.Fatalf("short message should come back whole, got %v", got)
	}

	long := strings.Repeat("one two three four five ", 200)
	chunks := splitMessage(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(chunk))
		}
		if strings.TrimSpace(chunk) == "" {
			t.Fatalf("chunk %d is blank", i)
		}
	}

	unbroken := strings.Repeat("x", 250)
	chunks = splitMessage(unbroken, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected hard cuts into 3 chunks, got %d", len(chunks))
	}
}

type stubChannel struct {
	name string

	mu   sync.Mutex
	sent []bus.OutboundReply
}

func (c *stubChannel) Name() string                { return c.name }
func (c *stubChannel) Start(context.Context) error { return nil }
func (c *stubChannel) Stop(context.Context) error  { return nil }
func (c *stubChannel) IsRunning() bool             { return true }
func (c *stubChannel) Send(_ context.Context, r bus.OutboundReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, r)
	return nil
}

func TestManagerDispatchOutbound(t *testing.T) {
	tb := bus.NewTurnBus()
	defer tb.Close()

	mgr := NewManager(tb, nil)
	ch := &stubChannel{name: "stub"}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.DispatchOutbound(ctx)
		close(done)
	}()

	tb.PublishOutbound(bus.OutboundReply{Channel: "stub", ChatID: "c1", Content: "hello"})
	tb.PublishOutbound(bus.OutboundReply{Channel: "missing", ChatID: "c1", Content: "dropped"})
	tb.PublishOutbound(bus.OutboundReply{Channel: "stub", ChatID: "c1", Content: "again"})

	deadline := time.After(2 * time.Second)
	for {
		ch.mu.Lock()
		n := len(ch.sent)
		ch.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for dispatch, got %d replies", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if ch.sent[0].Content != "hello" || ch.sent[1].Content != "again" {
		t.Fatalf("unexpected dispatch order: %+v", ch.sent)
	}
}
