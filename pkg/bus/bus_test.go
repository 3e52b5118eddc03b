package bus

import (
	"context"
	"testing"
)

func TestTurnBus_RoundTrip(t *testing.T) {
	tb := NewTurnBus()
	defer tb.Close()

	tb.PublishInbound(InboundTurn{Channel: "discord", ConversationID: "conv-1", Content: "hello"})
	turn, ok := tb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatalf("expected an inbound turn")
	}
	if turn.Content != "hello" || turn.ConversationID != "conv-1" {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	tb.PublishOutbound(OutboundReply{Channel: "discord", ConversationID: "conv-1", Content: "hi"})
	reply, ok := tb.SubscribeOutbound(context.Background())
	if !ok {
		t.Fatalf("expected an outbound reply")
	}
	if reply.Content != "hi" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestTurnBus_PublishInboundDropsWhenBufferFull(t *testing.T) {
	tb := NewTurnBus()
	defer tb.Close()

	for i := 0; i < cap(tb.inbound); i++ {
		tb.PublishInbound(InboundTurn{Channel: "test", ConversationID: "c", Content: "msg"})
	}

	tb.PublishInbound(InboundTurn{Channel: "test", ConversationID: "c", Content: "overflow"})
	if tb.DroppedInbound() != 1 {
		t.Fatalf("expected dropped inbound count 1, got %d", tb.DroppedInbound())
	}
}

func TestTurnBus_PublishOutboundDropsWhenBufferFull(t *testing.T) {
	tb := NewTurnBus()
	defer tb.Close()

	for i := 0; i < cap(tb.outbound); i++ {
		tb.PublishOutbound(OutboundReply{Channel: "test", ConversationID: "c", Content: "msg"})
	}

	tb.PublishOutbound(OutboundReply{Channel: "test", ConversationID: "c", Content: "overflow"})
	if tb.DroppedOutbound() != 1 {
		t.Fatalf("expected dropped outbound count 1, got %d", tb.DroppedOutbound())
	}
}

func TestTurnBus_ClosedChannelsReturnFalse(t *testing.T) {
	tb := NewTurnBus()
	tb.Close()

	if _, ok := tb.ConsumeInbound(context.Background()); ok {
		t.Fatalf("expected closed inbound consume to return ok=false")
	}
	if _, ok := tb.SubscribeOutbound(context.Background()); ok {
		t.Fatalf("expected closed outbound subscribe to return ok=false")
	}

	// Publishing after close is a no-op, not a panic.
	tb.PublishInbound(InboundTurn{Channel: "test"})
	tb.PublishOutbound(OutboundReply{Channel: "test"})
}
