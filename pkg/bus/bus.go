// Package bus carries turns between channel adapters and the engine over
// bounded in-memory queues. Publishing never blocks a caller for more than
// the publish timeout; overflow is counted and dropped.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// InboundTurn is one user turn arriving from a channel adapter.
type InboundTurn struct {
	Channel        string
	ConversationID string
	SenderID       string
	ChatID         string
	Content        string
	ReceivedAt     time.Time
}

// OutboundReply is one synthesized reply headed back to its channel.
type OutboundReply struct {
	Channel        string
	ConversationID string
	ChatID         string
	Content        string
}

const publishTimeout = 100 * time.Millisecond

type droppedCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

type TurnBus struct {
	inbound  chan InboundTurn
	outbound chan OutboundReply
	closed   bool
	dropped  droppedCounters
	mu       sync.RWMutex
}

func NewTurnBus() *TurnBus {
	return &TurnBus{
		inbound:  make(chan InboundTurn, 100),
		outbound: make(chan OutboundReply, 100),
	}
}

func (tb *TurnBus) PublishInbound(turn InboundTurn) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	if tb.closed {
		return
	}

	select {
	case tb.inbound <- turn:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case tb.inbound <- turn:
		case <-timer.C:
			tb.dropped.inbound.Add(1)
		}
	}
}

func (tb *TurnBus) ConsumeInbound(ctx context.Context) (InboundTurn, bool) {
	select {
	case turn, ok := <-tb.inbound:
		if !ok {
			return InboundTurn{}, false
		}
		return turn, true
	case <-ctx.Done():
		return InboundTurn{}, false
	}
}

func (tb *TurnBus) PublishOutbound(reply OutboundReply) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	if tb.closed {
		return
	}

	select {
	case tb.outbound <- reply:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case tb.outbound <- reply:
		case <-timer.C:
			tb.dropped.outbound.Add(1)
		}
	}
}

func (tb *TurnBus) SubscribeOutbound(ctx context.Context) (OutboundReply, bool) {
	select {
	case reply, ok := <-tb.outbound:
		if !ok {
			return OutboundReply{}, false
		}
		return reply, true
	case <-ctx.Done():
		return OutboundReply{}, false
	}
}

func (tb *TurnBus) DroppedInbound() uint64 {
	return tb.dropped.inbound.Load()
}

func (tb *TurnBus) DroppedOutbound() uint64 {
	return tb.dropped.outbound.Load()
}

func (tb *TurnBus) Close() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.closed {
		return
	}
	tb.closed = true
	close(tb.inbound)
	close(tb.outbound)
}
