package channels

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/bus"
)

// Manager owns the active channel adapters and routes outbound replies from
// the bus to the channel that produced the turn.
type Manager struct {
	bus *bus.TurnBus
	log *zap.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

func NewManager(turnBus *bus.TurnBus, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		bus:      turnBus,
		log:      log.Named("channels"),
		channels: make(map[string]Channel),
	}
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			m.log.Error("channel failed to start", zap.String("channel", name), zap.Error(err))
			return err
		}
		m.log.Info("channel started", zap.String("channel", name))
	}
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			m.log.Warn("channel failed to stop cleanly", zap.String("channel", name), zap.Error(err))
		}
	}
}

// DispatchOutbound drains outbound replies until the context is cancelled or
// the bus is closed. Intended to run as a goroutine.
func (m *Manager) DispatchOutbound(ctx context.Context) {
	for {
		reply, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		ch, found := m.channels[reply.Channel]
		m.mu.RUnlock()
		if !found {
			m.log.Warn("reply for unknown channel", zap.String("channel", reply.Channel))
			continue
		}
		if err := ch.Send(ctx, reply); err != nil {
			m.log.Error("reply delivery failed",
				zap.String("channel", reply.Channel),
				zap.String("chat_id", reply.ChatID),
				zap.Error(err))
		}
	}
}
