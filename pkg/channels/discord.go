package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keeva-ai/keeva/pkg/bus"
	"github.com/keeva-ai/keeva/pkg/config"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second

	// Discord caps messages at 2000 characters; leave slack for clean splits.
	discordChunkLimit = 1500
)

// Discord bridges a Discord bot session onto the turn bus. Each Discord
// channel maps to one conversation id.
type Discord struct {
	session *discordgo.Session
	cfg     config.DiscordConfig
	bus     *bus.TurnBus
	log     *zap.Logger

	running  bool
	typing   map[string]*typingSession
	typingMu sync.Mutex
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscord(cfg config.DiscordConfig, turnBus *bus.TurnBus, log *zap.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discord{
		session: session,
		cfg:     cfg,
		bus:     turnBus,
		log:     log.Named("discord"),
		typing:  make(map[string]*typingSession),
	}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) IsRunning() bool { return d.running }

func (d *Discord) Start(ctx context.Context) error {
	d.session.AddHandler(d.handleMessage)
	d.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}
	d.running = true

	botUser, err := d.session.User("@me")
	if err != nil {
		return fmt.Errorf("looking up bot user: %w", err)
	}
	d.log.Info("discord connected",
		zap.String("username", botUser.Username),
		zap.String("user_id", botUser.ID))
	return nil
}

func (d *Discord) Stop(ctx context.Context) error {
	d.running = false
	d.stopAllTyping()
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("closing discord session: %w", err)
	}
	return nil
}

func (d *Discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	senderID := m.Author.ID + "|" + m.Author.Username
	if !allowed(d.cfg.AllowFrom, senderID) {
		d.log.Debug("sender not on allow list", zap.String("sender", senderID))
		return
	}

	d.beginTyping(m.ChannelID)
	d.bus.PublishInbound(bus.InboundTurn{
		Channel:        d.Name(),
		ConversationID: d.Name() + ":" + m.ChannelID,
		SenderID:       senderID,
		ChatID:         m.ChannelID,
		Content:        content,
		ReceivedAt:     time.Now(),
	})
}

func (d *Discord) Send(ctx context.Context, reply bus.OutboundReply) error {
	if !d.running {
		return fmt.Errorf("discord channel not running")
	}
	if reply.ChatID == "" {
		return fmt.Errorf("reply has no chat id")
	}
	defer d.endTyping(reply.ChatID)

	if strings.TrimSpace(reply.Content) == "" {
		return nil
	}

	for _, chunk := range splitMessage(reply.Content, discordChunkLimit) {
		if err := d.sendChunk(ctx, reply.ChatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discord) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := d.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("discord send timeout: %w", sendCtx.Err())
	}
}

// splitMessage breaks prose into chunks at the last newline or space inside
// the limit, falling back to a hard cut.
func splitMessage(content string, limit int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= limit {
			chunks = append(chunks, content)
			break
		}
		cut := strings.LastIndexByte(content[:limit], '\n')
		if cut <= 0 {
			cut = strings.LastIndexByte(content[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimSpace(content[:cut]))
		content = strings.TrimSpace(content[cut:])
	}
	return chunks
}

func (d *Discord) sendTyping(channelID string) {
	if channelID == "" || d.session == nil {
		return
	}
	if err := d.session.ChannelTyping(channelID); err != nil {
		d.log.Debug("typing indicator failed", zap.Error(err))
	}
}

func (d *Discord) beginTyping(channelID string) {
	if channelID == "" {
		return
	}

	d.typingMu.Lock()
	if sess, ok := d.typing[channelID]; ok {
		sess.pending++
		d.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.typing[channelID] = &typingSession{pending: 1, cancel: cancel}
	d.typingMu.Unlock()

	d.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !d.running {
					return
				}
				d.sendTyping(channelID)
			}
		}
	}()
}

func (d *Discord) endTyping(channelID string) {
	if channelID == "" {
		return
	}

	d.typingMu.Lock()
	defer d.typingMu.Unlock()

	sess, ok := d.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(d.typing, channelID)
	sess.cancel()
}

func (d *Discord) stopAllTyping() {
	d.typingMu.Lock()
	defer d.typingMu.Unlock()
	for channelID, sess := range d.typing {
		sess.cancel()
		delete(d.typing, channelID)
	}
}
