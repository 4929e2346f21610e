package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures a Discord connection.
type DiscordConfig struct {
	// BotToken is the Discord bot token (from Developer Portal), without
	// the "Bot " prefix.
	BotToken string `json:"bot_token"`
	// GuildID restricts the bot to a specific guild. If empty, the bot
	// listens on all guilds it has been invited to.
	GuildID string `json:"guild_id,omitempty"`
	// ChannelIDs restricts listening to specific channel IDs.
	// If empty, all channels the bot can see are monitored.
	ChannelIDs []string `json:"channel_ids,omitempty"`
}

// discordChannel implements Channel on top of a discordgo session.
type discordChannel struct {
	name    string
	config  DiscordConfig
	session *discordgo.Session
	logger  *slog.Logger

	inbox chan Message

	mu      sync.Mutex
	opened  bool
	closed  bool
	status  ChannelStatus
	closeCh chan struct{}
}

// NewDiscord creates a Discord channel. The gateway connection is opened by
// the first Listen call.
func NewDiscord(name string, cfg DiscordConfig, logger *slog.Logger) (Channel, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("discord: bot_token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &discordChannel{
		name:    name,
		config:  cfg,
		session: s,
		logger:  logger,
		inbox:   make(chan Message, 64),
		status: ChannelStatus{
			Platform:  "discord",
			AuthState: "token_valid",
		},
		closeCh: make(chan struct{}),
	}
	s.AddHandler(c.onReady)
	s.AddHandler(c.onMessageCreate)
	return c, nil
}

func (c *discordChannel) onReady(s *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	c.status.Connected = true
	c.status.AuthState = "ready"
	c.status.User = r.User.Username
	c.mu.Unlock()
	c.logger.Info("discord: logged in", "user", r.User.Username, "user_id", r.User.ID)
}

func (c *discordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if c.config.GuildID != "" && m.GuildID != c.config.GuildID {
		return
	}
	if len(c.config.ChannelIDs) > 0 && !slices.Contains(c.config.ChannelIDs, m.ChannelID) {
		return
	}

	msg := Message{
		ID:          m.ID,
		ChannelName: c.name,
		Platform:    "discord",
		Direction:   Inbound,
		SenderID:    m.Author.ID,
		SenderName:  m.Author.Username,
		RecipientID: m.ChannelID,
		Text:        m.Content,
		Metadata:    map[string]string{"guild_id": m.GuildID},
		Timestamp:   m.Timestamp,
	}

	select {
	case c.inbox <- msg:
	case <-c.closeCh:
	default:
		c.logger.Warn("discord: inbox full, dropping message", "channel_id", m.ChannelID, "sender", m.Author.ID)
	}
}

func (c *discordChannel) Listen(ctx context.Context) <-chan Message {
	ch := make(chan Message)

	c.mu.Lock()
	needOpen := !c.opened && !c.closed
	c.opened = true
	c.mu.Unlock()

	if needOpen {
		if err := c.session.Open(); err != nil {
			c.mu.Lock()
			c.status.Error = err.Error()
			c.mu.Unlock()
			c.logger.Error("discord: open gateway", "error", err)
			close(ch)
			return ch
		}
	}

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			case msg := <-c.inbox:
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				case <-c.closeCh:
					return
				}
			}
		}
	}()
	return ch
}

func (c *discordChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &ErrSendFailed{Channel: c.name, Platform: "discord",
			Cause: errors.New("channel closed")}
	}

	if _, err := c.session.ChannelMessageSend(msg.RecipientID, msg.Text, discordgo.WithContext(ctx)); err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "discord", Cause: err}
	}

	c.mu.Lock()
	c.status.LastMessage = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *discordChannel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *discordChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.status.Connected = false
	c.status.AuthState = "disconnected"
	opened := c.opened
	c.mu.Unlock()

	if opened {
		if err := c.session.Close(); err != nil {
			return fmt.Errorf("discord: close: %w", err)
		}
	}
	return nil
}
