// Package channels connects the bot to a chat platform. A Channel is a
// long-lived, bidirectional connection: inbound messages arrive unprompted
// and outbound messages are pushed back.
//
// The Dispatcher is the event loop around one Channel. It is the only
// goroutine that calls Channel.Send; command handlers and background
// workers hand their text to it through a queue.
//
//	ch, _ := channels.NewDiscord("discord", channels.DiscordConfig{BotToken: token}, logger)
//	d := channels.NewDispatcher(ch, channelID, handler, channels.WithLogger(logger))
//	go d.Run(ctx)
//	d.Notify(ctx, "K1 is full")
package channels

import (
	"context"
	"time"
)

// Direction indicates whether a message is inbound (received from a user)
// or outbound (sent by the system).
type Direction int

const (
	Inbound  Direction = iota // Message received from a platform user.
	Outbound                  // Message sent to a platform user.
)

// String returns "inbound" or "outbound".
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Message is a platform-normalized inbound or outbound message.
type Message struct {
	ID          string            `json:"id"`
	ChannelName string            `json:"channel"`            // connector name, e.g. "discord"
	Platform    string            `json:"platform"`           // "discord", "console"
	Direction   Direction         `json:"direction"`          // Inbound or Outbound
	SenderID    string            `json:"sender_id"`          // platform-specific user ID
	SenderName  string            `json:"sender_name"`        // display name
	RecipientID string            `json:"recipient_id"`       // chat room the message was posted in / goes to
	Text        string            `json:"text"`               // message body
	ReplyTo     string            `json:"reply_to,omitempty"` // ID of message being replied to
	Metadata    map[string]string `json:"metadata,omitempty"` // platform-specific extras
	Timestamp   time.Time         `json:"timestamp"`
}

// ChannelStatus describes the current state of a channel connection.
type ChannelStatus struct {
	Connected   bool      `json:"connected"`
	Platform    string    `json:"platform"`
	AuthState   string    `json:"auth_state"` // "token_valid", "ready", "disconnected"
	User        string    `json:"user,omitempty"`
	LastMessage time.Time `json:"last_message"`
	Error       string    `json:"error,omitempty"`
}

// Channel is a bidirectional connection to a messaging platform.
type Channel interface {
	// Listen returns a read-only channel of inbound messages.
	// The returned channel is closed when ctx is cancelled or Close is called.
	Listen(ctx context.Context) <-chan Message

	// Send pushes an outbound message to the platform.
	Send(ctx context.Context, msg Message) error

	// Status returns the current connection status.
	Status() ChannelStatus

	// Close shuts down the connection and releases resources.
	Close() error
}

// InboundHandler processes an inbound message and returns zero or more
// outbound replies. Replies without a RecipientID go back where the inbound
// message came from.
type InboundHandler func(ctx context.Context, msg Message) ([]Message, error)
