package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// consoleChannel reads commands line by line from r and writes outbound
// messages to w. It stands in for Discord when running locally.
type consoleChannel struct {
	name string
	room string
	r    io.Reader
	w    io.Writer

	mu      sync.Mutex
	closed  bool
	last    time.Time
	closeCh chan struct{}
}

// NewConsole creates a Channel over a reader and writer, typically stdin and
// stdout. Every inbound line is reported as posted in room.
func NewConsole(name, room string, r io.Reader, w io.Writer) Channel {
	return &consoleChannel{
		name:    name,
		room:    room,
		r:       r,
		w:       w,
		closeCh: make(chan struct{}),
	}
}

func (c *consoleChannel) Listen(ctx context.Context) <-chan Message {
	ch := make(chan Message)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(c.r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			msg := Message{
				ID:          uuid.NewString(),
				ChannelName: c.name,
				Platform:    "console",
				Direction:   Inbound,
				SenderID:    "console",
				SenderName:  "console",
				RecipientID: c.room,
				Text:        line,
				Timestamp:   time.Now(),
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			}
		}
	}()
	return ch
}

func (c *consoleChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &ErrSendFailed{Channel: c.name, Platform: "console", Cause: fmt.Errorf("closed")}
	}
	if _, err := fmt.Fprintln(c.w, msg.Text); err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "console", Cause: err}
	}
	c.last = time.Now()
	return nil
}

func (c *consoleChannel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelStatus{
		Connected:   !c.closed,
		Platform:    "console",
		AuthState:   "ready",
		LastMessage: c.last,
	}
}

func (c *consoleChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}
