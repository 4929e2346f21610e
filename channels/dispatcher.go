package channels

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// GenericErrorReply is sent when the inbound handler fails without
// producing a reply of its own.
const GenericErrorReply = "⚠️ Something went wrong while handling that command."

// Dispatcher is the event loop around a single Channel. It routes inbound
// messages through the InboundHandler and is the only goroutine that calls
// Channel.Send: handler replies and Notify texts are queued on the outbox
// and delivered in order.
type Dispatcher struct {
	ch      Channel
	target  string
	handler InboundHandler
	logger  *slog.Logger

	splitLimit  int
	sendTimeout time.Duration

	outbox chan Message
	sem    chan struct{}
	wg     sync.WaitGroup

	done chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMaxConcurrent sets the maximum number of concurrent InboundHandler
// calls. Zero or negative means unlimited.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		} else {
			d.sem = nil
		}
	}
}

// WithSplitLimit sets the maximum length of a single outbound message.
// Longer texts are split on line boundaries. Default: DefaultSplitLimit.
func WithSplitLimit(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.splitLimit = n
		}
	}
}

// WithSendTimeout bounds each Channel.Send call. Default: 15s.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// NewDispatcher creates a Dispatcher for ch. target is the chat room that
// Notify posts to. handler may be nil, in which case inbound messages are
// logged and dropped.
func NewDispatcher(ch Channel, target string, handler InboundHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ch:          ch,
		target:      target,
		handler:     handler,
		logger:      slog.Default(),
		splitLimit:  DefaultSplitLimit,
		sendTimeout: 15 * time.Second,
		outbox:      make(chan Message, 64),
		sem:         make(chan struct{}, 4),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Notify queues text for delivery to the target room. It blocks only while
// the outbox is full, and returns early if ctx ends or the loop has exited.
func (d *Dispatcher) Notify(ctx context.Context, text string) {
	d.enqueue(ctx, Message{RecipientID: d.target, Text: text})
}

func (d *Dispatcher) enqueue(ctx context.Context, msg Message) {
	msg.Direction = Outbound
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case d.outbox <- msg:
	case <-ctx.Done():
		d.logger.Warn("dispatcher: outbound dropped", "reason", ctx.Err(), "recipient", msg.RecipientID)
	case <-d.done:
		d.logger.Warn("dispatcher: outbound dropped after shutdown", "recipient", msg.RecipientID)
	}
}

// Run listens on the channel and delivers queued messages until ctx is
// cancelled or the channel's listen stream closes. Handler goroutines still
// running are waited for, and their replies are flushed, before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	inbound := d.ch.Listen(ctx)
	d.logger.Info("dispatcher: started", "platform", d.ch.Status().Platform, "target", d.target)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("dispatcher: listen closed")
				d.drain()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("channels: listen stream closed")
			}
			d.handle(ctx, msg)
		case out := <-d.outbox:
			d.send(ctx, out)
		}
	}
}

// handle runs the handler for msg in its own goroutine so a slow command
// does not stall delivery.
func (d *Dispatcher) handle(ctx context.Context, msg Message) {
	if d.handler == nil {
		d.logger.Debug("dispatcher: no handler, inbound dropped", "sender", msg.SenderID)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			select {
			case d.sem <- struct{}{}:
				defer func() { <-d.sem }()
			case <-ctx.Done():
				return
			}
		}

		replies, err := d.handler(ctx, msg)
		if err != nil {
			d.logger.Error("dispatcher: inbound handler failed",
				"sender", msg.SenderID, "text", msg.Text, "error", err)
			if len(replies) == 0 {
				replies = []Message{{Text: GenericErrorReply}}
			}
		}
		for _, r := range replies {
			if r.RecipientID == "" {
				r.RecipientID = msg.RecipientID
			}
			if r.ReplyTo == "" {
				r.ReplyTo = msg.ID
			}
			d.enqueue(context.WithoutCancel(ctx), r)
		}
	}()
}

// send delivers one outbound message, split to the platform limit.
func (d *Dispatcher) send(ctx context.Context, msg Message) {
	for _, part := range Split(msg.Text, d.splitLimit) {
		out := msg
		out.Text = part
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
		err := d.ch.Send(sendCtx, out)
		cancel()
		if err != nil {
			d.logger.Error("dispatcher: send failed", "recipient", out.RecipientID, "error", err)
			return
		}
	}
}

// drain waits for in-flight handlers and flushes whatever they queued.
func (d *Dispatcher) drain() {
	handlersDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(handlersDone)
	}()

	ctx := context.Background()
	for {
		select {
		case out := <-d.outbox:
			d.send(ctx, out)
		case <-handlersDone:
			for {
				select {
				case out := <-d.outbox:
					d.send(ctx, out)
				default:
					return
				}
			}
		}
	}
}
