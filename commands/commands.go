// Package commands turns chat directives into engine calls. Every
// recognised directive produces exactly one reply; plain chatter without the
// prefix is ignored.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/shuttlebot/channels"
	"github.com/hazyhaar/shuttlebot/monitor"
	"github.com/hazyhaar/shuttlebot/route"
)

// Engine is the part of monitor.Engine the command surface drives.
type Engine interface {
	Refresh(ctx context.Context) (int, error)
	Snapshot() ([]route.Route, time.Time)
	Watch(ids []string) monitor.WatchResult
	Unwatch(ctx context.Context, id string) bool
	UnwatchAll(ctx context.Context) []string
	Status() monitor.Status
}

// Config configures the command handler.
type Config struct {
	// Prefix introduces a directive. Default: "!".
	Prefix string
	// ChannelID restricts directives to one chat room. Empty accepts all.
	ChannelID string
	// LoadTimeout bounds the out-of-band fetch of the load directive.
	// Default: 90s.
	LoadTimeout time.Duration
	// Schedule is the cron expression shown by the status directive. Optional.
	Schedule string
	// Location is used to render timestamps. Default: time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "!"
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 90 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Handler dispatches directives to the engine.
type Handler struct {
	eng Engine
	cfg Config
}

// New returns a Handler for eng.
func New(eng Engine, cfg Config) *Handler {
	cfg.defaults()
	return &Handler{eng: eng, cfg: cfg}
}

const timeLayout = "2006-01-02 15:04:05"

// Handle implements channels.InboundHandler.
func (h *Handler) Handle(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, h.cfg.Prefix) {
		return nil, nil
	}
	fields := strings.Fields(strings.TrimPrefix(text, h.cfg.Prefix))
	if len(fields) == 0 {
		return nil, nil
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	if h.cfg.ChannelID != "" && msg.RecipientID != h.cfg.ChannelID {
		return reply(fmt.Sprintf("Commands are only accepted in <#%s>.", h.cfg.ChannelID)), nil
	}

	h.cfg.Logger.Info("commands: received", "command", name, "args", args, "sender", msg.SenderID)

	var out string
	switch name {
	case "help":
		out = h.help()
	case "load":
		out = h.load(ctx)
	case "list":
		out = h.list()
	case "watch", "monitor":
		out = h.watch(args)
	case "unwatch", "unmonitor":
		out = h.unwatch(ctx, args)
	case "watches", "monitors":
		out = h.watches()
	case "status":
		out = h.status()
	default:
		out = fmt.Sprintf("Unknown command `%s%s`. Try `%shelp`.", h.cfg.Prefix, name, h.cfg.Prefix)
	}
	return reply(out), nil
}

func reply(text string) []channels.Message {
	return []channels.Message{{Text: text}}
}

func (h *Handler) help() string {
	p := h.cfg.Prefix
	return strings.Join([]string{
		"**Shuttle seat monitor**",
		"`" + p + "load` fetch the latest bus schedule",
		"`" + p + "list` show the last fetched schedule",
		"`" + p + "watch <id...>` notify when a route becomes full or opens up",
		"`" + p + "unwatch <id...|all>` stop watching",
		"`" + p + "watches` show watched routes",
		"`" + p + "status` show monitor state",
	}, "\n")
}

func (h *Handler) load(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.LoadTimeout)
	defer cancel()

	n, err := h.eng.Refresh(ctx)
	if err != nil {
		h.cfg.Logger.Warn("commands: load failed", "error", err)
		prev, at := h.eng.Snapshot()
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, monitor.ErrFetch) {
			return "⏳ Another fetch is still running. Try again in a moment."
		}
		if at.IsZero() {
			return "⚠️ Could not load the bus schedule."
		}
		return fmt.Sprintf("⚠️ Could not load the bus schedule. Keeping the previous one (%d routes, fetched %s).",
			len(prev), at.In(h.cfg.Location).Format(timeLayout))
	}
	return fmt.Sprintf("✅ Loaded %d routes.", n)
}

func (h *Handler) list() string {
	routes, at := h.eng.Snapshot()
	if at.IsZero() {
		return fmt.Sprintf("No schedule loaded yet. Use `%sload` first.", h.cfg.Prefix)
	}
	if len(routes) == 0 {
		return fmt.Sprintf("The schedule fetched %s has no routes.", at.In(h.cfg.Location).Format(timeLayout))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Bus schedule** (%d routes, fetched %s)\n", len(routes), at.In(h.cfg.Location).Format(timeLayout))
	for _, r := range routes {
		fmt.Fprintf(&b, "`%s` %s | %s | %s | %s | %s | %s\n",
			r.ID, r.BusNumber, r.BusType, r.Vehicle, r.Region, r.Detail, r.Seats())
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (h *Handler) watch(args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Usage: `%swatch <id...>`", h.cfg.Prefix)
	}
	ids := make([]string, len(args))
	for i, a := range args {
		ids[i] = route.NormalizeID(a)
	}
	res := h.eng.Watch(ids)

	var lines []string
	for _, r := range res.Added {
		lines = append(lines, fmt.Sprintf("👀 Watching `%s` %s (%s).", r.ID, r.Label(), r.Seats()))
	}
	for _, id := range res.Already {
		lines = append(lines, fmt.Sprintf("`%s` is already watched.", id))
	}
	if len(res.Unknown) > 0 {
		hint := fmt.Sprintf("Use `%slist` to see route IDs.", h.cfg.Prefix)
		if _, at := h.eng.Snapshot(); at.IsZero() {
			hint = fmt.Sprintf("No schedule loaded yet; use `%sload` first.", h.cfg.Prefix)
		}
		lines = append(lines, fmt.Sprintf("Not in the current schedule: %s. %s",
			quoteIDs(res.Unknown), hint))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) unwatch(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Usage: `%sunwatch <id...|all>`", h.cfg.Prefix)
	}
	if len(args) == 1 && strings.EqualFold(args[0], "all") {
		ids := h.eng.UnwatchAll(ctx)
		if len(ids) == 0 {
			return "Nothing was being watched."
		}
		return fmt.Sprintf("🛑 Stopped watching %d routes: %s.", len(ids), quoteIDs(ids))
	}

	var removed, missing []string
	for _, a := range args {
		id := route.NormalizeID(a)
		if h.eng.Unwatch(ctx, id) {
			removed = append(removed, id)
		} else {
			missing = append(missing, id)
		}
	}
	var lines []string
	if len(removed) > 0 {
		lines = append(lines, fmt.Sprintf("🛑 Stopped watching %s.", quoteIDs(removed)))
	}
	if len(missing) > 0 {
		lines = append(lines, fmt.Sprintf("Not watched: %s.", quoteIDs(missing)))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) watches() string {
	ws := h.eng.Status().Watches
	if len(ws) == 0 {
		return fmt.Sprintf("Nothing is being watched. Use `%swatch <id>`.", h.cfg.Prefix)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Watching %d routes**\n", len(ws))
	for _, w := range ws {
		b.WriteString(watchLine(w))
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (h *Handler) status() string {
	st := h.eng.Status()
	loc := h.cfg.Location

	var b strings.Builder
	b.WriteString("**Monitor status**\n")
	fmt.Fprintf(&b, "Routes in snapshot: %d\n", st.Routes)
	if st.FetchedAt.IsZero() {
		b.WriteString("Last fetch: never\n")
	} else {
		fmt.Fprintf(&b, "Last fetch: %s\n", st.FetchedAt.In(loc).Format(timeLayout))
	}
	if st.Scheduled {
		fmt.Fprintf(&b, "Tick: scheduled, next %s\n", st.NextRun.In(loc).Format(timeLayout))
	} else {
		b.WriteString("Tick: not scheduled\n")
	}
	if h.cfg.Schedule != "" {
		fmt.Fprintf(&b, "Cadence: `%s`\n", h.cfg.Schedule)
	}
	if h.cfg.ChannelID != "" {
		fmt.Fprintf(&b, "Channel: <#%s>\n", h.cfg.ChannelID)
	}
	fmt.Fprintf(&b, "Watches: %d", len(st.Watches))
	for _, w := range st.Watches {
		b.WriteByte('\n')
		b.WriteString(watchLine(w))
	}
	return b.String()
}

func watchLine(w monitor.Watch) string {
	if !w.Known {
		return fmt.Sprintf("• `%s` (%s, not in snapshot)", w.ID, w.Phase)
	}
	return fmt.Sprintf("• `%s` %s %s (%s)", w.ID, w.Route.Label(), w.Route.Seats(), w.Phase)
}

func quoteIDs(ids []string) string {
	q := make([]string, len(ids))
	for i, id := range ids {
		q[i] = "`" + id + "`"
	}
	return strings.Join(q, ", ")
}
