// Package monitor tracks watched shuttle routes across polling cycles and
// decides when a seat-occupancy change is worth a chat notification.
//
// The Engine owns a Store (route snapshot + watch map) and drives it from
// two sides: ticks, run one at a time on a worker goroutine, and commands,
// which read or mutate the store directly. All fetches, whether from a tick
// or a manual load, go through a single fetch slot so the scraper never runs
// twice at once.
//
//	eng := monitor.New(store, scraper, session, dispatcher, sched, monitor.Config{Logger: logger})
//	go eng.Run(ctx)
//	res := eng.Watch([]string{"K1"})
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/shuttlebot/route"
)

// ErrFetch wraps every error returned by the Fetcher.
var ErrFetch = errors.New("monitor: fetch failed")

// FailureMessage is broadcast when a tick cannot fetch the schedule.
const FailureMessage = "⚠️ Could not fetch the bus schedule. All watches were stopped; use `!watch` to start again."

// Fetcher logs into the portal and returns the full route list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]route.Route, error)
}

// Session is the scraping session behind the Fetcher. Release must be
// idempotent and safe to call when no session exists.
type Session interface {
	Release() error
}

// Notifier delivers a text to the configured chat channel. It must not block
// on delivery.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Scheduler arms and disarms the recurring tick.
type Scheduler interface {
	Arm()
	Disarm()
	Armed() bool
	Next() time.Time
}

// FetchEvent describes one completed fetch attempt.
type FetchEvent struct {
	Trigger  string // "tick" or "load"
	Routes   int
	Err      error
	Duration time.Duration
	At       time.Time
}

// Recorder receives fetch and alert events for the history log.
type Recorder interface {
	RecordFetch(ctx context.Context, ev FetchEvent)
	RecordAlert(ctx context.Context, d Decision)
}

// Config tunes the engine.
type Config struct {
	Logger *slog.Logger
	// Now overrides the clock used for snapshot timestamps.
	Now func() time.Time
	// Recorder is optional.
	Recorder Recorder
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine runs the monitoring state machine.
type Engine struct {
	store    *Store
	fetcher  Fetcher
	session  Session
	notifier Notifier
	sched    Scheduler
	rec      Recorder
	logger   *slog.Logger
	now      func() time.Time

	// slot serialises Fetcher calls and session releases.
	slot chan struct{}
	// kick holds at most one pending tick request.
	kick chan struct{}
}

// New creates an Engine. Call Run to start the tick worker.
func New(store *Store, fetcher Fetcher, session Session, notifier Notifier, sched Scheduler, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		store:    store,
		fetcher:  fetcher,
		session:  session,
		notifier: notifier,
		sched:    sched,
		rec:      cfg.Recorder,
		logger:   cfg.Logger,
		now:      cfg.Now,
		slot:     make(chan struct{}, 1),
		kick:     make(chan struct{}, 1),
	}
}

// Snapshot returns a copy of the last fetched schedule. It never fetches.
func (e *Engine) Snapshot() ([]route.Route, time.Time) { return e.store.Snapshot() }

// Kick requests a tick. Requests made while one is pending are coalesced.
// Safe to call from any goroutine, including cron callbacks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run executes kicked ticks one at a time. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("monitor: worker started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("monitor: worker stopped")
			return
		case <-e.kick:
			e.Tick(ctx)
		}
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseSlot() { <-e.slot }

// Tick fetches the schedule and evaluates every watched route.
func (e *Engine) Tick(ctx context.Context) {
	if e.store.Len() == 0 {
		e.logger.Debug("monitor: tick skipped, nothing watched")
		if e.reconcile() {
			e.releaseIdle(ctx)
		}
		return
	}

	if err := e.acquire(ctx); err != nil {
		e.logger.Warn("monitor: tick aborted waiting for fetch slot", "error", err)
		return
	}
	defer e.releaseSlot()

	start := time.Now()
	routes, err := e.fetcher.Fetch(ctx)
	if err != nil && ctx.Err() != nil {
		// Cancelled mid-fetch, not a fetch failure.
		e.logger.Info("monitor: tick cancelled", "error", err)
		return
	}
	at := e.now()
	e.record(ctx, FetchEvent{Trigger: "tick", Routes: len(routes), Err: err, Duration: time.Since(start), At: at})

	if err != nil {
		e.teardown(ctx, err)
		return
	}

	decisions, idle := e.apply(routes, at)
	for _, d := range decisions {
		if !d.Notify() {
			continue
		}
		e.notifier.Notify(ctx, d.Message())
		if e.rec != nil {
			e.rec.RecordAlert(ctx, d)
		}
	}
	e.logger.Info("monitor: tick complete",
		"routes", len(routes), "evaluated", len(decisions), "idle", idle)

	if idle {
		e.releaseSession()
	}
}

// apply replaces the snapshot and runs the transition table in one critical
// section, so no reader sees the new snapshot with stale watch phases.
func (e *Engine) apply(routes []route.Route, at time.Time) ([]Decision, bool) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	e.store.replaceLocked(routes, at)

	ids := e.store.watchIDsLocked()
	decisions := make([]Decision, 0, len(ids))
	for _, id := range ids {
		fresh, found := e.store.findLocked(id)
		decisions = append(decisions, Evaluate(id, e.store.watches[id], fresh, found))
	}
	for _, d := range decisions {
		if d.Keep {
			e.store.watches[d.ID] = d.Next
		} else {
			delete(e.store.watches, d.ID)
		}
	}
	return decisions, e.reconcileLocked()
}

// teardown handles a failed tick fetch: every watch goes, the session is
// closed so the next fetch logs in again, and the tick is unscheduled.
func (e *Engine) teardown(ctx context.Context, err error) {
	e.store.mu.Lock()
	dropped := e.store.clearWatchesLocked()
	e.sched.Disarm()
	e.store.mu.Unlock()

	e.logger.Error("monitor: tick failed, watches cleared", "error", err, "dropped", dropped)
	e.releaseSession()
	e.notifier.Notify(ctx, FailureMessage)
}

// reconcile arms or disarms the tick to match the watch map and reports
// whether the engine is idle.
func (e *Engine) reconcile() bool {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.reconcileLocked()
}

func (e *Engine) reconcileLocked() bool {
	if len(e.store.watches) == 0 {
		if e.sched.Armed() {
			e.sched.Disarm()
			e.logger.Info("monitor: tick unscheduled")
		}
		return true
	}
	if !e.sched.Armed() {
		e.sched.Arm()
		e.logger.Info("monitor: tick scheduled", "next", e.sched.Next())
	}
	return false
}

// releaseIdle closes the session if nothing is watched, waiting for any
// in-flight fetch to finish first.
func (e *Engine) releaseIdle(ctx context.Context) {
	if err := e.acquire(ctx); err != nil {
		return
	}
	defer e.releaseSlot()
	if e.store.Len() > 0 {
		return
	}
	e.releaseSession()
}

func (e *Engine) releaseSession() {
	if err := e.session.Release(); err != nil {
		e.logger.Warn("monitor: session release failed", "error", err)
	}
}

func (e *Engine) record(ctx context.Context, ev FetchEvent) {
	if e.rec != nil {
		e.rec.RecordFetch(ctx, ev)
	}
}

// Refresh performs an out-of-band fetch and replaces the snapshot. Watches
// are not evaluated. On failure the previous snapshot is kept and the
// session is released.
func (e *Engine) Refresh(ctx context.Context) (int, error) {
	if err := e.acquire(ctx); err != nil {
		return 0, fmt.Errorf("monitor: waiting for fetch slot: %w", err)
	}
	defer e.releaseSlot()

	start := time.Now()
	routes, err := e.fetcher.Fetch(ctx)
	at := e.now()
	e.record(ctx, FetchEvent{Trigger: "load", Routes: len(routes), Err: err, Duration: time.Since(start), At: at})
	if err != nil {
		e.releaseSession()
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	e.store.Replace(routes, at)
	e.logger.Info("monitor: schedule refreshed", "routes", len(routes))
	return len(routes), nil
}

// Watch adds every ID present in the current snapshot to the watch map. When
// the map goes from empty to non-empty the tick is scheduled and one tick
// is kicked immediately.
func (e *Engine) Watch(ids []string) WatchResult {
	e.store.mu.Lock()
	res := e.store.addWatchesLocked(ids)
	if res.Armed {
		e.reconcileLocked()
	}
	e.store.mu.Unlock()

	if res.Armed {
		e.Kick()
	}
	return res
}

// Unwatch removes one ID. It reports whether the ID was watched.
func (e *Engine) Unwatch(ctx context.Context, id string) bool {
	e.store.mu.Lock()
	removed := e.store.removeWatchLocked(id)
	idle := e.reconcileLocked()
	e.store.mu.Unlock()

	if removed && idle {
		e.releaseIdle(ctx)
	}
	return removed
}

// UnwatchAll clears the watch map and returns the IDs that were watched.
func (e *Engine) UnwatchAll(ctx context.Context) []string {
	e.store.mu.Lock()
	ids := e.store.clearWatchesLocked()
	e.reconcileLocked()
	e.store.mu.Unlock()

	if len(ids) > 0 {
		e.releaseIdle(ctx)
	}
	return ids
}

// Status is a point-in-time view of the engine.
type Status struct {
	Routes    int       `json:"routes"`
	FetchedAt time.Time `json:"fetched_at"`
	Watches   []Watch   `json:"watches"`
	Scheduled bool      `json:"scheduled"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Status reports snapshot size, fetch time, watches and scheduling.
func (e *Engine) Status() Status {
	e.store.mu.Lock()
	st := Status{
		Routes:    len(e.store.routes),
		FetchedAt: e.store.fetchedAt,
		Watches:   e.store.watchesLocked(),
		Scheduled: e.sched.Armed(),
	}
	e.store.mu.Unlock()

	if st.Scheduled {
		st.NextRun = e.sched.Next()
	}
	return st
}
