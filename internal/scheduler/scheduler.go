// Package scheduler runs the recurring monitor tick on a cron cadence. The
// cron entry exists only while the scheduler is armed; disarming removes it
// so no tick fires while nothing is watched.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec fires every minute on weekdays from 09:00 to 02:59.
const DefaultSpec = "* 0-2,9-23 * * MON-FRI"

// Config configures the scheduler.
type Config struct {
	// Spec is a standard 5-field cron expression. Default: DefaultSpec.
	Spec string
	// Location is the time zone Spec is evaluated in. Default: Asia/Seoul,
	// falling back to time.Local if the zone database is missing.
	Location *time.Location
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Spec == "" {
		c.Spec = DefaultSpec
	}
	if c.Location == nil {
		loc, err := time.LoadLocation("Asia/Seoul")
		if err != nil {
			loc = time.Local
		}
		c.Location = loc
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler arms and disarms a single cron entry that invokes job.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	job      func()
	cfg      Config

	mu    sync.Mutex
	entry cron.EntryID
	armed bool
}

// New parses the cron spec and returns a stopped, disarmed Scheduler.
func New(cfg Config, job func()) (*Scheduler, error) {
	cfg.defaults()
	sched, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", cfg.Spec, err)
	}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLogger{log: cfg.Logger}),
		cron.WithChain(cron.Recover(cronLogger{log: cfg.Logger})),
	)
	return &Scheduler{cron: c, schedule: sched, job: job, cfg: cfg}, nil
}

// Start starts the cron runner. Armed entries fire from now on.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.cfg.Logger.Info("scheduler: started", "spec", s.cfg.Spec, "location", s.cfg.Location.String())
}

// Stop stops the runner and waits for a running job to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.cfg.Logger.Info("scheduler: stopped")
}

// Arm adds the cron entry. No-op when already armed.
func (s *Scheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return
	}
	s.entry = s.cron.Schedule(s.schedule, cron.FuncJob(s.job))
	s.armed = true
}

// Disarm removes the cron entry. No-op when not armed.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return
	}
	s.cron.Remove(s.entry)
	s.entry = 0
	s.armed = false
}

// Armed reports whether the cron entry exists.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Next returns the next fire time, or the zero time when disarmed.
func (s *Scheduler) Next() time.Time {
	if !s.Armed() {
		return time.Time{}
	}
	return s.schedule.Next(time.Now().In(s.cfg.Location))
}

// Spec returns the cron expression in use.
func (s *Scheduler) Spec() string { return s.cfg.Spec }

// cronLogger bridges cron's logger to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
