// Package browser owns the Chrome session used to scrape the reservation
// portal: lazy launch via Rod, one stealth page kept logged in between
// fetches, time-based recycling, and an idempotent Release.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("browser: session is closed")

// Config configures the session.
type Config struct {
	// Bin is the Chrome/Chromium binary. Empty lets the launcher find or
	// download one.
	Bin string

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome.
	RemoteURL string

	// Headless runs Chrome without a window. Default: true.
	Headless *bool

	// NoSandbox is needed when running as root inside containers.
	NoSandbox bool

	// RecycleInterval is the maximum lifetime of a Chrome process. The next
	// Acquire after it elapses starts a fresh one. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is a lazily started Chrome with a single page. Its mutex is
// independent of any caller state: it is held only while a caller uses the
// page or while the session is released.
type Session struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	router  *rod.HijackRouter
	startAt time.Time
	closed  bool

	// active mirrors page != nil for readers that must not wait on mu.
	active atomic.Bool
}

// NewSession creates a Session. Chrome is not started until Acquire.
func NewSession(cfg Config) *Session {
	cfg.defaults()
	return &Session{cfg: cfg}
}

// Acquire runs fn with the session page, starting Chrome first if needed.
// The session lock is held for the duration of fn.
func (s *Session) Acquire(ctx context.Context, fn func(page *rod.Page) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.page != nil && time.Since(s.startAt) > s.cfg.RecycleInterval {
		s.cfg.Logger.Info("browser: recycle interval reached", "uptime", time.Since(s.startAt))
		s.cleanupLocked()
	}

	if s.page == nil {
		if err := s.launchLocked(); err != nil {
			s.cleanupLocked()
			return err
		}
	}

	return fn(s.page.Context(ctx))
}

// Active reports whether Chrome is currently running. It does not wait for
// an in-flight Acquire.
func (s *Session) Active() bool {
	return s.active.Load()
}

// Release closes the page and Chrome. The next Acquire logs in from
// scratch. Safe to call when nothing is running.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil && s.browser == nil && s.lnch == nil {
		return nil
	}
	s.cleanupLocked()
	s.cfg.Logger.Info("browser: session released")
	return nil
}

// Close releases the session and makes further Acquire calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cleanupLocked()
	return nil
}

func (s *Session) launchLocked() error {
	log := s.cfg.Logger

	var wsURL string
	if s.cfg.RemoteURL != "" {
		wsURL = s.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(*s.cfg.Headless)
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		if s.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		// Anti-detection and small /dev/shm in containers.
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", *s.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		return fmt.Errorf("browser: create page: %w", err)
	}
	s.page = page

	if len(s.cfg.ResourceBlocking) > 0 {
		s.router = applyResourceBlocking(page, s.cfg.ResourceBlocking)
	}

	s.startAt = time.Now()
	s.active.Store(true)
	return nil
}

func (s *Session) cleanupLocked() {
	s.active.Store(false)
	log := s.cfg.Logger
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			log.Debug("browser: stop hijack router", "error", err)
		}
		s.router = nil
	}
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			log.Debug("browser: close page", "error", err)
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			log.Warn("browser: close", "error", err)
		}
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}
