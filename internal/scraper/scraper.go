// Package scraper logs into the shuttle reservation portal and reads the
// route grid. The portal renders inside an iframe named "iframeA"; the
// login form and the grid share that frame.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/shuttlebot/route"
)

// DefaultURL is the KIT shuttle reservation page.
const DefaultURL = "https://kit.kumoh.ac.kr/jsp/administration/bus/bus_reservation.jsp"

const (
	frameSelector   = `iframe[name="iframeA"]`
	reservationPath = "bus_reservation.jsp"
	searchLabel     = "조회"
)

// errStaleFrame means the logged-in page could not be re-entered and a fresh
// login is needed.
var errStaleFrame = errors.New("scraper: stale frame")

// Session is the browser session the scraper drives.
type Session interface {
	Acquire(ctx context.Context, fn func(page *rod.Page) error) error
	Release() error
}

// Config configures the scraper.
type Config struct {
	URL      string
	UserID   string
	Password string

	// PageTimeout bounds each wait for an element. Default: 25s.
	PageTimeout time.Duration
	// ReuseTimeout bounds re-entering the frame of an already logged-in page. Default: 5s.
	ReuseTimeout time.Duration
	// LoginDelay is waited after submitting the login form. Default: 3s.
	LoginDelay time.Duration
	// SettleDelay is waited after clicking search for the grid to render. Default: 5s.
	SettleDelay time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 25 * time.Second
	}
	if c.ReuseTimeout <= 0 {
		c.ReuseTimeout = 5 * time.Second
	}
	if c.LoginDelay <= 0 {
		c.LoginDelay = 3 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scraper fetches the route list through a browser session.
type Scraper struct {
	session Session
	cfg     Config
}

// New creates a Scraper.
func New(session Session, cfg Config) *Scraper {
	cfg.defaults()
	return &Scraper{session: session, cfg: cfg}
}

// Fetch returns the current route list. Any failure releases the session so
// the next call starts with a fresh login.
func (s *Scraper) Fetch(ctx context.Context) ([]route.Route, error) {
	html, err := s.grab(ctx)
	if errors.Is(err, errStaleFrame) {
		s.cfg.Logger.Warn("scraper: logged-in page unusable, logging in again", "error", err)
		s.release()
		html, err = s.grab(ctx)
	}
	if err != nil {
		s.release()
		return nil, err
	}

	routes, err := Parse(strings.NewReader(html), s.cfg.Logger)
	if err != nil {
		s.release()
		return nil, err
	}
	s.cfg.Logger.Info("scraper: fetched routes", "count", len(routes))
	return routes, nil
}

func (s *Scraper) release() {
	if err := s.session.Release(); err != nil {
		s.cfg.Logger.Warn("scraper: release session", "error", err)
	}
}

func (s *Scraper) grab(ctx context.Context) (string, error) {
	var html string
	err := s.session.Acquire(ctx, func(page *rod.Page) error {
		frame, err := s.frame(ctx, page)
		if err != nil {
			return err
		}
		html, err = s.search(ctx, frame)
		return err
	})
	return html, err
}

// frame returns the portal frame, logging in unless the page is already on
// the reservation screen.
func (s *Scraper) frame(ctx context.Context, page *rod.Page) (*rod.Page, error) {
	info, err := page.Info()
	if err == nil && strings.Contains(info.URL, reservationPath) {
		frame, err := enterFrame(ctx, page, s.cfg.ReuseTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errStaleFrame, err)
		}
		s.cfg.Logger.Debug("scraper: reusing logged-in page")
		return frame, nil
	}
	return s.login(ctx, page)
}

func (s *Scraper) login(ctx context.Context, page *rod.Page) (*rod.Page, error) {
	log := s.cfg.Logger
	log.Info("scraper: logging in", "url", s.cfg.URL)

	if err := page.Timeout(s.cfg.PageTimeout).Navigate(s.cfg.URL); err != nil {
		return nil, fmt.Errorf("scraper: navigate: %w", err)
	}
	if err := page.Timeout(s.cfg.PageTimeout).WaitLoad(); err != nil {
		log.Warn("scraper: wait load timeout", "error", err)
	}

	frame, err := enterFrame(ctx, page, s.cfg.PageTimeout)
	if err != nil {
		return nil, err
	}

	user, err := frame.Timeout(s.cfg.PageTimeout).Element("#user_id")
	if err != nil {
		return nil, fmt.Errorf("scraper: login form: %w", err)
	}
	if err := user.Input(s.cfg.UserID); err != nil {
		return nil, fmt.Errorf("scraper: type user id: %w", err)
	}
	pw, err := frame.Timeout(s.cfg.PageTimeout).Element("#user_password")
	if err != nil {
		return nil, fmt.Errorf("scraper: password field: %w", err)
	}
	if err := pw.Input(s.cfg.Password); err != nil {
		return nil, fmt.Errorf("scraper: type password: %w", err)
	}

	if err := frame.Timeout(s.cfg.PageTimeout).Wait(rod.Eval(`() => typeof doLogin === 'function'`)); err != nil {
		return nil, fmt.Errorf("scraper: login script not ready: %w", err)
	}
	if _, err := frame.Eval(`() => doLogin()`); err != nil {
		return nil, fmt.Errorf("scraper: submit login: %w", err)
	}

	if err := sleep(ctx, s.cfg.LoginDelay); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *Scraper) search(ctx context.Context, frame *rod.Page) (string, error) {
	btn, err := frame.Timeout(s.cfg.PageTimeout).ElementR("div.cl-text", "^"+searchLabel+"$")
	if err != nil {
		return "", fmt.Errorf("scraper: search button: %w", err)
	}
	btn = btn.Context(ctx)
	if err := btn.WaitVisible(); err != nil {
		return "", fmt.Errorf("scraper: search button not visible: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("scraper: click search: %w", err)
	}

	if err := sleep(ctx, s.cfg.SettleDelay); err != nil {
		return "", err
	}

	html, err := frame.HTML()
	if err != nil {
		return "", fmt.Errorf("scraper: read grid: %w", err)
	}
	return html, nil
}

// enterFrame finds the portal iframe and returns its document bound to ctx.
func enterFrame(ctx context.Context, page *rod.Page, timeout time.Duration) (*rod.Page, error) {
	el, err := page.Timeout(timeout).Element(frameSelector)
	if err != nil {
		return nil, fmt.Errorf("scraper: find frame: %w", err)
	}
	frame, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("scraper: enter frame: %w", err)
	}
	return frame.Context(ctx), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
