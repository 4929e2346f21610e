package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod"
)

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "xhr": true}

	tests := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"Font", true},
		{"Media", false},
		{"Stylesheet", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(set, tt.resType); got != tt.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", tt.resType, got, tt.want)
		}
	}
}

func TestReleaseIdempotent(t *testing.T) {
	s := NewSession(Config{})
	for i := 0; i < 3; i++ {
		if err := s.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if s.Active() {
		t.Error("session should not be active")
	}
}

func TestAcquireAfterClose(t *testing.T) {
	s := NewSession(Config{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	called := false
	err := s.Acquire(context.Background(), func(*rod.Page) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if called {
		t.Error("fn must not run on a closed session")
	}
}

func TestDefaults(t *testing.T) {
	s := NewSession(Config{})
	if s.cfg.Headless == nil || !*s.cfg.Headless {
		t.Error("headless should default to true")
	}
	if s.cfg.RecycleInterval <= 0 || s.cfg.Logger == nil {
		t.Errorf("defaults not applied: %+v", s.cfg)
	}
}

func TestActive_DoesNotWaitForAcquire(t *testing.T) {
	// WHAT: Active answers while another caller holds the session lock.
	// WHY: the status endpoint must not stall behind a multi-second fetch.
	s := NewSession(Config{})
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan bool)
	go func() { done <- s.Active() }()
	select {
	case active := <-done:
		if active {
			t.Error("session should not be active before launch")
		}
	case <-time.After(time.Second):
		t.Fatal("Active blocked on the session lock")
	}
}
