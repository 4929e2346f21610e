package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNew_BadSpec(t *testing.T) {
	if _, err := New(Config{Spec: "every minute"}, func() {}); err == nil {
		t.Fatal("want parse error")
	}
}

func TestArmDisarm(t *testing.T) {
	s, err := New(Config{Location: time.UTC}, func() {})
	if err != nil {
		t.Fatal(err)
	}
	if s.Armed() || !s.Next().IsZero() {
		t.Fatal("new scheduler should be disarmed")
	}

	s.Arm()
	s.Arm()
	if !s.Armed() {
		t.Fatal("should be armed")
	}
	if got := len(s.cron.Entries()); got != 1 {
		t.Errorf("entries: got %d, want 1 (Arm is idempotent)", got)
	}
	if s.Next().IsZero() {
		t.Error("armed scheduler should report a next run")
	}

	s.Disarm()
	s.Disarm()
	if s.Armed() {
		t.Fatal("should be disarmed")
	}
	if got := len(s.cron.Entries()); got != 0 {
		t.Errorf("entries: got %d, want 0", got)
	}
}

func TestNextFollowsWindow(t *testing.T) {
	s, err := New(Config{Spec: DefaultSpec, Location: time.UTC}, func() {})
	if err != nil {
		t.Fatal(err)
	}
	// Saturday noon: next fire is Monday 00:00.
	sat := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	got := s.schedule.Next(sat)
	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next after %v: got %v, want %v", sat, got, want)
	}
	// Wednesday 05:00 is outside the window: next is 09:00.
	wed := time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)
	if got := s.schedule.Next(wed); !got.Equal(time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("next after %v: got %v", wed, got)
	}
}

func TestArmedJobFires(t *testing.T) {
	fired := make(chan struct{}, 1)
	s, err := New(Config{Spec: "@every 1s", Location: time.UTC}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(context.Background())

	s.Arm()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("armed job did not fire")
	}
}

func TestSpec_Default(t *testing.T) {
	s, err := New(Config{Location: time.UTC}, func() {})
	if err != nil {
		t.Fatal(err)
	}
	if s.Spec() != DefaultSpec {
		t.Errorf("Spec() = %q, want %q", s.Spec(), DefaultSpec)
	}
}
