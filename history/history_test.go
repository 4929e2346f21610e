package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/shuttlebot/dbopen"
	"github.com/hazyhaar/shuttlebot/monitor"
	"github.com/hazyhaar/shuttlebot/route"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestLog(t *testing.T) (*Log, *time.Time) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	n := 0
	h := New(db,
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%03d", n) }),
	)
	return h, &now
}

// ---------------------------------------------------------------------------
// Fetch log
// ---------------------------------------------------------------------------

func TestRecordFetch_RoundTrip(t *testing.T) {
	h, _ := newTestLog(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	h.RecordFetch(ctx, monitor.FetchEvent{Trigger: "load", Routes: 12, Duration: 1500 * time.Millisecond, At: t0})
	h.RecordFetch(ctx, monitor.FetchEvent{Trigger: "tick", Err: errors.New("login failed"), Duration: time.Second, At: t0.Add(time.Minute)})

	got, err := h.RecentFetches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []FetchEntry{
		{ID: "fetch_id-002", Trigger: "tick", Status: "error", ErrorMessage: "login failed", DurationMs: 1000, FetchedAt: t0.Add(time.Minute)},
		{ID: "fetch_id-001", Trigger: "load", Status: "ok", Routes: 12, DurationMs: 1500, FetchedAt: t0},
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("RecentFetches (-want +got):\n%s", diff)
	}
}

func TestRecentFetches_Limit(t *testing.T) {
	h, _ := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		h.RecordFetch(ctx, monitor.FetchEvent{Trigger: "tick", At: base.Add(time.Duration(i) * time.Minute)})
	}
	got, err := h.RecentFetches(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "fetch_id-005" {
		t.Errorf("got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Alert log
// ---------------------------------------------------------------------------

func TestRecordAlert(t *testing.T) {
	h, now := newTestLog(t)
	ctx := context.Background()

	full := route.Route{ID: "K1", BusNumber: "1호", Occupied: 45, Total: 45}
	h.RecordAlert(ctx, monitor.Evaluate("K1", monitor.Unobserved, full, true))
	*now = now.Add(time.Minute)
	h.RecordAlert(ctx, monitor.Evaluate("K2", monitor.Full, route.Route{}, false))

	all, err := h.RecentAlerts(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("alerts: got %d, want 2", len(all))
	}
	if all[0].ID != "alert_id-002" || all[0].RouteID != "K2" || all[0].Outcome != "not_found" {
		t.Errorf("newest: %+v", all[0])
	}
	if all[1].Outcome != "now_full" || all[1].Occupied != 45 || all[1].Total != 45 {
		t.Errorf("oldest: %+v", all[1])
	}
	if all[1].Message == "" {
		t.Error("message should be stored")
	}

	k1, err := h.RecentAlerts(ctx, "K1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(k1) != 1 || k1[0].RouteID != "K1" {
		t.Errorf("filtered: %+v", k1)
	}
}

// ---------------------------------------------------------------------------
// Prune / Open
// ---------------------------------------------------------------------------

func TestPrune(t *testing.T) {
	h, now := newTestLog(t)
	ctx := context.Background()
	old := now.Add(-48 * time.Hour)

	h.RecordFetch(ctx, monitor.FetchEvent{Trigger: "tick", At: old})
	h.RecordFetch(ctx, monitor.FetchEvent{Trigger: "tick", At: *now})
	h.RecordAlert(ctx, monitor.Evaluate("K1", monitor.Full, route.Route{}, false))

	n, err := h.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	got, _ := h.RecentFetches(ctx, 10)
	if len(got) != 1 {
		t.Errorf("fetches left: %d, want 1", len(got))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.db")
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	h.RecordFetch(context.Background(), monitor.FetchEvent{Trigger: "load", Routes: 3})
	got, err := h.RecentFetches(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Routes != 3 || got[0].FetchedAt.IsZero() {
		t.Errorf("got %+v", got)
	}
}

func TestRecordFetch_ClosedDBDoesNotPanic(t *testing.T) {
	h, _ := newTestLog(t)
	h.db.Close()
	h.RecordFetch(context.Background(), monitor.FetchEvent{Trigger: "tick"})
	h.RecordAlert(context.Background(), monitor.Decision{ID: "K1"})
}
