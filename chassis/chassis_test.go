package chassis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/shuttlebot/channels"
	"github.com/hazyhaar/shuttlebot/dbopen"
	"github.com/hazyhaar/shuttlebot/history"
	"github.com/hazyhaar/shuttlebot/monitor"
	"github.com/hazyhaar/shuttlebot/route"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type stubMonitor struct {
	status monitor.Status
	routes []route.Route
	at     time.Time
}

func (m stubMonitor) Status() monitor.Status { return m.status }
func (m stubMonitor) Snapshot() ([]route.Route, time.Time) { return m.routes, m.at }

type failingHistory struct{}

func (failingHistory) RecentFetches(context.Context, int) ([]history.FetchEntry, error) {
	return nil, errors.New("disk gone")
}

func (failingHistory) RecentAlerts(context.Context, string, int) ([]history.AlertEntry, error) {
	return nil, errors.New("disk gone")
}

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Monitor == nil {
		cfg.Monitor = stubMonitor{}
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

func TestNew_RequiresMonitor(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("want error without monitor")
	}
}

func TestHealthz(t *testing.T) {
	rec := get(t, newServer(t, Config{}), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("body: %v", body)
	}
}

func TestStatus(t *testing.T) {
	fetched := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	s := newServer(t, Config{
		Monitor: stubMonitor{status: monitor.Status{
			Routes:    2,
			FetchedAt: fetched,
			Scheduled: true,
			Watches:   []monitor.Watch{{ID: "K1", Phase: monitor.Full, Known: true}},
		}},
		Connection: func() channels.ChannelStatus {
			return channels.ChannelStatus{Connected: true, Platform: "discord"}
		},
		BrowserActive: func() bool { return true },
	})

	rec := get(t, s, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body struct {
		Routes    int  `json:"routes"`
		Scheduled bool `json:"scheduled"`
		Watches   []struct {
			ID    string `json:"id"`
			Phase string `json:"phase"`
		} `json:"watches"`
		Connection    *channels.ChannelStatus `json:"connection"`
		BrowserActive *bool                   `json:"browser_active"`
	}
	decode(t, rec, &body)
	if body.Routes != 2 || !body.Scheduled {
		t.Errorf("body: %+v", body)
	}
	if len(body.Watches) != 1 || body.Watches[0].Phase != "full" {
		t.Errorf("watches: %+v", body.Watches)
	}
	if body.Connection == nil || body.Connection.Platform != "discord" {
		t.Errorf("connection: %+v", body.Connection)
	}
	if body.BrowserActive == nil || !*body.BrowserActive {
		t.Errorf("browser_active: %v", body.BrowserActive)
	}
}

func TestRoutes(t *testing.T) {
	rec := get(t, newServer(t, Config{}), "/routes")
	if !strings.Contains(rec.Body.String(), `"fetched_at":null`) || !strings.Contains(rec.Body.String(), `"routes":[]`) {
		t.Errorf("empty snapshot body: %s", rec.Body.String())
	}

	s := newServer(t, Config{Monitor: stubMonitor{
		routes: []route.Route{{ID: "K1", Occupied: 3, Total: 45}},
		at:     time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}})
	var body struct {
		FetchedAt time.Time     `json:"fetched_at"`
		Routes    []route.Route `json:"routes"`
	}
	decode(t, get(t, s, "/routes"), &body)
	if len(body.Routes) != 1 || body.Routes[0].ID != "K1" || body.FetchedAt.IsZero() {
		t.Errorf("body: %+v", body)
	}
}

func TestHistory(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(history.Schema))
	h := history.New(db)
	ctx := context.Background()
	h.RecordFetch(ctx, monitor.FetchEvent{Trigger: "tick", Routes: 7, At: time.Now()})
	h.RecordAlert(ctx, monitor.Evaluate("K1", monitor.Unobserved, route.Route{ID: "K1", Occupied: 45, Total: 45}, true))
	h.RecordAlert(ctx, monitor.Evaluate("K2", monitor.Full, route.Route{}, false))

	s := newServer(t, Config{History: h})

	var fetches []history.FetchEntry
	decode(t, get(t, s, "/history/fetches"), &fetches)
	if len(fetches) != 1 || fetches[0].Routes != 7 {
		t.Errorf("fetches: %+v", fetches)
	}

	var alerts []history.AlertEntry
	decode(t, get(t, s, "/history/alerts?route=k1"), &alerts)
	if len(alerts) != 1 || alerts[0].RouteID != "K1" {
		t.Errorf("alerts: %+v", alerts)
	}
}

func TestHistory_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		path string
		want int
	}{
		{"disabled", Config{}, "/history/fetches", http.StatusNotFound},
		{"bad limit", Config{History: failingHistory{}}, "/history/alerts?limit=x", http.StatusBadRequest},
		{"zero limit", Config{History: failingHistory{}}, "/history/fetches?limit=0", http.StatusBadRequest},
		{"query failure", Config{History: failingHistory{}}, "/history/fetches", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newServer(t, tt.cfg), tt.path)
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s := newServer(t, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
