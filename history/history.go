// Package history keeps an append-only SQLite log of fetch attempts and
// alerts sent. It is an audit trail only: monitoring state is never restored
// from it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/shuttlebot/dbopen"
	"github.com/hazyhaar/shuttlebot/idgen"
	"github.com/hazyhaar/shuttlebot/monitor"
)

// Schema creates the history tables.
const Schema = `
CREATE TABLE IF NOT EXISTS fetch_log (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    status        TEXT NOT NULL,
    routes        INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_time ON fetch_log(fetched_at DESC);

CREATE TABLE IF NOT EXISTS alert_log (
    id        TEXT PRIMARY KEY,
    route_id  TEXT NOT NULL,
    outcome   TEXT NOT NULL,
    occupied  INTEGER NOT NULL DEFAULT 0,
    total     INTEGER NOT NULL DEFAULT 0,
    message   TEXT NOT NULL,
    sent_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_log_route ON alert_log(route_id, sent_at DESC);
`

// FetchEntry is one row of fetch_log.
type FetchEntry struct {
	ID           string    `json:"id"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"` // "ok" or "error"
	Routes       int       `json:"routes"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// AlertEntry is one row of alert_log.
type AlertEntry struct {
	ID       string    `json:"id"`
	RouteID  string    `json:"route_id"`
	Outcome  string    `json:"outcome"`
	Occupied int       `json:"occupied"`
	Total    int       `json:"total"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// Log writes and reads the history tables. It implements monitor.Recorder.
type Log struct {
	db      *sql.DB
	newID   idgen.Generator
	fetchID idgen.Generator
	alertID idgen.Generator
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) Option { return func(h *Log) { h.logger = l } }

// WithClock overrides the clock used for alert timestamps.
func WithClock(now func() time.Time) Option { return func(h *Log) { h.now = now } }

// WithIDGenerator overrides row ID generation. Default: UUIDv7. Fetch rows
// get a "fetch_" prefix, alert rows "alert_".
func WithIDGenerator(g idgen.Generator) Option { return func(h *Log) { h.newID = g } }

// Open opens (creating if needed) the history database at path.
func Open(path string, opts ...Option) (*Log, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an already-opened database that has Schema applied.
func New(db *sql.DB, opts ...Option) *Log {
	h := &Log{
		db:     db,
		newID:  idgen.Default,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	h.fetchID = idgen.Prefixed("fetch_", h.newID)
	h.alertID = idgen.Prefixed("alert_", h.newID)
	return h
}

// Close closes the database.
func (h *Log) Close() error { return h.db.Close() }

// RecordFetch appends one fetch attempt. Write failures are logged, never
// returned: the history log must not affect monitoring.
func (h *Log) RecordFetch(ctx context.Context, ev monitor.FetchEvent) {
	status, msg := "ok", ""
	if ev.Err != nil {
		status, msg = "error", ev.Err.Error()
	}
	at := ev.At
	if at.IsZero() {
		at = h.now()
	}
	_, err := dbopen.Exec(ctx, h.db,
		`INSERT INTO fetch_log (id, kind, status, routes, error_message, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.fetchID(), ev.Trigger, status, ev.Routes, msg, ev.Duration.Milliseconds(), at.UnixMilli(),
	)
	if err != nil {
		h.logger.Warn("history: record fetch", "error", err)
	}
}

// RecordAlert appends one alert that was handed to the notifier.
func (h *Log) RecordAlert(ctx context.Context, d monitor.Decision) {
	_, err := dbopen.Exec(ctx, h.db,
		`INSERT INTO alert_log (id, route_id, outcome, occupied, total, message, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.alertID(), d.ID, d.Outcome.String(), d.Route.Occupied, d.Route.Total, d.Message(), h.now().UnixMilli(),
	)
	if err != nil {
		h.logger.Warn("history: record alert", "route", d.ID, "error", err)
	}
}

// RecentFetches returns the latest fetch attempts, newest first.
func (h *Log) RecentFetches(ctx context.Context, limit int) ([]FetchEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, kind, status, routes, error_message, duration_ms, fetched_at
		FROM fetch_log ORDER BY fetched_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query fetches: %w", err)
	}
	defer rows.Close()

	var out []FetchEntry
	for rows.Next() {
		var e FetchEntry
		var at int64
		if err := rows.Scan(&e.ID, &e.Trigger, &e.Status, &e.Routes,
			&e.ErrorMessage, &e.DurationMs, &at); err != nil {
			return nil, fmt.Errorf("history: scan fetch: %w", err)
		}
		e.FetchedAt = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentAlerts returns the latest alerts, newest first. A non-empty routeID
// restricts the result to that route.
func (h *Log) RecentAlerts(ctx context.Context, routeID string, limit int) ([]AlertEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, route_id, outcome, occupied, total, message, sent_at FROM alert_log`
	args := []any{}
	if routeID != "" {
		query += ` WHERE route_id = ?`
		args = append(args, routeID)
	}
	query += ` ORDER BY sent_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertEntry
	for rows.Next() {
		var e AlertEntry
		var at int64
		if err := rows.Scan(&e.ID, &e.RouteID, &e.Outcome, &e.Occupied, &e.Total, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("history: scan alert: %w", err)
		}
		e.SentAt = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes rows older than cutoff and returns how many were removed.
func (h *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM fetch_log WHERE fetched_at < ?`,
		`DELETE FROM alert_log WHERE sent_at < ?`,
	} {
		res, err := dbopen.Exec(ctx, h.db, q, cutoff.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("history: prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
