// Package chassis serves the read-only HTTP status surface: health, monitor
// status, the last schedule snapshot and the history log.
package chassis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/shuttlebot/channels"
	"github.com/hazyhaar/shuttlebot/history"
	"github.com/hazyhaar/shuttlebot/monitor"
	"github.com/hazyhaar/shuttlebot/route"
)

// Monitor is the read side of the monitoring engine.
type Monitor interface {
	Status() monitor.Status
	Snapshot() ([]route.Route, time.Time)
}

// History is the read side of the history log.
type History interface {
	RecentFetches(ctx context.Context, limit int) ([]history.FetchEntry, error)
	RecentAlerts(ctx context.Context, routeID string, limit int) ([]history.AlertEntry, error)
}

// Config configures the server.
type Config struct {
	Addr    string
	Monitor Monitor
	// History is optional; the history endpoints answer 404 without it.
	History History
	// Connection reports the chat connection state. Optional.
	Connection func() channels.ChannelStatus
	// BrowserActive reports whether the scraping browser is running. Optional.
	BrowserActive func() bool
	Logger        *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	addr   string
	logger *slog.Logger
	router *chi.Mux
	cfg    Config
}

// New builds the router. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Monitor == nil {
		return nil, errors.New("chassis: monitor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{addr: cfg.Addr, logger: cfg.Logger, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/routes", s.handleRoutes)
	r.Route("/history", func(r chi.Router) {
		r.Get("/fetches", s.handleFetches)
		r.Get("/alerts", s.handleAlerts)
	})
	s.router = r
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("chassis: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("chassis: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("chassis: shutdown: %w", err)
	}
	s.logger.Info("chassis: stopped")
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("chassis: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	monitor.Status
	Connection    *channels.ChannelStatus `json:"connection,omitempty"`
	BrowserActive *bool                   `json:"browser_active,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.cfg.Monitor.Status()}
	if s.cfg.Connection != nil {
		cs := s.cfg.Connection()
		resp.Connection = &cs
	}
	if s.cfg.BrowserActive != nil {
		active := s.cfg.BrowserActive()
		resp.BrowserActive = &active
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes, at := s.cfg.Monitor.Snapshot()
	if routes == nil {
		routes = []route.Route{}
	}
	resp := struct {
		FetchedAt *time.Time    `json:"fetched_at"`
		Routes    []route.Route `json:"routes"`
	}{Routes: routes}
	if !at.IsZero() {
		resp.FetchedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFetches(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.cfg.History.RecentFetches(r.Context(), limit)
	if err != nil {
		s.logger.Error("chassis: recent fetches", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if entries == nil {
		entries = []history.FetchEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	routeID := route.NormalizeID(r.URL.Query().Get("route"))
	entries, err := s.cfg.History.RecentAlerts(r.Context(), routeID, limit)
	if err != nil {
		s.logger.Error("chassis: recent alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if entries == nil {
		entries = []history.AlertEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseLimit reads ?limit= (default 50, max 500).
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, 500), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
