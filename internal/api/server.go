package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"goldenhour/internal/lighting"
	"goldenhour/internal/location"
	"goldenhour/internal/metrics"
	"goldenhour/internal/solar"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Snapshots buffered per websocket client before ticks are dropped
	streamBuffer = 8

	writeWait = 5 * time.Second
)

// Server provides the HTTP API and the live snapshot stream
type Server struct {
	manager  *lighting.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger
	server   *http.Server
	handler  http.Handler
	upgrader websocket.Upgrader

	streamsMu sync.Mutex
	streams   int
}

// NewServer creates a new API server. A port of 0 disables listening, but
// Handler still serves requests.
func NewServer(manager *lighting.Manager, m *metrics.Metrics, logger *zap.Logger, port int) *Server {
	s := &Server{
		manager: manager,
		metrics: m,
		logger:  logger.Named("api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/windows", s.handleWindows)
	mux.HandleFunc("/api/location/refresh", s.handleRefreshLocation)
	mux.HandleFunc("/ws", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	s.handler = mux

	if port > 0 {
		s.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// RefreshResponse is returned by a successful location refresh
type RefreshResponse struct {
	Fix      location.Fix      `json:"fix"`
	Snapshot lighting.Snapshot `json:"snapshot"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// handleSnapshot returns the latest published snapshot
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.manager.Snapshot())
}

// handleWindows returns the windows for ?date=YYYY-MM-DD, today by default
func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date := s.manager.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := solar.ParseDate(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		date = parsed
	}

	windows, err := s.manager.WindowsFor(date)
	switch {
	case errors.Is(err, lighting.ErrNoLocation):
		s.writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		s.logger.Error("Failed to compute windows", zap.Stringer("date", date), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, windows)
	}
}

// handleRefreshLocation re-triggers the location fix and waits for it
func (s *Server) handleRefreshLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	fix, err := s.manager.RefreshLocation(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	s.writeJSON(w, http.StatusOK, RefreshResponse{Fix: fix, Snapshot: s.manager.Snapshot()})
}

// handleStream upgrades to a websocket and pushes every snapshot
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates := make(chan lighting.Snapshot, streamBuffer)
	unsubscribe := s.manager.Subscribe(func(snap lighting.Snapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer unsubscribe()

	s.trackStream(1)
	defer s.trackStream(-1)

	// Reads only detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.send(conn, s.manager.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case snap := <-updates:
			if err := s.send(conn, snap); err != nil {
				s.logger.Debug("Websocket client write failed", zap.Error(err))
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, snap lighting.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}

func (s *Server) trackStream(delta int) {
	s.streamsMu.Lock()
	s.streams += delta
	n := s.streams
	s.streamsMu.Unlock()

	s.logger.Debug("Websocket clients changed", zap.Int("clients", n))
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.manager.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"located": snap.Located(),
		"loading": snap.Loading,
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This list of endpoints"},
	{Path: "/api/snapshot", Method: "GET", Description: "Current lighting state, next event and countdown"},
	{Path: "/api/windows", Method: "GET", Description: "Lighting windows for ?date=YYYY-MM-DD (default today)"},
	{Path: "/api/location/refresh", Method: "POST", Description: "Request a new location fix"},
	{Path: "/ws", Method: "GET", Description: "Websocket stream of snapshots, one per tick"},
	{Path: "/health", Method: "GET", Description: "Health check"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists the available endpoints as text, HTML or JSON
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, "application/json"):
		s.writeJSON(w, http.StatusOK, endpoints)

	case strings.Contains(accept, "text/html"):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!DOCTYPE html>\n<html>\n<head><title>Golden Hour API</title></head>\n<body>\n<h1>Golden Hour API</h1>\n<ul>\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "<li><code>%s <a href=\"%s\">%s</a></code> %s</li>\n", ep.Method, ep.Path, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</ul>\n</body>\n</html>\n")

	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Golden Hour API\n===============\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-24s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	if s.server == nil {
		s.logger.Info("HTTP API disabled")
		return nil
	}

	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
