// Package api exposes the daemon's reconciled state over a small REST
// surface for dashboards and the deckctl CLI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/triagedeck-io/triagedeck/internal/logbuf"
	"github.com/triagedeck-io/triagedeck/internal/timeline"
	"github.com/triagedeck-io/triagedeck/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Tail(minLevel slog.Level, limit int) []logbuf.Entry
}

// StateInfo summarizes the daemon for status displays.
type StateInfo struct {
	AgentStatus string `json:"agent_status"`
	SessionID   string `json:"session_id,omitempty"`
	StreamState string `json:"stream_state"`
	BackendUp   bool   `json:"backend_up"`
}

// DeckService is the interface the API server needs from the daemon.
type DeckService interface {
	State(ctx context.Context) StateInfo
	Timelines() []timeline.Entry
	Timeline(emailID string) (timeline.Entry, bool)
	Dismiss(emailID string) bool
	Tickets() []protocol.Ticket
	Ticket(ticketID string) (protocol.Ticket, bool)
	TicketsByType(ctx context.Context, requestType string) ([]protocol.Ticket, error)
	RequestTypes(ctx context.Context) ([]string, error)
	StartAgent(ctx context.Context) error
	StopAgent(ctx context.Context) error
	// SubmitRequest forwards an admin free-text request and returns the id
	// of the timeline entry recording its outcome.
	SubmitRequest(ctx context.Context, request string) string
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the triagedeck REST API server.
type Server struct {
	svc    DeckService
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	srv    *http.Server
}

// NewServer creates a new API server. logs may be nil.
func NewServer(svc DeckService, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/state", s.requireAuth(s.handleState))
	mux.HandleFunc("GET /api/timelines", s.requireAuth(s.handleListTimelines))
	mux.HandleFunc("GET /api/timelines/{id}", s.requireAuth(s.handleGetTimeline))
	mux.HandleFunc("DELETE /api/timelines/{id}", s.requireAuth(s.handleDismissTimeline))
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("GET /api/request-types", s.requireAuth(s.handleRequestTypes))
	mux.HandleFunc("POST /api/agent/start", s.requireAuth(s.handleStartAgent))
	mux.HandleFunc("POST /api/agent/stop", s.requireAuth(s.handleStopAgent))
	mux.HandleFunc("POST /api/requests", s.requireAuth(s.handlePostRequest))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.State(r.Context()))
}

func (s *Server) handleListTimelines(w http.ResponseWriter, _ *http.Request) {
	entries := s.svc.Timelines()
	if entries == nil {
		entries = []timeline.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := s.svc.Timeline(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "timeline not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDismissTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.svc.Dismiss(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "timeline not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	if requestType := r.URL.Query().Get("type"); requestType != "" {
		list, err := s.svc.TicketsByType(r.Context(), requestType)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		if list == nil {
			list = []protocol.Ticket{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	list := s.svc.Tickets()
	if list == nil {
		list = []protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := s.svc.Ticket(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRequestTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.svc.RequestTypes(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if types == nil {
		types = []string{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StartAgent(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	// Status flips only once the stream confirms with a session event.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StopAgent(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type postRequestBody struct {
	Request string `json:"request"`
}

func (s *Server) handlePostRequest(w http.ResponseWriter, r *http.Request) {
	var req postRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Request == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request is required"})
		return
	}

	timelineID := s.svc.SubmitRequest(r.Context(), req.Request)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"timeline_id": timelineID,
	})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	entries := s.logs.Tail(minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
