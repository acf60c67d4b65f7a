// Package gateway serves the HTTP and WebSocket surface of taskvox.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dohr-michael/taskvox/internal/conversation"
	"github.com/dohr-michael/taskvox/internal/events"
	"github.com/dohr-michael/taskvox/internal/gateway/ws"
	"github.com/dohr-michael/taskvox/internal/storage"
	"github.com/dohr-michael/taskvox/internal/tasks"
)

// maxConverseBody caps the request body of POST /api/converse.
const maxConverseBody = 1 << 20

// Server is the taskvox gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	store      tasks.Store
	runner     ws.Runner
	logDir     string // event log directory, empty when logging is off
	now        func() time.Time
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, store tasks.Store, runner ws.Runner, host string, port int) *Server {
	hub := ws.NewHub(bus, runner)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:    hub,
		bus:    bus,
		store:  store,
		runner: runner,
		now:    time.Now,
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Post("/api/converse", s.handleConverse)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleTasks)
		r.Get("/summary", s.handleSummary)
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// SetEventLogDir enables GET /api/events?session= over the JSONL event log
// kept in dir.
func (s *Server) SetEventLogDir(dir string) {
	s.logDir = dir
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("taskvox gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.ClientCount()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		writeJSON(w, http.StatusOK, s.bus.History(limit))
		return
	}
	if s.logDir == "" {
		writeError(w, http.StatusNotFound, "event log is disabled")
		return
	}
	logged, err := storage.ReadEvents(s.logDir, session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(logged) > limit {
		logged = logged[len(logged)-limit:]
	}
	if logged == nil {
		logged = []events.Event{}
	}
	writeJSON(w, http.StatusOK, logged)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	var filter tasks.ListFilter
	if v := r.URL.Query().Get("status"); v != "" && v != "all" {
		filter.Status = tasks.TaskStatus(v)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status: "+v)
			return
		}
	}

	list, err := s.store.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summarize(s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ConverseRequest is the body of POST /api/converse.
type ConverseRequest struct {
	SessionID string              `json:"session_id,omitempty"`
	Turns     []conversation.Turn `json:"turns"`
}

// ConverseResponse is the reply of POST /api/converse.
type ConverseResponse struct {
	SessionID  string `json:"session_id"`
	Answer     string `json:"answer"`
	Outcome    string `json:"outcome"`
	RoundTrips int    `json:"round_trips"`
}

// handleConverse answers a full transcript delivered by a session layer.
func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	var req ConverseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConverseBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx := events.ContextWithSessionID(r.Context(), req.SessionID)
	res, err := s.runner.Run(ctx, conversation.Reduce(req.Turns), nil)
	if err != nil {
		slog.Debug("converse aborted", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ConverseResponse{
		SessionID:  req.SessionID,
		Answer:     res.Answer,
		Outcome:    string(res.Outcome),
		RoundTrips: res.RoundTrips,
	})
}
