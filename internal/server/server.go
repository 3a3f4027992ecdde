// Package server exposes the pipeline control surface over HTTP: run
// control, article and stats queries, and a websocket stream of progress
// events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"NewsAgency/internal/attest"
	"NewsAgency/internal/broadcast"
	"NewsAgency/internal/domain"
	"NewsAgency/internal/ports"
	"NewsAgency/internal/usecase"
)

// StatusProber reports the ledger connection state without failing.
type StatusProber interface {
	ProbeStatus(ctx context.Context) attest.Status
}

// Deps wires the HTTP layer's collaborators.
type Deps struct {
	Orchestrator    *usecase.Orchestrator
	Store           ports.RunStore
	Broadcaster     *broadcast.Broadcaster
	Ledger          StatusProber
	Logger          *slog.Logger
	DefaultDuration time.Duration
}

// Server handles the HTTP and websocket control surface.
type Server struct {
	orchestrator    *usecase.Orchestrator
	store           ports.RunStore
	broadcaster     *broadcast.Broadcaster
	ledger          StatusProber
	logger          *slog.Logger
	defaultDuration time.Duration
	upgrader        websocket.Upgrader
}

// New constructs the server.
func New(deps Deps) *Server {
	duration := deps.DefaultDuration
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	return &Server{
		orchestrator:    deps.Orchestrator,
		store:           deps.Store,
		broadcaster:     deps.Broadcaster,
		ledger:          deps.Ledger,
		logger:          deps.Logger,
		defaultDuration: duration,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pipeline/start", s.handleStart)
	mux.HandleFunc("POST /api/pipeline/stop", s.handleStop)
	mux.HandleFunc("GET /api/pipeline/status", s.handleStatus)
	mux.HandleFunc("GET /api/articles", s.handleArticles)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/attestation/status", s.handleAttestationStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

type startRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	// An empty body means the default duration.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	duration := s.defaultDuration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}

	runID, err := s.orchestrator.Start(r.Context(), duration)
	if errors.Is(err, usecase.ErrAlreadyRunning) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("pipeline start failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start pipeline")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":           runID,
		"duration_minutes": int(duration.Minutes()),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.Stop()
	s.writeJSON(w, http.StatusOK, map[string]any{"stopping": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orchestrator.Status())
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ports.ArticleFilter{
		RunID:        query.Get("run_id"),
		Source:       query.Get("source"),
		AttestedOnly: query.Get("attested") == "true",
	}
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	articles, err := s.store.ListArticles(r.Context(), filter, limit)
	if err != nil {
		s.logger.Error("article listing failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"articles": articles, "count": len(articles)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.DashboardStats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAttestationStatus(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeJSON(w, http.StatusOK, attest.Status{Error: "ledger not configured"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.ledger.ProbeStatus(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"observers": s.broadcaster.ObserverCount(),
	})
}

// handleWebSocket upgrades the connection and attaches it to the progress
// broadcaster. A failed write detaches the observer; the read loop exists
// only to notice the peer closing.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	observer := &wsObserver{conn: conn}
	detach := s.broadcaster.Attach(observer)

	go func() {
		defer func() {
			detach()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// wsObserver adapts a websocket connection to ports.Observer. The stages
// publish from concurrent goroutines and gorilla connections allow only
// one writer, so Send serializes writes with a mutex.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ ports.Observer = (*wsObserver)(nil)

func (o *wsObserver) Send(event domain.ProgressEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return o.conn.WriteJSON(event)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
