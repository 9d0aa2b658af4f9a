// Package ops exposes the operator HTTP surface: session listing,
// transition history, and the recovery acknowledgement that releases a
// session from ERROR. Recovery is deliberately manual and guarded by a
// TOTP code so an automated retry loop can never un-park a faulted
// session.
package ops

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"pumpwatch/internal/model"
	"pumpwatch/internal/session"
)

// Journal is the read side of the transition log.
type Journal interface {
	ReadTransitions(sessionID string, limit int) ([]model.TransitionRecord, error)
}

// Config for the ops server.
type Config struct {
	Addr string

	// TOTPSecret guards POST /recover. Empty disables the recovery
	// endpoint entirely rather than leaving it open.
	TOTPSecret string

	// Stream, if set, is mounted at /ws (the event broadcast hub).
	Stream http.Handler
}

// Server is the operator API.
type Server struct {
	cfg     Config
	mgr     *session.Manager
	journal Journal
	srv     *http.Server
}

// setCORS sets CORS headers for REST endpoints.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// NewServer builds the ops server over a session manager and journal.
func NewServer(cfg Config, mgr *session.Manager, journal Journal) *Server {
	s := &Server{cfg: cfg, mgr: mgr, journal: journal}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", s.handleSession)
	if cfg.Stream != nil {
		mux.Handle("/ws", cfg.Stream)
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[ops] server listening on %s", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[ops] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the ops server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.mgr.List())
}

// handleSession routes /api/v1/sessions/{id}/transitions and
// /api/v1/sessions/{id}/recover.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]

	switch action {
	case "transitions":
		s.handleTransitions(w, r, id)
	case "recover":
		s.handleRecover(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request, id string) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	recs, err := s.journal.ReadTransitions(id, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.TOTPSecret == "" {
		http.Error(w, "recovery endpoint disabled", http.StatusForbidden)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if !totp.Validate(req.Code, s.cfg.TOTPSecret) {
		log.Printf("[ops] rejected recovery for %s: bad TOTP code", id)
		http.Error(w, "invalid code", http.StatusUnauthorized)
		return
	}

	if err := s.mgr.Acknowledge(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	log.Printf("[ops] session %s recovered by operator", id)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"recovered":true}`))
}
