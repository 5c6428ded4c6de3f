// Package statushttp serves a read-only JSON view of the forwarder's
// per-node status tracker, for a scoreboard display or a quick curl check
// in the field.
package statushttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/ingest"
	"github.com/orienteering/yarocd/internal/logging"
)

// Server exposes GET /api/status and GET /api/status/{mac} over the
// forwarder's Tracker snapshot.
type Server struct {
	addr    string
	tracker *ingest.Tracker
	router  *mux.Router
	http    *http.Server
}

// NewServer builds a status server bound to addr (e.g. ":8090"), reading
// from tracker on every request.
func NewServer(addr string, tracker *ingest.Tracker) *Server {
	s := &Server{
		addr:    addr,
		tracker: tracker,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleAll).Methods("GET")
	api.HandleFunc("/status/{mac}", s.handleOne).Methods("GET")
	api.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
}

func (s *Server) handleAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.tracker.Snapshot())
}

func (s *Server) handleOne(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]
	snap := s.tracker.Snapshot()
	entry, ok := snap[mac]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, entry)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("statushttp: failed to encode response", zap.Error(err))
	}
}

// ListenAndServe starts the HTTP server and blocks until it is closed.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
