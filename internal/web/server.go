// Package web provides an HTTP status server for the benchmark harness.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/status"
)

// defaultLive is how many recent cycles and samples /live.json returns.
const defaultLive = 20

// maxLive bounds the n query parameter of /live.json.
const maxLive = 1000

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	run        atomic.Pointer[engine.Run]
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/live.json", s.handleLive)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// SetRun sets the run whose live snapshot /live.json serves. Finished runs
// keep being served until replaced.
func (s *Server) SetRun(r *engine.Run) {
	s.run.Store(r)
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	var live *engine.Snapshot
	if run := s.run.Load(); run != nil {
		snap := run.Snapshot(0)
		live = &snap
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot(), live)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	run := s.run.Load()
	if run == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	n := defaultLive
	if q := r.URL.Query().Get("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			http.Error(w, "n must be a non-negative integer", http.StatusBadRequest)
			return
		}
		n = min(v, maxLive)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(formatLive(run.Snapshot(n)))
}
