// Package web provides an HTTP status server for the touch-power daemon.
package web

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/status"
)

// RateSetter queues a refresh-rate change for a timed mode.
type RateSetter interface {
	SetRefreshRate(mode logic.Mode, hz uint32)
}

// Server serves the status page over HTTP and accepts refresh-rate changes.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	rates      RateSetter
}

// New creates a Server that reads state from the given tracker. A nil rates
// disables the /rate endpoint.
func New(addr string, tracker *status.Tracker, rates RateSetter) *Server {
	s := &Server{tracker: tracker, rates: rates}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/rate", s.handleRate)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
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
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleRate takes POST mode=active|alr&hz=N. The change is queued and
// applied by the scheduler at the start of its next iteration, which also
// rejects a rate whose timeout budget is empty or overflows.
func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	if s.rates == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mode, err := logic.ParseMode(r.PostForm.Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if mode == logic.ModeWakeOnTouch {
		http.Error(w, "wot has no refresh rate", http.StatusBadRequest)
		return
	}
	hz, err := strconv.ParseUint(r.PostForm.Get("hz"), 10, 32)
	if err != nil || hz == 0 {
		http.Error(w, fmt.Sprintf("hz must be 1..%d", uint32(math.MaxUint32)), http.StatusBadRequest)
		return
	}

	s.rates.SetRefreshRate(mode, uint32(hz))
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "%s %d\n", mode, hz)
}
