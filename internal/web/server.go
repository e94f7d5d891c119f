// Package web provides the local HTTP status server for the doorbell agent.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/doorbell-agent/internal/logging"
	"github.com/sweeney/doorbell-agent/internal/ring"
	"github.com/sweeney/doorbell-agent/internal/status"
)

// RingFunc triggers a press, as if the button had been pushed.
type RingFunc func(ctx context.Context) ring.Outcome

// Options configures a Server. Gatherer and Ring are optional; the matching
// routes are not registered when they are nil.
type Options struct {
	Addr     string
	Tracker  *status.Tracker
	Gatherer prometheus.Gatherer
	Ring     RingFunc
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ring       RingFunc
	log        logrus.FieldLogger
}

// RingResponse is the body returned by POST /ring.
type RingResponse struct {
	EventID    string `json:"event_id"`
	Registered bool   `json:"registered"`
	Accepted   bool   `json:"accepted"`
	Status     string `json:"status,omitempty"`
	Notified   bool   `json:"notified"`
}

// New creates a Server that reads state from the tracker in opts.
func New(opts Options, log logrus.FieldLogger) *Server {
	s := &Server{
		tracker: opts.Tracker,
		ring:    opts.Ring,
		log:     logging.Component(log, "web"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet, http.MethodHead)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if opts.Ring != nil {
		r.HandleFunc("/ring", s.handleRing).Methods(http.MethodPost)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.WithError(err).Warn("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleRing answers 202 when the press went through, 429 when the cooldown
// swallowed it and 503 when the device is not registered yet.
func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	out := s.ring(r.Context())

	code := http.StatusAccepted
	switch {
	case !out.Registered:
		code = http.StatusServiceUnavailable
	case !out.Accepted:
		code = http.StatusTooManyRequests
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(RingResponse{
		EventID:    out.EventID,
		Registered: out.Registered,
		Accepted:   out.Accepted,
		Status:     string(out.Status),
		Notified:   out.Notified,
	})
}
