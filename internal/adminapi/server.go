// Package adminapi is the daemon's local admin HTTP surface: health,
// Prometheus metrics, and a snapshot of registered peer subscriptions.
// Grounded on the teacher's mux-based Server (router + middleware chain +
// graceful Start/Shutdown), narrowed to the read-only endpoints this
// daemon needs.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Unidata/LDM-sub012/internal/metrics"
	"github.com/Unidata/LDM-sub012/internal/subscription"
)

// Server is the admin HTTP listener.
type Server struct {
	router *mux.Router
	srv    *http.Server
	peers  *subscription.Manager
	log    *zerolog.Logger
}

// New builds a Server bound to addr, exposing /health, /metrics (via reg),
// and /peers (a snapshot of registry).
func New(addr string, reg *prometheus.Registry, registry *subscription.Manager, log *zerolog.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{router: router, peers: registry, log: log}

	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler(reg)).Methods(http.MethodGet)
	router.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.log != nil {
			s.log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Str("request_id", r.Context().Value(requestIDKey{}).(string)).
				Msg("admin request")
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var peers []*subscription.Peer
	if s.peers != nil {
		peers = s.peers.Peers()
	}
	json.NewEncoder(w).Encode(map[string]any{"peers": peers})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]any{"error": "not found"})
}

// Start runs the server until it errors or Shutdown is called.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
