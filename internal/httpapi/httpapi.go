// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpapi serves jaild's read-only HTTP surface: liveness,
// Prometheus scraping, and a JSON status dump of every jail. Grounded
// on internal/ebpf/controlplane/controlplane.go's
// mux.NewRouter()+http.Server+graceful-Shutdown shape, scoped to GET
// endpoints only — jaild's mutating operations all go through the
// control socket, never HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greywall.dev/jaild/internal/logging"
	"greywall.dev/jaild/internal/server"
)

var log = logging.WithComponent("httpapi")

// Server serves jaild's read-only HTTP API.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	srv        *server.Server
	startedAt  time.Time
}

// New returns a Server bound to addr, backed by srv for status queries
// and exposing reg (if non-nil) at /metrics via promhttp.
func New(addr string, srv *server.Server, reg prometheus.Gatherer) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		srv:       srv,
		startedAt: time.Now(),
	}
	s.setupRoutes(reg)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(reg prometheus.Gatherer) {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/status/{jail}", s.handleJailStatus).Methods(http.MethodGet)
	if reg != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Start begins serving in a background goroutine, matching the
// teacher's fire-and-forget ListenAndServe()+logged-error pattern.
func (s *Server) Start() {
	go func() {
		log.Info("http api listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the HTTP server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.srv.Status("", r.URL.Query().Get("flavor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleJailStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["jail"]
	statuses, err := s.srv.Status(name, r.URL.Query().Get("flavor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statuses[0])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response", "error", err)
	}
}
