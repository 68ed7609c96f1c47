// Package server exposes the dashboard and ops HTTP API.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/elonfeng/hnpulse/internal/store"
	"github.com/elonfeng/hnpulse/pkg/analysis"
)

// Server provides the HTTP API consumed by the dashboard UI.
type Server struct {
	store        store.Store
	detector     *analysis.Detector
	activeWindow time.Duration
	port         int
}

// New creates a new HTTP server.
func New(s store.Store, detector *analysis.Detector, activeWindow time.Duration, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if activeWindow == 0 {
		activeWindow = 48 * time.Hour
	}
	return &Server{
		store:        s,
		detector:     detector,
		activeWindow: activeWindow,
		port:         port,
	}
}

// Handler builds the route tree. The dashboard UI runs on a separate
// origin, hence the permissive CORS layer.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/posts", s.handlePosts)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/benchmarks", s.handleBenchmarks)
		r.Get("/digests", s.handleDigests)
		r.Post("/detect", s.handleDetect)
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(r)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), time.Now().Add(-s.activeWindow))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	opts := store.PostListOpts{Limit: 100}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}

	posts, err := s.store.ListPosts(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  posts,
		"count": len(posts),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	opts := store.AlertListOpts{
		Since: time.Now().Add(-24 * time.Hour),
		Limit: 50,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}

	alerts, err := s.store.ListAlerts(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  alerts,
		"count": len(alerts),
	})
}

func (s *Server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	benchmarks, err := s.store.ListBenchmarks(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  benchmarks,
		"count": len(benchmarks),
	})
}

func (s *Server) handleDigests(w http.ResponseWriter, r *http.Request) {
	digests, err := s.store.ListDigests(r.Context(), 20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  digests,
		"count": len(digests),
	})
}

// handleDetect triggers a detection cycle on demand.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	summary, err := s.detector.Detect(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
