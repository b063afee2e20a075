// Package api provides a thin HTTP status/streaming surface over the
// scan orchestrator. It is the external reporting collaborator
// spec.md's scope section describes: it consumes HostResults the core
// produces, it never drives scanning decisions itself.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/osprey/internal/logging"
	"github.com/anstrom/osprey/internal/metrics"
	"github.com/anstrom/osprey/internal/orchestrator"
)

const (
	serverShutdownTimeout = 30 * time.Second
)

// Config holds API server configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	EnableCORS     bool
	CORSOrigins    []string
}

// DefaultConfig returns the documented defaults for the status/streaming
// surface.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		EnableCORS:     true,
		CORSOrigins:    []string{"*"},
	}
}

// Server exposes liveness/health/status endpoints, a one-shot scan
// trigger, and a websocket stream of HostResults as an orchestrator run
// progresses.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	orch       *orchestrator.Orchestrator
	metrics    *metrics.Registry
	ws         *streamHandler
	startTime  time.Time

	mu      sync.Mutex
	lastRun []orchestrator.HostResult
}

// New builds a Server around orch, wiring routes and middleware in the
// same order the teacher's API server does: recovery, logging, CORS.
func New(cfg Config, orch *orchestrator.Orchestrator) *Server {
	router := mux.NewRouter()
	registry := metrics.NewRegistry()

	s := &Server{
		router:    router,
		orch:      orch,
		metrics:   registry,
		ws:        newStreamHandler(registry),
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.setupMiddleware(cfg)

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:        router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/liveness", s.livenessHandler).Methods("GET")
	v1.HandleFunc("/health", s.healthHandler).Methods("GET")
	v1.HandleFunc("/status", s.statusHandler).Methods("GET")
	v1.HandleFunc("/results", s.resultsHandler).Methods("GET")
	v1.HandleFunc("/scans", s.triggerScanHandler).Methods("POST")
	v1.HandleFunc("/ws/scans", s.ws.Handle).Methods("GET")

	s.router.HandleFunc("/", s.indexHandler).Methods("GET")
}

func (s *Server) setupMiddleware(cfg Config) {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	if cfg.EnableCORS {
		corsOrigins := handlers.AllowedOrigins(cfg.CORSOrigins)
		corsHeaders := handlers.AllowedHeaders([]string{"Content-Type"})
		corsMethods := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})
		s.router.Use(handlers.CORS(corsOrigins, corsHeaders, corsMethods))
	}
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error("panic recovered in API handler", "error", rec, "path", r.URL.Path)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("API request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	logging.Info("starting API server", "address", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	s.ws.shutdown()
	return nil
}

// RunScan drives an orchestrator run, streaming each HostResult to
// connected websocket clients as it completes, and caches the finished
// batch for /api/v1/results.
func (s *Server) RunScan(ctx context.Context, targets []string, portSpec string) ([]orchestrator.HostResult, error) {
	results, err := s.orch.RunStreaming(ctx, targets, portSpec, s.ws.broadcast)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastRun = results
	s.mu.Unlock()
	return results, nil
}

func (s *Server) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	count := len(s.lastRun)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":            time.Since(s.startTime).String(),
		"connected_clients": s.ws.clientCount(),
		"last_run_hosts":    count,
		"timestamp":         time.Now().UTC(),
	})
}

func (s *Server) resultsHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	results := s.lastRun
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, results)
}

// scanRequest is the request body for POST /api/v1/scans.
type scanRequest struct {
	Targets []string `json:"targets"`
	Ports   string   `json:"ports"`
}

func (s *Server) triggerScanHandler(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Targets) == 0 {
		http.Error(w, "targets is required", http.StatusBadRequest)
		return
	}
	if req.Ports == "" {
		req.Ports = "top100"
	}

	results, err := s.RunScan(r.Context(), req.Targets, req.Ports)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) indexHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "osprey",
		"version": "v1",
		"endpoints": map[string]string{
			"liveness": "/api/v1/liveness",
			"health":   "/api/v1/health",
			"status":   "/api/v1/status",
			"results":  "/api/v1/results",
			"scans":    "/api/v1/scans",
			"stream":   "/api/v1/ws/scans",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("failed to encode API response", "error", err)
	}
}
