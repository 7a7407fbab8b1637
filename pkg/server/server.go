// Package server exposes pending interventions and live run events over HTTP.
//
//	GET  /healthz                 liveness
//	GET  /metrics                 Prometheus metrics
//	GET  /interventions           open requests, oldest first
//	GET  /interventions/{id}      one open request
//	POST /interventions/{id}      resolve with an InterventionDecision body
//	GET  /events                  WebSocket stream of run events; clients may
//	                              also send {"action":"resolve",...}
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/testpilot/pkg/intervention"
	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/types"
)

// maxBodyBytes bounds a decision request body.
const maxBodyBytes = 64 << 10

// Gateway is the intervention surface served over HTTP.
type Gateway interface {
	Pending() []*types.InterventionRequest
	Get(id string) (*types.InterventionRequest, bool)
	Resolve(id string, decision types.InterventionDecision) error
}

// Server serves the intervention API.
type Server struct {
	gateway Gateway
	hub     *Hub
	logger  *logging.Logger
	router  chi.Router
}

// New creates a Server over gateway. Run events published to Hub() reach
// the WebSocket clients.
func New(gateway Gateway, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		gateway: gateway,
		logger:  logger.WithComponent("server"),
	}
	s.hub = NewHub(gateway, s.logger)
	s.router = s.routes()
	return s
}

// Hub returns the event hub; it implements types.EventSink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", s.hub.HandleWebSocket)

	r.Route("/interventions", func(r chi.Router) {
		r.Get("/", s.handleListInterventions)
		r.Get("/{id}", s.handleGetIntervention)
		r.Post("/{id}", s.handleResolveIntervention)
	})
	return r
}

// ListenAndServe serves on addr until ctx ends. ready, when not nil,
// receives the bound address once the listener is open.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("intervention API listening on %s", ln.Addr())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleListInterventions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"interventions": s.gateway.Pending(),
	})
}

func (s *Server) handleGetIntervention(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := s.gateway.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("no pending intervention %s", id))
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleResolveIntervention(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var decision types.InterventionDecision
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&decision); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid decision body: %w", err))
		return
	}
	decision.Source = types.SourceHuman

	if err := s.gateway.Resolve(id, decision); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	s.logger.Infof("intervention %s resolved over HTTP: %s", id, decision.Action)
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "decision": decision})
}

// statusFor maps gateway errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, intervention.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, intervention.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, intervention.ErrInvalidDecision):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}{
		Error:     err.Error(),
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
