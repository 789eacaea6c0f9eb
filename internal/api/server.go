package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all HTTP routes. CORS wraps the router from the
// outside so preflight OPTIONS requests are answered even though no route
// registers the method.
func (h *Handler) SetupRoutes(rateLimiter *RateLimiter) http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(RateLimitMiddleware(rateLimiter))

	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.TerminateSession).Methods("DELETE")

	r.Use(metricsMiddleware)

	return corsMiddleware(r)
}

// routePattern returns the mux route template for metrics labels, so
// per-session paths don't explode label cardinality.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// Server wraps the API HTTP server.
type Server struct {
	httpServer *http.Server
}

// NewServer creates the API server on the given port.
func NewServer(port int, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
