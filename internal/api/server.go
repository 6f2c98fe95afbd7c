package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/campaign-engine/internal/ratelimit"
)

// Server wraps the HTTP control plane's listener lifecycle.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer builds a Server from the handler set and rate limiter.
func NewServer(h *Handlers, limiter *ratelimit.Limiter) *Server {
	router := SetupRoutes(h, limiter)
	return &Server{handler: router}
}

// ListenAndServe starts the HTTP server on addr. Timeouts are generous
// since a status poll may be held open by a slow client, but bounded so a
// stalled connection doesn't pin a goroutine forever.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
