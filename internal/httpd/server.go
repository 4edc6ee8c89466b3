// Package httpd assembles and runs the cloud HTTP surface: the token
// endpoint, the fulfillment endpoint and the sync API.
package httpd

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Server is the cloud HTTP server.
type Server struct {
	addr       string
	httpServer *http.Server
}

// NewServer builds the router. The token handler is mounted for all
// methods: it answers non-POST requests itself with the provider's
// expected invalid_grant body.
func NewServer(addr string, token, fulfillment http.Handler, syncRoutes chi.Router, ready func(ctx context.Context) error) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/token", token)
	r.Method(http.MethodPost, "/fulfillment", fulfillment)
	r.Mount("/v1", syncRoutes)

	health := &healthHandler{ready: ready}
	r.Get("/health", health.handleHealth)
	r.Get("/ready", health.handleReady)

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // watch sockets are long-lived
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	log.Info().Str("addr", s.addr).Msg("Starting HTTP server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
