// Package httpserver wraps http.Server with the timeouts we want everywhere.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

// New returns an http.Server with sane defaults for a public-facing gateway.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Server is a thin wrapper so main does not touch http.Server fields directly.
type Server struct {
	srv *http.Server
}

func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
