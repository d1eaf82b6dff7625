package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dtroode/electorate-server/internal/model"
)

// HTTPServer wraps an http.Server with address and lifecycle methods.
type HTTPServer struct {
	server *http.Server
	addr   string
}

// NewHTTPServer creates an HTTPServer with given handler and address.
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{Handler: handler},
		addr:   addr,
	}
}

// Start starts serving on the configured address using the provided security
// layer.
func (s *HTTPServer) Start(securityLayer model.SecurityLayer) error {
	listener, err := securityLayer.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Address returns the configured listen address.
func (s *HTTPServer) Address() string {
	return s.addr
}
