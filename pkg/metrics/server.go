package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

// Server exposes a Collector on /metrics.
type Server struct {
	collector *Collector
	logger    logging.Logger
	server    *http.Server
	listener  net.Listener
}

func NewServer(collector *Collector, logger logging.Logger) *Server {
	return &Server{collector: collector, logger: logger}
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.NewIOError("failed to listen for metrics", err).WithContext("address", address)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.collector.Handler())

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	s.logger.Infof("Metrics server listening, address: %s", listener.Addr())
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.NewIOError("failed to stop metrics server", err)
	}
	s.logger.Infof("Metrics server stopped")
	return nil
}
