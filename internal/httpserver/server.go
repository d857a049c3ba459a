package httpserver

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server is the local cart API listener.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New returns a Server for addr. It fails when deps lacks a required service.
func New(addr string, logger *zap.Logger, deps Deps, allowedOrigins []string) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler, err := buildRouter(logger, deps, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       time.Minute,
		},
		logger: logger,
	}, nil
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	start := time.Now()
	err := s.srv.Shutdown(ctx)
	s.logger.Info("http server drained", zap.Duration("took", time.Since(start)), zap.Error(err))
	return err
}
