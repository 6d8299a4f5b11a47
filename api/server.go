// Package api exposes the governance engine over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Config struct {
	ListenAddr string
	// DefaultConstitution scopes listings that do not name a constitution.
	DefaultConstitution string
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server provides HTTP endpoints
type Server struct {
	engine              Governance
	logger              logrus.FieldLogger
	defaultConstitution string
	gatherer            prometheus.Gatherer
	server              *http.Server
}

// NewServer creates a new Server instance
func NewServer(engine Governance, cfg Config, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		engine:              engine,
		logger:              logger.WithField("component", "api"),
		defaultConstitution: cfg.DefaultConstitution,
		gatherer:            cfg.Gatherer,
	}
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	if s.server == nil {
		return errors.New("api server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind to address %s", s.server.Addr)
	}

	go func() {
		err := s.server.Serve(ln)
		switch {
		case err == nil:
			s.logger.Info("api server stopped normally")
		case errors.Is(err, http.ErrServerClosed):
			s.logger.Info("api server closed gracefully")
		default:
			s.logger.WithField("err", err).Error("api server error")
		}
	}()

	s.logger.WithField("addr", ln.Addr().String()).Info("api server listening")
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
