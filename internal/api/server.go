package api

import (
	"context"
	"net"
	"net/http"

	"codeberg.org/mutker/fogctl/internal/engine"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/logger"
)

// Server exposes the engine over HTTP.
type Server struct {
	cfg         Config
	engine      *engine.Engine
	log         logger.Logger
	metrics     http.Handler
	metricsPath string
	handler     http.Handler
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics mounts h at path, outside the versioned API.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

func New(cfg Config, eng *engine.Engine, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		engine: eng,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = s.logging(s.cors(s.routes()))

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()

	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errFactory.Wrap(ErrServe, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	s.log.Info().Msg("HTTP server stopped")

	return nil
}
