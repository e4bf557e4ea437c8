package webchat

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type ServerConfig struct {
	Addr            string
	Router          *Router
	ShutdownTimeout time.Duration
}

// Server drives the stream hub and the HTTP server lifecycle.
type Server struct {
	router          *Router
	httpSrv         *http.Server
	shutdownTimeout time.Duration
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("server router is nil")
	}
	if cfg.Addr == "" {
		return nil, errors.New("server addr is empty")
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		router: cfg.Router,
		httpSrv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Router.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			// Chat turns wait on the provider, so writes get more room than reads.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		shutdownTimeout: timeout,
	}, nil
}

func (s *Server) HTTPServer() *http.Server {
	if s == nil {
		return nil
	}
	return s.httpSrv
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	eg, egCtx := errgroup.WithContext(ctx)

	if s.router.hub != nil {
		eg.Go(func() error { return s.router.hub.Run(egCtx) })
	}

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down chatrooms server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting chatrooms server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}
