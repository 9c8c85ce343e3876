package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cdr.dev/slog/v3"

	"github.com/refocus/refocus/internal/config"
)

type Server struct {
	logger slog.Logger
	server *http.Server
	// cancel ends the request contexts of streaming handlers, which
	// http.Server.Shutdown does not wait for.
	cancel context.CancelFunc
}

func NewServer(logger slog.Logger, cfg *config.Config, handler *Handler, customPort int) *Server {
	port := cfg.Web.Port
	if customPort > 0 {
		port = customPort
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Web.Host, fmt.Sprint(port)),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /api/sessions/watch holds its connection open.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	return &Server{
		logger: logger,
		server: httpServer,
		cancel: cancel,
	}
}

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting web server", slog.F("url", "http://"+s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down web server")
	s.cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return s.server.Addr
}
