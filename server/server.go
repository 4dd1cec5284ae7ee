// server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/chhz0/taskd/core"
	"github.com/chhz0/taskd/logger"
	"github.com/chhz0/taskd/middleware"
)

const defaultShutdownTimeout = 30 * time.Second

type Config struct {
	HTTPAddr string
	// Schedule is a cron spec for the tick trigger; empty disables it.
	Schedule        string
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg        Config
	gateway    *core.Gateway
	executor   *core.Executor
	stats      *middleware.Stats
	log        zerolog.Logger
	httpServer *http.Server
}

func NewServer(cfg Config, gateway *core.Gateway, executor *core.Executor, stats *middleware.Stats, log zerolog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		cfg:      cfg,
		gateway:  gateway,
		executor: executor,
		stats:    stats,
		log:      log.With().Str("component", "server").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a manual tick may run for the whole tick timeout
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start serves HTTP and fires ticks on the configured schedule until ctx
// ends or the process receives SIGINT/SIGTERM.
func (s *Server) Start(ctx context.Context) error {
	// graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := s.startTrigger(ctx)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.HTTPAddr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err = <-serverErr:
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-shutdownCtx.Done():
			s.log.Warn().Msg("tick still running at shutdown")
		}
	}
	if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

func (s *Server) startTrigger(ctx context.Context) (*cron.Cron, error) {
	if s.cfg.Schedule == "" {
		s.log.Info().Msg("tick trigger disabled")
		return nil, nil
	}
	cl := logger.CronLogger{Log: s.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.executor.Tick(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduled tick failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid tick schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.log.Info().Str("schedule", s.cfg.Schedule).Msg("tick trigger started")
	return c, nil
}
