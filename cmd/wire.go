package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chhz0/taskd/action"
	"github.com/chhz0/taskd/config"
	"github.com/chhz0/taskd/core"
	"github.com/chhz0/taskd/middleware"
	"github.com/chhz0/taskd/server"
	"github.com/chhz0/taskd/storage"
	"github.com/chhz0/taskd/transport"
	"github.com/chhz0/taskd/types"
)

// app holds everything serve and tick need; Close releases it.
type app struct {
	store     storage.Storage
	transport transport.Transport
	stats     *middleware.Stats
	executor  *core.Executor
	gateway   *core.Gateway
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	statusRetry, err := cfg.Executor.RetryPolicy()
	if err != nil {
		return nil, fmt.Errorf("status retry policy: %w", err)
	}
	store, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	tr, err := transport.Open(ctx, cfg.Dispatch.Messaging, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open messaging: %w", err)
	}

	registry := core.NewTaskRegistry()
	registry.Register(types.ActionWebhook, action.NewWebhook(cfg.Dispatch.WebhookTimeout))
	registry.Register(types.ActionMessage, action.NewMessage(tr, cfg.Dispatch.Messaging.Prefix))

	var limiter *rate.Limiter
	if cfg.Dispatch.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Dispatch.RatePerSec), cfg.Dispatch.Burst)
	}
	stats := middleware.NewStats()
	dispatcher := core.NewDispatcher(registry,
		middleware.Logger(log.With().Str("component", "dispatch").Logger()),
		middleware.Metrics(stats),
		middleware.RateLimit(limiter),
		middleware.Timeout(cfg.Dispatch.WebhookTimeout),
	)

	executor := core.NewExecutor(store, dispatcher, core.ExecutorConfig{
		Workers:        cfg.Executor.Workers,
		TickTimeout:    cfg.Executor.TickTimeout,
		ReconcileAfter: cfg.Executor.ReconcileAfter,
		StatusRetry:    statusRetry,
	}, log)

	return &app{
		store:     store,
		transport: tr,
		stats:     stats,
		executor:  executor,
		gateway:   core.NewGateway(store, registry),
	}, nil
}

func (a *app) server(cfg config.Config, log zerolog.Logger) *server.Server {
	return server.NewServer(server.Config{
		HTTPAddr: cfg.HTTPAddr,
		Schedule: cfg.Executor.Schedule,
	}, a.gateway, a.executor, a.stats, log)
}

func (a *app) Close() error {
	return errors.Join(a.transport.Close(), a.store.Close())
}
