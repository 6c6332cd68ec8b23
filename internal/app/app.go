// Package app wires the polling scheduler, the fan-out sinks, and the HTTP
// API together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"enviroflow/internal/adapter"
	"enviroflow/internal/config"
	"enviroflow/internal/creds"
	"enviroflow/internal/database"
	"enviroflow/internal/poll"
	"enviroflow/internal/server"
)

const (
	httpWriteTimeout = 30 * time.Second
	httpReadTimeout  = 10 * time.Second
	httpIdleTimeout  = 60 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// App orchestrates the scheduler and the API server.
type App struct {
	cfg        config.AppConfig
	log        *slog.Logger
	scheduler  *Scheduler
	publisher  *Publisher
	latest     *LatestCache
	httpServer *http.Server
}

// New builds an App with all dependencies wired.
func New(ctx context.Context, cfg config.AppConfig, store database.Store, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	decryptor, err := creds.NewAESGCM(key)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	poller := poll.New(store, decryptor, registry, logger)

	publisher, err := NewPublisher(cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("mqtt publisher: %w", err)
	}

	latest, err := NewLatestCache(ctx, cfg.Redis, store, logger)
	if err != nil {
		return nil, fmt.Errorf("latest cache: %w", err)
	}

	scheduler := NewScheduler(store, poller, publisher, latest, cfg, logger)

	// A typed nil inside the interface would dodge the server's nil check.
	var latestSrc server.LatestSource
	if latest != nil {
		latestSrc = latest
	}
	srv, err := server.New(store, latestSrc, scheduler, logger)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: httpReadTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	return &App{
		cfg:        cfg,
		log:        logger.With("component", "app"),
		scheduler:  scheduler,
		publisher:  publisher,
		latest:     latest,
		httpServer: httpServer,
	}, nil
}

// NewRegistry builds the adapter registry with every supported brand bound,
// sharing one token cache across adapters.
func NewRegistry() *adapter.Registry {
	tokens := adapter.NewTokenCache()

	registry := adapter.NewRegistry()
	registry.Register(database.BrandACInfinity, adapter.NewACInfinity(tokens))
	registry.Register(database.BrandInkbird, adapter.NewInkbird(tokens))
	registry.Register(database.BrandEcowitt, adapter.NewEcowitt())
	return registry
}

// Run starts the services and blocks until the context is cancelled or an
// error occurs.
func (a *App) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.Info("service started", "service", "scheduler")
		a.scheduler.Run(ctx)
		a.log.Info("service stopped", "service", "scheduler")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.Info("http listening", "addr", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("http shutdown failed", "err", err)
	}

	cancel()
	wg.Wait()

	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.latest != nil {
		if err := a.latest.Close(); err != nil {
			a.log.Error("redis close failed", "err", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
