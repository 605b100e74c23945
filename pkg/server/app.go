package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketsync/internal/domain/repository"
	"marketsync/internal/service/banguard"
	"marketsync/internal/usecase"
	"marketsync/pkg/blobstore"
	"marketsync/pkg/cache"
	"marketsync/pkg/config"
	xhttp "marketsync/pkg/http"
	"marketsync/pkg/logger"
)

// App encapsulates the application lifecycle: the HTTP and websocket
// surface plus the background loops and the stores they flush into.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *xhttp.Server
	tickers    *usecase.TickerAggregator
	orders     *usecase.OrderTracker
	publisher  repository.EventPublisher
	cache      cache.Service
	durable    blobstore.Store
	guard      *banguard.Guard
}

// New creates an App instance with all dependencies.
func New(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	tickers *usecase.TickerAggregator,
	orders *usecase.OrderTracker,
	publisher repository.EventPublisher,
	c cache.Service,
	durable blobstore.Store,
	guard *banguard.Guard,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		tickers:    tickers,
		orders:     orders,
		publisher:  publisher,
		cache:      c,
		durable:    durable,
		guard:      guard,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.log.Info("server started",
		logger.Int("port", a.cfg.Server.Port),
		logger.String("env", a.cfg.Environment))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops the background loops first so nothing writes into the
// stores while they close.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.tickers.Stop()
	a.orders.Stop()
	a.orders.FlushNow()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", logger.Error(err))
	}
	if err := a.publisher.Close(); err != nil {
		a.log.Warn("publisher close", logger.Error(err))
	}
	if client := a.guard.Client(); client != nil {
		if err := client.Close(); err != nil {
			a.log.Warn("exchange close", logger.Error(err))
		}
	}
	if err := a.durable.Close(); err != nil {
		a.log.Warn("durable store close", logger.Error(err))
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warn("cache close", logger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
