package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"SigPull/internal/usecase"
	pkgch "SigPull/pkg/clickhouse"
	"SigPull/pkg/config"
	xhttp "SigPull/pkg/http"
	applogger "SigPull/pkg/logger"
)

// App encapsulates the pipeline lifecycle: backfill once, then the pull and
// push workers run side by side until a shutdown signal arrives.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	poller     *usecase.Poller
	subscriber *usecase.Subscriber
	backfill   *usecase.Backfill
	fullScan   *usecase.FullScan
	chClient   *pkgch.Client
	handler    xhttp.Handler
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies injected.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	poller *usecase.Poller,
	subscriber *usecase.Subscriber,
	backfill *usecase.Backfill,
	fullScan *usecase.FullScan,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:        cfg,
		logger:     lgr,
		poller:     poller,
		subscriber: subscriber,
		backfill:   backfill,
		fullScan:   fullScan,
		chClient:   chClient,
		handler:    handler,
	}
}

// Run starts the workers and HTTP server and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// backfill runs at most once per deployment; checkpointed internally
	if a.cfg.Backfill.Enabled {
		go func() {
			if _, err := a.backfill.Run(ctx); err != nil {
				a.logger.Error("backfill error", applogger.Error(err))
			}
		}()
	}

	// push path is primary, pull path is the consistency backstop
	if err := a.subscriber.Start(ctx); err != nil {
		a.logger.Error("subscriber start error", applogger.Error(err))
		return err
	}
	a.poller.Start(ctx)

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.poller.Stop()
	a.subscriber.Stop()
	a.fullScan.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
