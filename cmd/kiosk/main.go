package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/totempos/kiosk/internal/bootstrap"
	"github.com/totempos/kiosk/internal/controller"
	"github.com/totempos/kiosk/internal/infrastructure/printerclient"
	"github.com/totempos/kiosk/internal/infrastructure/syncclient"
	"github.com/totempos/kiosk/internal/infrastructure/tefclient"
	"github.com/totempos/kiosk/internal/orchestrator"
	"github.com/totempos/kiosk/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "kiosk", "kiosk")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	cfg := app.Config

	// --- Ports ---
	provider := tefclient.New(cfg.TEF.BaseURL, cfg.TEF.RequestTimeout, app.Logger)
	printer := printerclient.New(cfg.Printer.BaseURL, cfg.Printer.RequestTimeout, app.Logger)
	syncClient := syncclient.New(syncclient.Config{
		URL:                cfg.Sync.URL,
		RequestTimeout:     cfg.Sync.RequestTimeout,
		BreakerMaxFailures: cfg.Sync.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.Sync.BreakerOpenTimeout,
	}, app.Logger)

	// --- Orchestrator ---
	orch := orchestrator.New(orchestrator.Deps{
		Sales:     app.Repos.Sales,
		Payments:  app.Repos.Payments,
		Receipts:  app.Repos.Receipts,
		Outbox:    app.Repos.Outbox,
		Snapshots: app.Repos.Snapshots,
		Provider:  provider,
		Printer:   printer,
		Config: orchestrator.Config{
			PollInterval:  cfg.TEF.PollInterval,
			PollTimeout:   cfg.TEF.PollTimeout,
			PrintAttempts: cfg.Printer.MaxAttempts,
			PrintDelay:    cfg.Printer.AttemptDelay,
		},
		Logger:  app.Logger,
		Metrics: app.Metrics,
	})

	// Boot resumes any sale left open by a crash.
	if err := orch.Boot(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Boot failed")
		os.Exit(1)
	}

	// --- Outbox worker ---
	outboxWorker := worker.NewOutboxWorker(app.Repos.Outbox, syncClient, worker.Config{
		TickInterval: cfg.Outbox.TickInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		BaseDelay:    cfg.Outbox.BaseDelay,
		Jitter:       cfg.Outbox.Jitter,
	}, app.Logger, app.Metrics)

	// --- HTTP server ---
	router := controller.NewRouter(controller.RouterDeps{
		Orchestrator:  orch,
		Store:         app.Store,
		Metrics:       app.Metrics,
		CORSConfig:    cfg.Server.CORS,
		Logger:        app.Logger,
		EnableTracing: cfg.Observability.EnableTracing,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return outboxWorker.Start(gCtx)
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down...")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Server shutdown failed")
		}
		outboxWorker.Stop()
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Kiosk error")
	}
	app.Logger.Info().Msg("Kiosk exited")
}
