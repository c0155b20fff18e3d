package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/domain/payment"
	"github.com/totempos/kiosk/internal/domain/receipt"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/infrastructure/config"
	"github.com/totempos/kiosk/internal/infrastructure/memstore"
	"github.com/totempos/kiosk/internal/infrastructure/observability"
	"github.com/totempos/kiosk/internal/infrastructure/sqlite"
	"github.com/totempos/kiosk/internal/orchestrator"
)

// Repositories bundles one persistence backend's record families.
type Repositories struct {
	Sales     sale.Repository
	Payments  payment.Repository
	Receipts  receipt.Repository
	Outbox    outbox.Repository
	Snapshots orchestrator.SnapshotStore
}

// StoreHandle is the backend lifecycle surface the app holds on to.
type StoreHandle interface {
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Repos   Repositories
	Store   StoreHandle
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info().Str("service", serviceName).Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	}

	switch cfg.Store.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		app.Store = store
		app.Repos = Repositories{
			Sales:     store.Sales(),
			Payments:  store.Payments(),
			Receipts:  store.Receipts(),
			Outbox:    store.Outbox(),
			Snapshots: store.Snapshots(),
		}
		logger.Info().Str("path", cfg.Store.Path).Msg("SQLite store opened")
	default:
		store := memstore.New()
		app.Store = store
		app.Repos = Repositories{
			Sales:     store.Sales(),
			Payments:  store.Payments(),
			Receipts:  store.Receipts(),
			Outbox:    store.Outbox(),
			Snapshots: store.Snapshots(),
		}
		logger.Warn().Msg("In-memory store selected, sales will not survive a restart")
	}

	return app, nil
}

func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close store")
	}
}
