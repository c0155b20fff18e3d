package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/totempos/kiosk/internal/infrastructure/config"
	"github.com/totempos/kiosk/internal/infrastructure/observability"
	customMW "github.com/totempos/kiosk/internal/middleware"
	"github.com/totempos/kiosk/internal/orchestrator"
)

type RouterDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Store        Pinger
	Metrics      *observability.Metrics
	CORSConfig   config.CORSConfig
	Logger       zerolog.Logger
	// EnableTracing wires the otel middleware; off by default on kiosks
	// with no collector nearby.
	EnableTracing bool
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.EnableTracing {
		r.Use(customMW.Tracing())
	}
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	// The dispatch of PAYMENT_SELECTED_CARD can hold a request for the
	// full poll budget.
	r.Use(chimw.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Store)
	kioskH := NewKioskController(deps.Orchestrator, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/kiosk", func(r chi.Router) {
		r.Get("/state", kioskH.GetState)
		r.Post("/products", kioskH.AddProduct)
		r.Post("/events", kioskH.PostEvent)
		r.Post("/receipts/{saleID}/reprint", kioskH.Reprint)
	})

	return r
}
