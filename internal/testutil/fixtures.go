package testutil

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/infrastructure/observability"
)

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// NewTestMetrics returns metrics backed by a throwaway registry so tests
// never collide on the default registerer.
func NewTestMetrics() *observability.Metrics {
	return observability.NewMetrics("kiosk_test", prometheus.NewRegistry())
}

// Espresso is a cheap cart item fixture.
func Espresso() sale.CartItem {
	return sale.CartItem{SKU: "SKU-ESP", Name: "Espresso", UnitPriceCents: 1290, Quantity: 1}
}

// Croissant is a second cart item fixture with quantity above one.
func Croissant() sale.CartItem {
	return sale.CartItem{SKU: "SKU-CRO", Name: "Croissant", UnitPriceCents: 850, Quantity: 2}
}
