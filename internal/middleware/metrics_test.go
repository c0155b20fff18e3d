package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totempos/kiosk/internal/middleware"
	"github.com/totempos/kiosk/internal/testutil"
)

func TestMetrics_RecordsRoutePatternAndStatus(t *testing.T) {
	m := testutil.NewTestMetrics()

	r := chi.NewRouter()
	r.Use(middleware.Metrics(m))
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/items/42")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got := promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/items/{id}", "204"))
	assert.Equal(t, 1.0, got)
}

func TestMetrics_DefaultsToOKWhenHandlerWritesNothing(t *testing.T) {
	m := testutil.NewTestMetrics()

	r := chi.NewRouter()
	r.Use(middleware.Metrics(m))
	r.Get("/ok", func(http.ResponseWriter, *http.Request) {})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ok")
	require.NoError(t, err)
	resp.Body.Close()

	got := promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ok", "200"))
	assert.Equal(t, 1.0, got)
}
