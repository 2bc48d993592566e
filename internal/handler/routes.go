package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"todo-relay/internal/config"
	"todo-relay/internal/metrics"
)

// RegisterRoutes sends every path and method on the relay listener to the
// relay handler. Any only covers echo's fixed method list; the RouteNotFound
// entries take precedence over the router's 405 so extension methods such
// as PURGE or MKCOL are relayed too.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler) {
	e.Any("/", relay.Handle)
	e.Any("/*", relay.Handle)
	e.RouteNotFound("/", relay.Handle)
	e.RouteNotFound("/*", relay.Handle)
}

// RegisterAdminRoutes wires health, status and, when enabled, metrics onto
// the admin listener.
func RegisterAdminRoutes(e *echo.Echo, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
