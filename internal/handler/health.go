// Package handler contains the Echo handlers for the relay and admin listeners.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"todo-relay/internal/model"
)

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	upstreamURL string
	version     model.Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(upstreamURL string, v model.Version) *HealthHandler {
	return &HealthHandler{upstreamURL: upstreamURL, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.upstreamURL,
	})
}
