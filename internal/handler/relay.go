package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"todo-relay/internal/client"
	"todo-relay/internal/service"
)

// RelayHandler answers every request with the freshly fetched upstream payload.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle ignores the request method, path, headers and body, fetches the
// upstream resource once and writes it back as application/json.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()
	h.logger.Info("request received",
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	body, err := h.service.Relay(req.Context())
	if err != nil {
		return h.mapError(c, err)
	}

	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, body)
}

// mapError turns an upstream failure into a JSON error response so a
// failed fetch never leaves the connection hanging.
func (h *RelayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("relay error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error":           "upstream returned an error status",
			"upstream_status": statusErr.StatusCode,
		})
	}

	if errors.Is(err, service.ErrInvalidPayload) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream returned invalid JSON",
		})
	}

	if errors.Is(err, client.ErrBodyTooLarge) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream response too large",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
