package middleware

import (
	"log/slog"
	"net"
	"net/http"

	"todo-relay/internal/metrics"
)

// ConnLogger returns an http.Server ConnState hook that logs every newly
// accepted connection. m may be nil.
func ConnLogger(logger *slog.Logger, m *metrics.Metrics) func(net.Conn, http.ConnState) {
	return func(conn net.Conn, state http.ConnState) {
		if state != http.StateNew {
			return
		}
		if m != nil {
			m.ConnectionsTotal.Inc()
		}
		logger.Info("connection received", "remote_addr", conn.RemoteAddr().String())
	}
}
