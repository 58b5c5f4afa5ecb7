package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"nephrogo-edge/internal/config"
	"nephrogo-edge/internal/metrics"
)

// StatusConnectionClosed is the nginx convention for "close the connection
// without a response". It is never meant to reach a client; it appears only
// in logs, metrics, and as the recorded status when the underlying writer
// cannot be hijacked.
const StatusConnectionClosed = 444

// HostGate returns an Echo middleware that drops any request whose Host
// header matches no configured domain. Every path is gated, health and
// metrics endpoints included; monitors must send a configured Host header.
// The connection is closed without sending an HTTP response, so vhost
// scanners learn nothing from probing the default server. The domain list
// is read from the config snapshot per request, so a hot reload takes
// effect immediately.
//
// The metrics parameter is optional; pass nil to skip rejection counting.
func HostGate(store *config.Store, logger *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	logger = logger.With("component", "host_gate")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			cfg := store.Current()

			if cfg.Edge.MatchesHost(req.Host) {
				return next(c)
			}

			if m != nil {
				m.RejectedHosts.Inc()
			}
			// Debug only: an anti-scanning measure must not let scanners
			// flood the logs.
			logger.Debug("dropping request for unknown host",
				"host", req.Host,
				"path", req.URL.Path,
				"remote_ip", c.RealIP(),
			)

			drop(c)
			return nil
		}
	}
}

// drop terminates the connection without writing a response. When the writer
// supports hijacking (HTTP/1.x on a real listener), the TCP connection is
// closed raw. Otherwise (HTTP/2, test recorders) the non-standard status 444
// is written with an empty body and the connection is marked close.
func drop(c echo.Context) {
	res := c.Response()

	if hj, ok := res.Writer.(http.Hijacker); ok {
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
			// Mark the response committed so Echo does not try to write an
			// error page to the dead connection; record the status for the
			// access log.
			res.Committed = true
			res.Status = StatusConnectionClosed
			return
		}
	}

	res.Header().Set("Connection", "close")
	res.WriteHeader(StatusConnectionClosed)
}
