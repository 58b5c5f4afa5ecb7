// Package middleware provides Echo middleware for the edge: host gating,
// compression, access logging, metrics, and header hygiene.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that writes one slog access-log
// line per request. Requests dropped by the host gate are logged at debug
// level; host scanners probe continuously and would otherwise dominate the
// access log.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if res.Status == StatusConnectionClosed {
				level = slog.LevelDebug
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"host", req.Host,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
