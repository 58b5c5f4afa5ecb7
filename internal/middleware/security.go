package middleware

import (
	"github.com/labstack/echo/v4"
)

// inboundHopByHop are request headers that terminate at the edge (RFC 7230
// §6.1). They are removed before any handler sees the request.
var inboundHopByHop = []string{
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips inbound hop-by-hop
// headers and attaches baseline security headers to responses. Headers the
// upstream application already set are left alone; the application knows its
// own framing and content-type requirements better than the edge does.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range inboundHopByHop {
				c.Request().Header.Del(h)
			}

			// The proxy handler streams responses, so headers must be in
			// place before the first write commits them.
			c.Response().Before(func() {
				h := c.Response().Header()
				if h.Get("X-Content-Type-Options") == "" {
					h.Set("X-Content-Type-Options", "nosniff")
				}
				if h.Get("X-Frame-Options") == "" {
					h.Set("X-Frame-Options", "DENY")
				}
			})

			return next(c)
		}
	}
}
