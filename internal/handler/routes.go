package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// writeMethods are the HTTP methods the static prefixes reject. Registering
// them explicitly keeps a POST to /static from falling through to the
// upstream catch-all.
var writeMethods = []string{
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodConnect,
	http.MethodTrace,
}

// RegisterRoutes wires all route handlers onto the Echo instance.
// /static and /media short-circuit to disk; everything else goes upstream.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, static *StaticHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/edge/status", health.Status)

	for _, prefix := range []string{"/static/*", "/media/*"} {
		e.GET(prefix, static.Handle)
		e.HEAD(prefix, static.Handle)
		for _, method := range writeMethods {
			e.Add(method, prefix, rejectMethod)
		}
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}

func rejectMethod(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderAllow, "GET, HEAD")
	return echo.ErrMethodNotAllowed
}
