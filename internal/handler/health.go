package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"nephrogo-edge/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	store   *config.Store
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store *config.Store, v Version) *HealthHandler {
	return &HealthHandler{store: store, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns edge status information.
func (h *HealthHandler) Status(c echo.Context) error {
	cfg := h.store.Current()
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": cfg.Upstream.BaseURL,
		"domains":      strings.Join(cfg.Edge.Domains, ","),
		"static_root":  cfg.Static.Root,
	})
}
