package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"nephrogo-edge/internal/config"
	"nephrogo-edge/internal/metrics"
)

// StaticHandler serves /static and /media files straight from disk, bypassing
// the upstream. The filesystem layout mirrors nginx's root directive: the
// request path is appended to the configured root, so /static/css/admin.css
// resolves to <root>/static/css/admin.css.
type StaticHandler struct {
	store   *config.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStaticHandler creates a StaticHandler.
// The metrics parameter is optional; pass nil to disable static-serve counters.
func NewStaticHandler(store *config.Store, logger *slog.Logger, m *metrics.Metrics) *StaticHandler {
	return &StaticHandler{
		store:   store,
		logger:  logger.With("component", "static_handler"),
		metrics: m,
	}
}

// Handle serves the requested file with the long-lived cache policy attached.
func (h *StaticHandler) Handle(c echo.Context) error {
	cfg := h.store.Current().Static
	urlPath := c.Request().URL.Path
	prefix := metrics.NormalizePath(urlPath)

	file, ok := h.resolve(cfg.Root, urlPath)
	if !ok {
		h.count(prefix, http.StatusNotFound)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "file not found",
		})
	}

	f, err := os.Open(file)
	if err != nil {
		h.logger.Error("opening static file", "err", err, "path", urlPath)
		h.count(prefix, http.StatusNotFound)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "file not found",
		})
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.count(prefix, http.StatusNotFound)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "file not found",
		})
	}

	// The cache policy is attached unconditionally: static assets are
	// content-addressed by the application's collectstatic step, so a
	// 14-day public lifetime is safe.
	maxAge := cfg.MaxAge()
	res := c.Response()
	res.Header().Set(echo.HeaderCacheControl, "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
	res.Header().Set("Expires", time.Now().Add(maxAge).UTC().Format(http.TimeFormat))

	// ServeContent handles Content-Type, Range, If-Modified-Since, and ETag
	// preconditions.
	http.ServeContent(res, c.Request(), info.Name(), info.ModTime(), f)

	h.count(prefix, res.Status)
	return nil
}

// resolve maps the URL path onto the static root and rejects any path that
// escapes it. Dot segments are collapsed before the check, so the cleaned
// path must still live under one of the two served prefixes.
func (h *StaticHandler) resolve(root, urlPath string) (string, bool) {
	cleaned := filepath.Clean("/" + urlPath)
	if !strings.HasPrefix(cleaned, "/static/") && !strings.HasPrefix(cleaned, "/media/") {
		return "", false
	}
	full := filepath.Join(root, cleaned)

	rootAbs := filepath.Clean(root)
	if !strings.HasPrefix(full, rootAbs+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func (h *StaticHandler) count(prefix string, status int) {
	if h.metrics == nil {
		return
	}
	h.metrics.StaticRequests.WithLabelValues(prefix, strconv.Itoa(status)).Inc()
}
