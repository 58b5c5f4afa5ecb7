package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"nephrogo-edge/internal/model"
	"nephrogo-edge/internal/service"
)

// ProxyHandler forwards dynamic-path requests to the upstream application server.
type ProxyHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ForwardService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	fr := &model.ForwardRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Host:     req.Host,
		Path:     req.URL.Path,
		Query:    req.URL.Query(),
		Header:   req.Header,
		Body:     req.Body,
		ClientIP: c.RealIP(),
	}

	resp, err := h.service.Forward(fr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If the copy fails
	// mid-stream the status line is already out, so the client sees a
	// truncated response with the original status.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
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

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
