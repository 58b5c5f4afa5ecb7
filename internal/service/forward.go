// Package service implements the upstream forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"nephrogo-edge/internal/client"
	"nephrogo-edge/internal/config"
	"nephrogo-edge/internal/model"
)

// hopByHopHeaders must not cross the proxy in either direction (RFC 7230 §6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardService builds and sends upstream requests for dynamic paths.
type ForwardService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL *url.URL
}

// NewForwardService creates a ForwardService bound to the configured upstream.
// The upstream address is fixed for the process lifetime; the pooled client
// would have to be rebuilt to move it, so it is not hot-reloadable.
func NewForwardService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ForwardService{
		client:  c,
		logger:  logger.With("component", "forward_service"),
		baseURL: u,
	}, nil
}

// Forward sends a ForwardRequest to the upstream application server and
// returns the response. The caller is responsible for closing the response
// body.
//
// Request headers pass through except hop-by-hop headers; the forwarded
// client identity is recorded in X-Forwarded-For, X-Real-IP, and
// X-Forwarded-Proto. The proto is fixed to https because TLS is terminated
// ahead of this proxy.
func (s *ForwardService) Forward(fr *model.ForwardRequest) (*model.UpstreamResponse, error) {
	upstreamURL := s.buildUpstreamURL(fr.Path, fr.Query)
	header := s.rewriteRequestHeaders(fr.Header, fr.ClientIP, fr.Host)

	s.logger.Debug("forwarding request",
		"method", fr.Method,
		"path", fr.Path,
	)

	resp, err := s.client.DoStream(fr.Ctx, fr.Method, upstreamURL, fr.Host, header, fr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = stripHopByHop(resp.Header)
	return resp, nil
}

func (s *ForwardService) buildUpstreamURL(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// rewriteRequestHeaders copies the inbound headers, drops hop-by-hop headers,
// and sets the forwarded-client headers the upstream relies on.
func (s *ForwardService) rewriteRequestHeaders(src http.Header, clientIP, host string) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		dst[http.CanonicalHeaderKey(key)] = vals
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}

	if prior := dst.Get("X-Forwarded-For"); prior != "" {
		dst.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		dst.Set("X-Forwarded-For", clientIP)
	}
	dst.Set("X-Real-IP", clientIP)
	dst.Set("X-Forwarded-Proto", "https")
	if host != "" {
		dst.Set("X-Forwarded-Host", host)
	}

	return dst
}

// stripHopByHop removes hop-by-hop headers from an upstream response.
func stripHopByHop(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		dst[http.CanonicalHeaderKey(key)] = vals
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	return dst
}
