// Package model defines shared types for the edge proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ForwardRequest represents a dynamic-path client request to be forwarded
// to the upstream application server.
type ForwardRequest struct {
	Ctx      context.Context
	Method   string
	Host     string // original Host header, preserved for the upstream
	Path     string
	Query    url.Values
	Header   http.Header
	Body     io.ReadCloser
	ClientIP string // original client address for the forwarded-for chain
}

// UpstreamResponse represents the upstream response to be streamed back.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
