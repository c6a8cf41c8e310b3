// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents an inbound client request as seen by the proxy.
// Path is the escaped request path; RawQuery is forwarded unchanged.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// RequestURI returns the path and query as the client sent them.
func (r *ProxyRequest) RequestURI() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

// OutboundRequest is the request sent to a backend for a single inbound request.
type OutboundRequest struct {
	Ctx           context.Context
	Method        string
	URL           *url.URL
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64

	// Route is the path prefix of the matched route.
	Route string
}

// ProxyResponse represents the backend response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// IsBackendError reports whether the backend answered with a non-2xx status.
// Such responses are relayed as-is; they are not failures of the proxy.
func (r *ProxyResponse) IsBackendError() bool {
	return r.StatusCode < 200 || r.StatusCode > 299
}
