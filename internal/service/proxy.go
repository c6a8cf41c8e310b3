// Package service implements the routing and forwarding logic of the proxy.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"edge-proxy-go/internal/model"
	"edge-proxy-go/internal/route"
)

// Forwarder sends an outbound request to a backend.
type Forwarder interface {
	Do(req *model.OutboundRequest) (*model.ProxyResponse, error)
}

// ProxyService matches requests against the route table and forwards them.
type ProxyService struct {
	table  *route.Table
	client Forwarder
	logger *slog.Logger
}

// NewProxyService creates a ProxyService over an already built route table.
func NewProxyService(table *route.Table, c Forwarder, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		table:  table,
		client: c,
		logger: logger.With("component", "proxy_service"),
	}
}

// Table returns the route table the service dispatches on.
func (s *ProxyService) Table() *route.Table {
	return s.table
}

// Forward routes pr to its backend and returns the backend response.
// The caller is responsible for closing the response body.
//
// Failures are *model.Error values: KindNoMatch when no route covers the
// path, KindSetup when the outbound request cannot be built, and the
// transport kinds reported by the client.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	entry, rest, ok := s.table.Match(pr.Path)
	if !ok {
		return nil, model.NoMatchError(pr.RequestURI())
	}

	out, err := s.buildOutbound(pr, entry, rest)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"route", entry.Prefix,
		"url", out.URL.Redacted(),
	)

	resp, err := s.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", entry.Prefix, err)
	}

	if resp.IsBackendError() {
		s.logger.Warn("backend returned error status",
			"kind", model.KindBackend.String(),
			"route", entry.Prefix,
			"status", resp.StatusCode,
			"path", pr.Path,
		)
	}
	return resp, nil
}

func (s *ProxyService) buildOutbound(pr *model.ProxyRequest, e route.Entry, rest string) (*model.OutboundRequest, error) {
	u, err := buildUpstreamURL(e.Target, rest, pr.RawQuery)
	if err != nil {
		return nil, model.SetupError("build_url", e.Target.Redacted(), err)
	}

	ctx := pr.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	return &model.OutboundRequest{
		Ctx:           ctx,
		Method:        pr.Method,
		URL:           u,
		Header:        TransformHeaders(pr.Header, e),
		Body:          pr.Body,
		ContentLength: pr.ContentLength,
		Route:         e.Prefix,
	}, nil
}

// buildUpstreamURL appends the rewritten path to the target's base path and
// keeps the client's query string.
func buildUpstreamURL(target *url.URL, rest, rawQuery string) (*url.URL, error) {
	base := *target
	base.RawQuery = ""
	base.Fragment = ""

	raw := strings.TrimRight(base.String(), "/") + rest
	if rawQuery != "" {
		raw += "?" + rawQuery
	}
	return url.Parse(raw)
}
