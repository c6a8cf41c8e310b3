// Package client provides the outbound HTTP client used to reach backends.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"edge-proxy-go/internal/config"
	"edge-proxy-go/internal/metrics"
	"edge-proxy-go/internal/model"
	"edge-proxy-go/internal/route"
	"edge-proxy-go/internal/tracing"
)

// BackendClient sends requests to route backends. It makes exactly one
// attempt per request.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     *tracing.Tracer
	breakers   *Breakers
}

// NewBackendClient creates a BackendClient with connection pooling.
// The metrics and tracer parameters are optional; pass nil to disable them.
func NewBackendClient(cfg *config.Config, table *route.Table, logger *slog.Logger, m *metrics.Metrics, t *tracing.Tracer) *BackendClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Bodies are relayed byte for byte, so never negotiate or decode
		// compression on the client's behalf.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	logger = logger.With("component", "backend_client")

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Redirects are the caller's business; relay them untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:   logger,
		metrics:  m,
		tracer:   t,
		breakers: NewBreakers(cfg.CircuitBreaker, table, logger, m),
	}
}

// Do executes the outbound request and returns the backend response.
// Any status code, including 4xx and 5xx, is a successful call.
// The caller is responsible for closing the response body.
func (c *BackendClient) Do(out *model.OutboundRequest) (*model.ProxyResponse, error) {
	target := out.URL.Redacted()

	ctx, span := c.tracer.Start(out.Ctx, "proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", out.Method),
			attribute.String("url.full", target),
			attribute.String("proxy.route", out.Route),
		),
	)
	defer span.End()

	req, err := c.newRequest(ctx, out)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, model.SetupError("build_request", target, err)
	}

	c.logger.Debug("backend request",
		"method", req.Method,
		"url", target,
		"route", out.Route,
	)

	start := time.Now()
	resp, err := c.breakers.Execute(req.Context(), out.Route, func() (*http.Response, error) {
		return c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	})
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.BackendDuration.WithLabelValues(out.Route, method).Observe(duration)
	}

	if err != nil {
		perr := classify(target, err)
		if c.metrics != nil {
			c.metrics.BackendFailures.WithLabelValues(out.Route, perr.Kind.String()).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, perr.Kind.String())
		return nil, perr
	}

	if c.metrics != nil {
		c.metrics.BackendResponses.WithLabelValues(out.Route, method, strconv.Itoa(resp.StatusCode)).Inc()
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (c *BackendClient) newRequest(ctx context.Context, out *model.OutboundRequest) (*http.Request, error) {
	if out.URL == nil {
		return nil, fmt.Errorf("missing backend URL")
	}
	body := out.Body
	if body == http.NoBody {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		// 0 and -1 both mean unknown for a non-nil body.
		req.ContentLength = out.ContentLength
	}

	header := out.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if host := header.Get("Host"); host != "" {
		req.Host = host
	}
	header.Del("Host")
	req.Header = header

	c.tracer.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// classify maps a transport failure to a proxy failure kind. Failures to
// connect are KindUnreachable; everything after the request may have left
// is KindNoResponse.
func classify(target string, err error) *model.Error {
	if errors.Is(err, ErrBreakerOpen) {
		return model.UnreachableError(target, err)
	}

	// Dial timeouts also match context.DeadlineExceeded, so connection
	// failures are checked first.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.UnreachableError(target, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return model.UnreachableError(target, err)
	}

	return model.NoResponseError(target, err)
}
