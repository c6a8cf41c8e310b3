package handler

import (
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"edge-proxy-go/internal/model"
	"edge-proxy-go/internal/service"
)

// secretPattern matches credential-looking query parameter values in URLs
// embedded in error messages.
var secretPattern = regexp.MustCompile(`(?i)((?:api_?key|token|password|secret)=)[^&\s"]+`)

// ProxyHandler forwards every unreserved request to its route's backend.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the matched backend and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, pr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relay(c, resp)
	return nil
}

// relay writes the backend response to the client unchanged.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse) {
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already out; a failed copy leaves the client with a
	// truncated body and can only be logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
			"status", resp.StatusCode,
		)
	}
}

func (h *ProxyHandler) mapError(c echo.Context, pr *model.ProxyRequest, err error) error {
	kind := model.KindOf(err)

	switch kind {
	case model.KindNoMatch:
		h.logger.Debug("no route for path", "path", pr.Path)
		return c.JSON(http.StatusNotFound, map[string]string{
			"message": "The path " + pr.RequestURI() + " is not handled.",
		})

	case model.KindUnreachable:
		h.logger.Error("backend unreachable", "err", sanitizeError(err), "path", pr.Path)
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error":   "Gateway Timeout",
			"message": "Could not connect to the target server",
		})

	case model.KindNoResponse:
		h.logger.Error("no response from backend", "err", sanitizeError(err), "path", pr.Path)
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error":   "Gateway Timeout",
			"message": "No response received from the target server",
		})

	default:
		// KindSetup, and anything that was never classified.
		h.logger.Error("proxy error", "err", sanitizeError(err), "kind", kind.String(), "path", pr.Path)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Internal Server Error",
			"message": redact(model.Cause(err)),
		})
	}
}

// sanitizeError redacts credentials from error messages that may contain
// backend URLs.
func sanitizeError(err error) string {
	return redact(err.Error())
}

func redact(s string) string {
	return secretPattern.ReplaceAllString(s, "${1}[REDACTED]")
}
