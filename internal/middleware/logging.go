// Package middleware provides Echo middleware for logging, metrics and
// inbound header hygiene.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"edge-proxy-go/internal/route"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// When table is not nil the matched route prefix is logged too.
func RequestLogger(logger *slog.Logger, table *route.Table) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if table != nil {
				if e, _, ok := table.Match(req.URL.EscapedPath()); ok {
					attrs = append(attrs, "route", e.Prefix)
				}
			}

			logger.Info("request", attrs...)

			return err
		}
	}
}
