package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"edge-proxy-go/internal/route"
)

// IntrospectHandler dumps the route table. It is only mounted outside
// production.
type IntrospectHandler struct {
	table *route.Table
}

// NewIntrospectHandler creates an IntrospectHandler.
func NewIntrospectHandler(table *route.Table) *IntrospectHandler {
	return &IntrospectHandler{table: table}
}

type routeView struct {
	Path    string            `json:"path"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Routes lists every route in registration order.
func (h *IntrospectHandler) Routes(c echo.Context) error {
	entries := h.table.Entries()
	views := make([]routeView, 0, len(entries))
	for _, e := range entries {
		views = append(views, routeView{
			Path:    e.Prefix,
			URL:     e.Target.Redacted(),
			Headers: e.Headers,
		})
	}
	return c.JSON(http.StatusOK, map[string][]routeView{"routes": views})
}
