package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"edge-proxy-go/internal/config"
	"edge-proxy-go/internal/route"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	table   *route.Table
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, table *route.Table, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, table: table, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Routes  int    `json:"routes"`
	Env     string `json:"env"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	routes := 0
	if h.table != nil {
		routes = h.table.Len()
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Routes:  routes,
		Env:     h.cfg.Env,
	})
}
