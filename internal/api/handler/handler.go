// Package handler provides HTTP handlers for all API endpoints.
// Handlers call the momentum components directly; there is no extra
// service layer. Read endpoints are cached with ETags.
package handler

import (
	"net/http"
	"time"

	"github.com/albapepper/momentum/internal/api/respond"
	"github.com/albapepper/momentum/internal/app"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	*app.App
	now func() time.Time
}

// New creates a Handler with shared dependencies.
func New(a *app.App) *Handler {
	return &Handler{App: a, now: time.Now}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status and storage backend.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	backend := "sqlite"
	if h.Config.UsesPostgres() {
		backend = "postgres"
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Momentum API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"storage": backend,
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies store connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.Warn("Database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.Cache.Stats(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
