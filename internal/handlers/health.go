// Package handlers provides the HTTP handlers of the shell's control
// surface: liveness and readiness probes, and the endpoints through which
// the host app drives the session store, the lifecycle observer and the
// navigation guard.
package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Pinger is a dependency checked by the readiness probe.
// database.PostgresDB and database.RedisDB implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps    map[string]Pinger
	timeout time.Duration
}

// NewHealthHandler creates a handler checking the named dependencies.
//
//	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
//	    "postgres": postgresDB,
//	    "redis":    redisDB,
//	})
//	r.Get("/health", health.Health)
//	r.Get("/ready", health.Ready)
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		timeout: 5 * time.Second,
	}
}

// HealthResponse is the body of both probes.
//
//	{
//	  "status": "degraded",
//	  "timestamp": "2025-04-22T20:37:38Z",
//	  "services": {"postgres": "healthy", "redis": "unhealthy"}
//	}
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// Health is the liveness probe. It never checks dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// Ready pings every dependency and answers 503 if any is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.deps[name].Ping(ctx); err != nil {
			log.Error().Err(err).Str("service", name).Msg("Health check failed")
			services[name] = "unhealthy"
			healthy = false
			continue
		}
		services[name] = "healthy"
	}

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Services:  services,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	utils.RespondWithJSON(w, r, status, resp)
}
