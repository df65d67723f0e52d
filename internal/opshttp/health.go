package opshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// StoreSizer and TransportChecker narrow the engine's store and transport
// down to the one method each the health check needs, the same pattern
// internal/metrics uses to avoid importing internal/store and
// internal/transport from a package that only wants a status read.
type StoreSizer interface {
	Size(ctx context.Context) (int, error)
}

type TransportChecker interface {
	Connected() bool
}

// HealthResponse mirrors the teacher's health payload shape, trimmed to the
// checks PI actually has: the record store and the AMQP transport.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	StoreSize     int               `json:"store_size"`
}

type HealthHandler struct {
	store     StoreSizer
	transport TransportChecker
	version   string
	startTime time.Time
}

func NewHealthHandler(store StoreSizer, transport TransportChecker, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{store: store, transport: transport, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	size, err := h.store.Size(r.Context())
	if err != nil {
		checks["store"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if h.transport.Connected() {
		checks["transport"] = "connected"
	} else {
		checks["transport"] = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		StoreSize:     size,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
