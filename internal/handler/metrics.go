package handler

import (
	"net/http"
)

// MetricsHandler serves the Prometheus exposition endpoint.
type MetricsHandler struct {
	exposition http.Handler
}

// NewMetricsHandler creates a new MetricsHandler. exposition is usually
// (*metrics.PrometheusRecorder).Handler(); nil makes the endpoint report 503.
func NewMetricsHandler(exposition http.Handler) *MetricsHandler {
	return &MetricsHandler{exposition: exposition}
}

// Metrics handles GET /metrics.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.exposition == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not enabled")
		return
	}
	h.exposition.ServeHTTP(w, r)
}
