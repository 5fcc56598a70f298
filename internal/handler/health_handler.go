package handler

import (
	"context"
	"net/http"
	"time"

	"triplab/pkg/logger"
)

// HealthChecker reports whether the store's backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
	StoreBackend() string
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checker HealthChecker
	logger  *logger.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, logger *logger.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Service   string    `json:"service"`
	Store     string    `json:"store"`
	Error     string    `json:"error,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
		Service:   "triplab",
		Store:     h.checker.StoreBackend(),
	}

	status := http.StatusOK
	if err := h.checker.Health(ctx); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		response.Status = "unhealthy"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, response)
}
