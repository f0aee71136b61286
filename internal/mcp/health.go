package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bull/docchat/internal/knowledge"
)

const healthTimeout = 3 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"` // "healthy" or "unhealthy"
	Store     string `json:"store"`
	Documents int    `json:"documents"`
	Vectors   int    `json:"vectors"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is the part of the knowledge base the health endpoint reads.
type HealthChecker interface {
	Health(ctx context.Context) error
	Stats(ctx context.Context) (knowledge.Stats, error)
}

// NewHealthHandler creates an HTTP handler for the /health endpoint. It
// answers 503 when the document store or the vector index cannot be read.
func NewHealthHandler(kb HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Store:     "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK

		stats, err := kb.Stats(ctx)
		if err == nil {
			err = kb.Health(ctx)
		}
		if err != nil {
			response.Status = "unhealthy"
			response.Store = "disconnected"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Documents = stats.Documents
			response.Vectors = stats.Vectors
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(response)
	}
}
