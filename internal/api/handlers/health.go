package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ReadyStatus represents the readiness check response.
type ReadyStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// HealthChecker defines an interface for components that can report health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheck returns a handler that reports basic service health.
// This endpoint should always return 200 OK if the service is running.
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   "rdn-billing",
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyCheck returns a handler that checks every named dependency. A nil
// checker is reported as "not configured" and does not fail readiness.
func ReadyCheck(checkers map[string]HealthChecker) http.HandlerFunc {
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := ReadyStatus{
			Status:     "ready",
			Components: make(map[string]string, len(names)),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}

		allReady := true
		for _, name := range names {
			c := checkers[name]
			if c == nil {
				status.Components[name] = "not configured"
				continue
			}
			if err := c.Health(ctx); err != nil {
				status.Components[name] = "unhealthy: " + err.Error()
				allReady = false
				continue
			}
			status.Components[name] = "healthy"
		}

		if !allReady {
			status.Status = "not ready"
			RespondJSON(w, http.StatusServiceUnavailable, status)
			return
		}

		RespondJSON(w, http.StatusOK, status)
	}
}
