package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthChecker performs health checks on system components.
type HealthChecker struct {
	version   string
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
}

// HealthCheckFunc defines a function that checks component health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = checkFunc
}

// Check performs all health checks.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}

	hc.mu.RLock()
	defer hc.mu.RUnlock()

	for name, checkFunc := range hc.checks {
		health := checkFunc(ctx)
		response.Checks[name] = health

		// Update overall status
		if health.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy {
			response.Status = HealthStatusDegraded
		}
	}

	return response
}

// Handler returns an HTTP handler for health checks.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		switch response.Status {
		case HealthStatusOK, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// PingCheck reports unhealthy when ping fails and degraded when it takes longer than slow.
func PingCheck(what string, slow time.Duration, ping func(ctx context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{
				Status:    HealthStatusUnhealthy,
				Message:   fmt.Sprintf("%s unreachable: %v", what, err),
				LatencyMS: latency,
			}
		}
		if slow > 0 && time.Since(start) > slow {
			return ComponentHealth{
				Status:    HealthStatusDegraded,
				Message:   fmt.Sprintf("%s slow", what),
				LatencyMS: latency,
			}
		}
		return ComponentHealth{
			Status:    HealthStatusOK,
			Message:   fmt.Sprintf("%s responsive", what),
			LatencyMS: latency,
		}
	}
}

// DirectoryCheck checks that path exists and is a directory.
func DirectoryCheck(path string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		info, err := os.Stat(path)
		if err != nil {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: err.Error(),
			}
		}
		if !info.IsDir() {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("%s is not a directory", path),
			}
		}
		return ComponentHealth{
			Status:  HealthStatusOK,
			Message: path,
		}
	}
}

// KeystoreCheck checks if the distributor identity is loaded.
func KeystoreCheck(address string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if address != "" {
			return ComponentHealth{
				Status:  HealthStatusOK,
				Message: "Identity " + address,
			}
		}
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Identity keys not loaded",
		}
	}
}
