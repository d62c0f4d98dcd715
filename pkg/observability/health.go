package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Checkable is anything with a health check. The metadata store and the S3
// blob store implement it.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// Pinger covers redis-style clients exposing a Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyStatus is the probed health of one dependency.
type DependencyStatus struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms,omitempty"`
}

// HealthStatus is the aggregate health report.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// HealthChecker probes the server's dependencies. The metadata store is
// required; the permission cache is optional and only degrades health.
type HealthChecker struct {
	store Checkable
	cache Pinger
}

// NewHealthChecker creates a checker over the given dependencies. Either
// may be nil.
func NewHealthChecker(store Checkable, cache Pinger) *HealthChecker {
	return &HealthChecker{store: store, cache: cache}
}

// Liveness is the liveness probe: 200 whenever the process serves.
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness probes all dependencies: 503 when unhealthy, 200 otherwise.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check probes every configured dependency.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.store != nil {
		dep := probe(ctx, h.store.HealthCheck)
		status.Dependencies["metadata_store"] = dep
		if dep.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	if h.cache != nil {
		dep := probe(ctx, h.cache.Ping)
		status.Dependencies["permission_cache"] = dep
		// The cache is an optimization: losing it degrades but does not
		// break the service.
		if dep.Status == StatusUnhealthy && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func probe(ctx context.Context, check func(context.Context) error) DependencyStatus {
	start := time.Now()
	err := check(ctx)
	dep := DependencyStatus{Status: StatusHealthy, Latency: time.Since(start)}
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}
