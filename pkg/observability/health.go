package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus classifies the outcome of a health check.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck probes one dependency. Critical checks take the overall
// status to unhealthy on failure; non-critical ones only degrade it.
type HealthCheck struct {
	Name     string
	Check    func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// HealthChecker runs registered dependency checks on demand.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]*HealthCheck
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus reports one check's outcome.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]*HealthCheck)}
}

// RegisterCheck adds a check, replacing any with the same name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Check runs every registered check and aggregates the overall status.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make(map[string]*HealthCheck, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	hc.mu.RUnlock()

	results := make(map[string]CheckStatus, len(checks))
	overall := HealthStatusHealthy

	for name, check := range checks {
		status := runCheck(ctx, check)
		results[name] = status

		if status.Status == HealthStatusUnhealthy && check.Critical {
			overall = HealthStatusUnhealthy
		} else if status.Status != HealthStatusHealthy && overall == HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Checks:    results,
	}
}

func runCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := time.Now()
	err := check.Check(checkCtx)
	duration := time.Since(start)

	status := CheckStatus{Duration: duration.String()}
	if err != nil {
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		} else {
			status.Status = HealthStatusDegraded
		}
		status.Message = err.Error()
		return status
	}
	status.Status = HealthStatusHealthy
	return status
}

// HealthHandler serves the full health report.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler serves a readiness probe: ready only when every check
// passes.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusHealthy {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
	}
}

// LivenessHandler serves a liveness probe that only proves the process
// answers HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// StoreCheck creates a critical health check against the session store.
func StoreCheck(ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:     "store",
		Check:    ping,
		Timeout:  5 * time.Second,
		Critical: true,
	}
}

// RendererCheck creates a health check against the renderer fleet.
func RendererCheck(check func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:     "renderer",
		Check:    check,
		Timeout:  10 * time.Second,
		Critical: false,
	}
}
