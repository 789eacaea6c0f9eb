package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error { return nil }))
	hc.RegisterCheck(RendererCheck(func(ctx context.Context) error { return nil }))

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusHealthy {
		t.Errorf("status = %s, want healthy", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("got %d check results, want 2", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != HealthStatusHealthy {
			t.Errorf("check %s = %s, want healthy", name, check.Status)
		}
	}
}

func TestHealthChecker_CriticalFailureIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", resp.Status)
	}
	if resp.Checks["store"].Message != "connection refused" {
		t.Errorf("message = %q", resp.Checks["store"].Message)
	}
}

func TestHealthChecker_NonCriticalFailureIsDegraded(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error { return nil }))
	hc.RegisterCheck(RendererCheck(func(ctx context.Context) error {
		return errors.New("fleet unreachable")
	}))

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusDegraded {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name: "slow",
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		Timeout:  10 * time.Millisecond,
		Critical: true,
	})

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("status = %s, want unhealthy after timeout", resp.Status)
	}
}

func TestReadinessHandler_NotReadyOnFailure(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	hc.ReadinessHandler()(rec, req)

	if rec.Code != 503 {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthHandler_ReportsChecks(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	hc.HealthHandler()(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body.Status != HealthStatusHealthy {
		t.Errorf("body status = %s, want healthy", body.Status)
	}
	if _, ok := body.Checks["store"]; !ok {
		t.Error("store check missing from response")
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)

	LivenessHandler()(rec, req)

	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("body status = %q, want alive", body["status"])
	}
}
