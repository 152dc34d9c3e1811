package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticBreakers []string

func (s staticBreakers) Open() []string { return append([]string(nil), s...) }

func ok(context.Context) error { return nil }

func serve(t *testing.T, handler *Handler) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return w.Code, response
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", ok))
	handler.RegisterChecker("breakers", NewBreakerChecker(staticBreakers(nil)))

	code, response := serve(t, handler)

	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 2 {
		t.Errorf("expected 2 checks, got %d", len(response.Checks))
	}
}

func TestHealthHandlerDegradedByOpenBreaker(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", ok))
	handler.RegisterChecker("breakers", NewBreakerChecker(staticBreakers{"users.fetch", "products.exists"}))

	code, response := serve(t, handler)

	if code != http.StatusOK {
		t.Errorf("degraded must stay 200, got %d", code)
	}
	if response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}
	if msg := response.Checks["breakers"].Message; msg != "open: products.exists, users.fetch" {
		t.Fatalf("unexpected breaker message: %q", msg)
	}
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("breakers", NewBreakerChecker(staticBreakers{"products.fetch"}))
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func(context.Context) error {
		return errors.New("connection refused")
	}))

	code, response := serve(t, handler)

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("unhealthy must win over degraded, got %s", response.Status)
	}
}

func TestCheckTimeoutPropagates(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewSimpleChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	response := handler.Evaluate(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("check was not bounded by timeout")
	}
	if response.Checks["slow"].Status != StatusUnhealthy {
		t.Fatalf("expected timed out check to be unhealthy, got %+v", response.Checks["slow"])
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("unexpected liveness response: %d %q", w.Code, w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	cases := []struct {
		name  string
		check func(context.Context) error
		code  int
		body  string
	}{
		{name: "ready", check: ok, code: http.StatusOK, body: "ready"},
		{name: "not ready", check: func(context.Context) error { return errors.New("down") }, code: http.StatusServiceUnavailable, body: "not ready"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("v1.0.0")
			handler.RegisterChecker("dep", NewSimpleChecker("dep", tc.check))
			handler.RegisterChecker("breakers", NewBreakerChecker(staticBreakers{"users.validate"}))

			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if w.Code != tc.code || w.Body.String() != tc.body {
				t.Fatalf("expected %d %q, got %d %q", tc.code, tc.body, w.Code, w.Body.String())
			}
		})
	}
}

func TestSimpleChecker(t *testing.T) {
	check := NewSimpleChecker("redis", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}).Check(context.Background())

	if check.Status != StatusHealthy || check.Name != "redis" {
		t.Errorf("unexpected check: %+v", check)
	}
	if check.DurationMs < 10 {
		t.Errorf("expected duration >= 10ms, got %d", check.DurationMs)
	}

	failed := NewSimpleChecker("redis", func(context.Context) error {
		return errors.New("test error")
	}).Check(context.Background())
	if failed.Status != StatusUnhealthy || failed.Message != "test error" {
		t.Errorf("unexpected failed check: %+v", failed)
	}
}
