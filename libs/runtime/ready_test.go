package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReadyzReportsFailingChecks(t *testing.T) {
	mux := NewHealthMux(HealthConfig{Checks: []ReadyCheck{
		{Name: "kafka", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	}})

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	var got readiness
	if err := json.Unmarshal(rw.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%q)", err, rw.Body.String())
	}
	if got.Status != "unready" || got.Checks["redis"] != "connection refused" || got.Checks["kafka"] != "ok" {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestReadyzAppliesPerCheckTimeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	mux := NewHealthMux(HealthConfig{
		CheckTimeout: time.Hour,
		Checks:       []ReadyCheck{{Name: "s3", Check: slow, Timeout: 10 * time.Millisecond}},
	})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rw := httptest.NewRecorder()
		mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		done <- rw
	}()
	select {
	case rw := <-done:
		if rw.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rw.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("per-check timeout was not applied")
	}
}

func TestReadyzWithoutChecks(t *testing.T) {
	mux := NewHealthMux(HealthConfig{})
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestStatuszServesSnapshot(t *testing.T) {
	mux := NewHealthMux(HealthConfig{Status: func() any { return map[string]int{"pending_redelivery": 3} }})
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	if rw.Code != http.StatusOK || rw.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %q", rw.Code, rw.Header().Get("Content-Type"))
	}
	var got map[string]int
	if err := json.Unmarshal(rw.Body.Bytes(), &got); err != nil || got["pending_redelivery"] != 3 {
		t.Fatalf("unexpected body %q (%v)", rw.Body.String(), err)
	}
}

func TestStatuszAbsentWithoutSource(t *testing.T) {
	mux := NewHealthMux(HealthConfig{})
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/statusz", nil))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestHealthzAlwaysOK(t *testing.T) {
	mux := NewHealthMux(HealthConfig{})
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}
