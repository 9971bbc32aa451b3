package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, status) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	var body status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return rec, body
}

func TestHealthz_AliveEvenWhenBackendDown(t *testing.T) {
	h := New(func(_ context.Context) error {
		return errors.New("connection refused")
	})

	rec, body := get(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Status != "alive" {
		t.Errorf("body status = %q, want alive", body.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_BackendReachable(t *testing.T) {
	h := New(func(_ context.Context) error { return nil })

	rec, body := get(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ready" {
		t.Errorf("body status = %q, want ready", body.Status)
	}
	if body.Engine != "ok" {
		t.Errorf("engine = %q, want ok", body.Engine)
	}
}

func TestReadyz_BackendUnreachable(t *testing.T) {
	h := New(func(_ context.Context) error {
		return errors.New("dial tcp 127.0.0.1:8310: connection refused")
	})

	rec, body := get(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body.Status != "unready" {
		t.Errorf("body status = %q, want unready", body.Status)
	}
	if body.Engine == "" || body.Engine == "ok" {
		t.Errorf("engine = %q, want the probe failure", body.Engine)
	}
}

func TestReadyz_NoProbeConfigured(t *testing.T) {
	h := New(nil)

	rec, body := get(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Engine != "" {
		t.Errorf("engine = %q, want omitted", body.Engine)
	}
}

func TestReadyz_ProbeGetsDeadline(t *testing.T) {
	var sawDeadline bool
	h := New(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})

	get(t, h, "/readyz")
	if !sawDeadline {
		t.Error("probe context should carry the probe deadline")
	}
}

func TestRegister_UnknownPathIs404(t *testing.T) {
	mux := http.NewServeMux()
	New(nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/livez", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
