package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func get(t *testing.T, tr *Tracker, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	tr.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	tr := New()
	tr.Start("cfr", "")
	tr.Finish(errors.New("boom"))

	code, body := get(t, tr, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestStatus_Lifecycle(t *testing.T) {
	clock := time.Unix(1000, 0)
	tr := New()
	tr.now = func() time.Time { return clock }

	code, body := get(t, tr, "/status")
	if code != http.StatusOK || body.State != StateIdle {
		t.Errorf("idle status = %d %+v", code, body)
	}

	tr.Start("master", "4bf92f3577b34da6a3ce929d0e0e4736")
	clock = clock.Add(2 * time.Second)
	code, body = get(t, tr, "/status")
	if code != http.StatusOK || body.State != StateRunning || body.Operation != "master" {
		t.Errorf("running status = %d %+v", code, body)
	}
	if body.RunID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("run_id = %q, want the trace ID passed to Start", body.RunID)
	}
	if body.Elapsed != 2 {
		t.Errorf("elapsed = %v, want 2", body.Elapsed)
	}

	tr.Finish(nil)
	clock = clock.Add(time.Minute)
	code, body = get(t, tr, "/status")
	if code != http.StatusOK || body.State != StateDone || body.Elapsed != 2 {
		t.Errorf("done status = %d %+v", code, body)
	}
}

func TestStatus_Failed(t *testing.T) {
	tr := New()
	tr.Start("align", "")
	tr.Finish(errors.New("remux: no samples to mux"))

	code, body := get(t, tr, "/status")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" || body.State != StateFailed || body.Error != "remux: no samples to mux" {
		t.Errorf("body = %+v", body)
	}
	if tr.State() != StateFailed {
		t.Errorf("State() = %q, want failed", tr.State())
	}
}
