// Package health reports the state of a running capa command over HTTP,
// next to its metrics endpoint.
//
//   - /healthz: liveness; always 200 while the process serves HTTP.
//   - /status: the current operation and its state. Returns 503 once the
//     operation has failed.
//
// Responses are JSON objects with a top-level "status" field.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// State is the lifecycle state of an operation.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// result is the JSON response body.
type result struct {
	Status    string  `json:"status"`
	Operation string  `json:"operation,omitempty"`
	RunID     string  `json:"run_id,omitempty"`
	State     State   `json:"state,omitempty"`
	Error     string  `json:"error,omitempty"`
	Elapsed   float64 `json:"elapsed_seconds,omitempty"`
}

// Tracker records the operation a command is running. It is safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	operation string
	runID     string
	state     State
	err       error
	started   time.Time
	finished  time.Time
	now       func() time.Time
}

// New returns an idle tracker.
func New() *Tracker {
	return &Tracker{state: StateIdle, now: time.Now}
}

// Start marks op as running. runID is the trace ID shared by the run's log
// lines; it may be empty.
func (t *Tracker) Start(op, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operation = op
	t.runID = runID
	t.state = StateRunning
	t.err = nil
	t.started = t.now()
	t.finished = time.Time{}
}

// Finish marks the running operation done, or failed when err is non-nil.
func (t *Tracker) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateDone
	if err != nil {
		t.state = StateFailed
	}
	t.err = err
	t.finished = t.now()
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Healthz is a liveness probe that always returns 200 OK.
func (t *Tracker) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Status reports the tracked operation.
func (t *Tracker) Status(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	res := result{Status: "ok", Operation: t.operation, RunID: t.runID, State: t.state}
	switch t.state {
	case StateRunning:
		res.Elapsed = t.now().Sub(t.started).Seconds()
	case StateDone, StateFailed:
		res.Elapsed = t.finished.Sub(t.started).Seconds()
	}
	if t.err != nil {
		res.Status = "fail"
		res.Error = t.err.Error()
	}
	t.mu.Unlock()

	status := http.StatusOK
	if res.State == StateFailed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /status routes to mux.
func (t *Tracker) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", t.Healthz)
	mux.HandleFunc("GET /status", t.Status)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
