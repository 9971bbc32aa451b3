// Package health serves liveness and readiness endpoints on the metrics
// listener.
//
// A Lucent process has exactly one dependency worth probing: the inference
// backend. /healthz answers as long as the process serves HTTP; /readyz
// reflects whether the backend is reachable, so an orchestrator can hold
// traffic (or an operator can tell a dead model server from a dead CLI)
// while segments would only pile up retries.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds one backend probe. Readiness checks should answer
// fast; a backend slower than this is not ready.
const probeTimeout = 2 * time.Second

// Probe reports whether the inference backend is reachable. The REST engine
// pings its health endpoint; the realtime engine reports connection state.
type Probe func(ctx context.Context) error

// Handler serves the /healthz and /readyz endpoints.
type Handler struct {
	engine Probe
}

// New creates a Handler. A nil probe means the engine offers no reachability
// check; readiness then mirrors liveness.
func New(engine Probe) *Handler {
	return &Handler{engine: engine}
}

// status is the JSON body for both endpoints. Engine is omitted when no
// probe is configured.
type status struct {
	Status string `json:"status"`
	Engine string `json:"engine,omitempty"`
}

// Healthz always answers 200; a process that can serve it is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, status{Status: "alive"})
}

// Readyz probes the inference backend with a [probeTimeout] deadline and
// answers 503 when it is unreachable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusOK, status{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if err := h.engine(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, status{
			Status: "unready",
			Engine: "unreachable: " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, status{Status: "ready", Engine: "ok"})
}

// Register adds both routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
