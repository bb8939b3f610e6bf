// Package health serves liveness and readiness probes on the operational
// HTTP listener, next to /metrics.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only while every registered probe passes; a
//     failing probe turns it into 503 so a load balancer stops routing
//     webhooks to a daemon whose database is gone.
//
// Bodies are JSON: {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout caps how long one readiness probe may run.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Fn returns nil while the dependency is
// usable and must respect context cancellation.
type Probe struct {
	// Name keys this probe's result in the /readyz response.
	Name string

	// Fn checks the dependency.
	Fn func(ctx context.Context) error
}

// Handler answers /healthz and /readyz. The probe list is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New builds a Handler running the given probes, in order, on every /readyz
// request.
func New(probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{probes: p}
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResponse{Status: "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	resp := probeResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.probes)),
	}
	status := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Fn(ctx)
		cancel()

		if err != nil {
			resp.Checks[p.Name] = "fail: " + err.Error()
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks[p.Name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
