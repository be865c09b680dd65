// Package health composes per-component probes into one overall status and
// serves it over HTTP.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; runs every registered [Probe] and returns
//     200 while the overall status is healthy or degraded.
//
// The overall status feeds the scheduler's pre-run gate: a critical or
// unhealthy result aborts the daily pass before any provider work starts.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout is the maximum time a single probe may take before its
// context is cancelled.
const probeTimeout = 5 * time.Second

// Status is the overall condition of the pipeline estate.
type Status int

const (
	Healthy Status = iota
	Degraded
	Unhealthy
	Critical
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Blocking reports whether the status must stop a processing run.
func (s Status) Blocking() bool { return s >= Unhealthy }

// Probe is one named component check. A failing vital probe drives the
// overall status to critical; non-vital failures degrade it.
type Probe struct {
	// Name is a short label for the component (e.g. "database", "disk").
	Name string

	// Check probes the component. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Vital marks components the pipeline cannot run without.
	Vital bool
}

// Report is the outcome of one full check pass.
type Report struct {
	Status    Status            `json:"-"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Checker evaluates the registered probes. Safe for concurrent use; the
// probe list is fixed at construction time.
type Checker struct {
	probes []Probe
}

// NewChecker creates a checker over the given probes. Probes run
// sequentially in the order provided.
func NewChecker(probes ...Probe) *Checker {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Checker{probes: p}
}

// Check runs every probe and folds the failures into an overall status:
// any vital failure is critical, at least half the probes failing is
// unhealthy, any failure at all is degraded.
func (c *Checker) Check(ctx context.Context) *Report {
	rep := &Report{
		Checks:    make(map[string]string, len(c.probes)),
		CheckedAt: time.Now().UTC(),
	}

	failed, vitalFailed := 0, false
	for _, p := range c.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Check(pctx)
		cancel()

		if err != nil {
			rep.Checks[p.Name] = "fail: " + err.Error()
			failed++
			if p.Vital {
				vitalFailed = true
			}
		} else {
			rep.Checks[p.Name] = "ok"
		}
	}

	switch {
	case vitalFailed:
		rep.Status = Critical
	case len(c.probes) > 0 && failed*2 >= len(c.probes):
		rep.Status = Unhealthy
	case failed > 0:
		rep.Status = Degraded
	}
	return rep
}

// Handler serves /healthz and /readyz from a Checker.
type Handler struct {
	checker *Checker
}

// NewHandler wraps a checker for HTTP exposure.
func NewHandler(c *Checker) *Handler {
	return &Handler{checker: c}
}

// response is the JSON body for both endpoints.
type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs the full probe set. Healthy and degraded map to 200 so a
// single flaky non-vital component does not pull the service out of
// rotation; unhealthy and critical map to 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.checker.Check(r.Context())

	status := http.StatusOK
	if rep.Status.Blocking() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response{Status: rep.Status.String(), Checks: rep.Checks})
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
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
