// Package health serves the liveness and readiness endpoints of the podmark
// operations listener.
//
//   - /healthz: liveness; 200 while the process can serve HTTP.
//   - /readyz: readiness; 503 until [Handler.SetReady] is called, then 200
//     only while every registered [Probe] passes.
//
// Probes typically wrap the embedding cache connection and the provider
// circuit breakers, so a run is not started while every backend is tripped.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds a single probe.
const probeTimeout = 5 * time.Second

// Probe checks one dependency. Check returns nil when the dependency is usable.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to [Probe].
type ProbeFunc func(ctx context.Context) error

// Check implements [Probe].
func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

type namedProbe struct {
	name  string
	probe Probe
}

// report is the JSON body of both endpoints.
type report struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// WithProbe registers a readiness probe under name.
func WithProbe(name string, p Probe) Option {
	return func(h *Handler) { h.probes = append(h.probes, namedProbe{name, p}) }
}

// Handler serves the health endpoints. It is safe for concurrent use.
type Handler struct {
	version string
	ready   atomic.Bool

	mu     sync.RWMutex
	probes []namedProbe
}

// New creates a [Handler]. It reports not ready until [Handler.SetReady].
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Add registers a readiness probe after construction, e.g. once the
// application has connected its cache.
func (h *Handler) Add(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, namedProbe{name, p})
}

// SetReady marks start-up as finished (or, with false, as shutting down).
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok", Version: h.version})
}

// Readyz runs every probe concurrently, each bounded by [probeTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, report{Status: "starting"})
		return
	}

	h.mu.RLock()
	probes := append([]namedProbe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]error, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			results[i] = p.probe.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := report{Status: "ok", Checks: make(map[string]string, len(probes))}
	status := http.StatusOK
	for i, p := range probes {
		if err := results[i]; err != nil {
			res.Checks[p.name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[p.name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
