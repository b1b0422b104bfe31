// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker. The bridge
// registers "device_link" (a subscribed device connection exists) and
// "capture" (the UDP listener is bound).
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Status values reported in the "status" field.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and an error describing the problem otherwise.
type Checker struct {
	// Name is the key of this check in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Flag returns a Checker that fails with reason while ok reports false. It
// suits state the bridge already tracks, such as "device link subscribed"
// or "capture socket bound".
func Flag(name, reason string, ok func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if ok() {
				return nil
			}
			return errors.New(reason)
		},
	}
}

// report is the JSON body of both endpoints.
type report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New creates a Handler that runs checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// Healthz is the liveness probe: a process that can answer HTTP is alive.
// The body carries the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{
		Status: StatusOK,
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz runs every checker concurrently, each under a [checkTimeout]
// deadline derived from the request, and answers 200 only when all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	rep := report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			rep.Checks[c.Name] = StatusFail + ": " + errs[i].Error()
			rep.Status = StatusFail
			code = http.StatusServiceUnavailable
			continue
		}
		rep.Checks[c.Name] = StatusOK
	}
	writeJSON(w, code, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
