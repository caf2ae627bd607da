// Package health serves the engine's liveness and readiness checks.
//
//   - /healthz reports that the process serves HTTP.
//   - /readyz runs every registered [Checker]. A failing required checker
//     turns the response into 503; a failing optional checker is reported as
//     "warn" and the engine stays ready.
//
// The readiness body lists each checker under "checks". A store that cannot
// be reached is a failure. A host that refused the background task is a
// warning: the engine still rings through its internal timer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const checkTimeout = 5 * time.Second

// Response statuses.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// Checker is a named health check.
type Checker struct {
	// Name is the key in the "checks" map (e.g. "store", "host").
	Name string

	// Check returns nil when healthy. It must respect ctx.
	Check func(ctx context.Context) error

	// Optional checkers never make the engine unready.
	Optional bool
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler is safe for concurrent use; the checker list is fixed by [New].
type Handler struct {
	checkers []Checker
}

// New returns a handler that evaluates checkers in order on each /readyz.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz answers 200 unless a required checker fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		switch {
		case err == nil:
			res.Checks[c.Name] = StatusOK
		case c.Optional:
			res.Checks[c.Name] = StatusWarn + ": " + err.Error()
			if res.Status == StatusOK {
				res.Status = StatusWarn
			}
		default:
			res.Checks[c.Name] = StatusFail + ": " + err.Error()
			res.Status = StatusFail
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, res)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
