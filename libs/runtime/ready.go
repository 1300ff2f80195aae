package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 2 * time.Second

// ReadyCheck is a named dependency check for /readyz. Timeout overrides HealthConfig.CheckTimeout.
type ReadyCheck struct {
	Name    string
	Check   func(context.Context) error
	Timeout time.Duration
}

// HealthConfig configures the health server. Status, when set, is served as JSON on /statusz.
type HealthConfig struct {
	Checks       []ReadyCheck
	CheckTimeout time.Duration
	Status       func() any
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewHealthMux serves /healthz, /readyz and, when configured, /statusz. Checks run
// concurrently; /readyz answers 503 when any of them fails.
func NewHealthMux(p HealthConfig) *http.ServeMux {
	if p.CheckTimeout <= 0 {
		p.CheckTimeout = defaultCheckTimeout
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		report, ok := runChecks(r.Context(), p.Checks, p.CheckTimeout)
		code := http.StatusOK
		if !ok {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
	if p.Status != nil {
		mux.HandleFunc("/statusz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, p.Status())
		})
	}
	return mux
}

func runChecks(ctx context.Context, checks []ReadyCheck, fallback time.Duration) (readiness, bool) {
	results := make([]error, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		if check.Check == nil {
			continue
		}
		timeout := check.Timeout
		if timeout <= 0 {
			timeout = fallback
		}
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = check.Check(checkCtx)
			return nil
		})
	}
	_ = g.Wait()

	report := readiness{Status: "ready", Checks: make(map[string]string, len(checks))}
	ok := true
	for i, check := range checks {
		if check.Check == nil {
			continue
		}
		name := check.Name
		if name == "" {
			name = "dependency"
		}
		if results[i] != nil {
			ok = false
			report.Checks[name] = results[i].Error()
			continue
		}
		report.Checks[name] = "ok"
	}
	if !ok {
		report.Status = "unready"
	}
	return report, ok
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
