// Package health serves liveness and readiness checks.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/cloudpayments-webhook/internal/common"
)

const defaultCheckTimeout = 500 * time.Millisecond

var draining atomic.Bool

// SetReady toggles readiness; main flips it off when shutdown begins so the
// load balancer stops sending notifications before the server closes.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Dependency is one readiness check.
type Dependency struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Dependencies []Dependency
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready checks every dependency and answers 503 if any fails or the process is draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.Dependencies)+1)
	healthy := true
	if draining.Load() {
		status["server"] = "shutting down"
		healthy = false
	}
	for _, p := range h.Dependencies {
		if err := run(r.Context(), p); err != nil {
			status[p.Name] = err.Error()
			healthy = false
			continue
		}
		status[p.Name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func run(ctx context.Context, p Dependency) error {
	if p.Check == nil {
		return nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}
