package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// HealthServer exposes /healthz and /readyz endpoints. Readiness requires the pool to be
// started and at least one worker still running its publish loop.
type HealthServer struct {
	ready   atomic.Bool
	workers func() int
}

// NewHealthServer creates a new health server. workers reports the number of live workers;
// nil means readiness depends on SetReady alone.
func NewHealthServer(workers func() int) *HealthServer {
	return &HealthServer{workers: workers}
}

// SetReady marks the pool as started (or stopping).
func (h *HealthServer) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Handler returns an http.Handler with health and readiness endpoints.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	return mux
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *HealthServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	live := -1
	if h.workers != nil {
		live = h.workers()
	}

	body := map[string]any{"status": "ready"}
	if live >= 0 {
		body["workers"] = live
	}
	if !h.ready.Load() || live == 0 {
		body["status"] = "not ready"
		writeStatus(w, http.StatusServiceUnavailable, body)
		return
	}
	writeStatus(w, http.StatusOK, body)
}

func writeStatus(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
