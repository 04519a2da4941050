package api

import (
	"context"
	"net/http"
)

// Counter reports how many entries a storage backend holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type HealthHandler struct {
	backend string
	counter Counter
}

// NewHealthHandler reports the named backend. counter may be nil for
// backends that cannot count cheaply.
func NewHealthHandler(backend string, counter Counter) *HealthHandler {
	return &HealthHandler{backend: backend, counter: counter}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"backend": h.backend,
	}
	if h.counter != nil {
		if n, err := h.counter.Count(r.Context()); err == nil {
			resp["entries"] = n
		} else {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, r, resp)
}
