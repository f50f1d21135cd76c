package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/markdave123-py/textbook-index/internal/search"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type SearchHealth interface {
	Health(ctx context.Context) search.Health
}

// HealthHandler reports database reachability and the active search mode.
type HealthHandler struct {
	db     Pinger
	search SearchHealth
}

func NewHealthHandler(db Pinger, s SearchHealth) *HealthHandler {
	return &HealthHandler{db: db, search: s}
}

type healthCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

type healthResponse struct {
	Status   string        `json:"status"`
	Database healthCheck   `json:"database"`
	Search   search.Health `json:"search"`
}

// Health is 200 when the database answers, even if search runs degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: healthCheck{Status: "ok"}}
	start := time.Now()
	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "not_ready"
		resp.Database = healthCheck{Status: "error", Error: err.Error()}
	}
	resp.Database.LatencyMs = time.Since(start).Milliseconds()
	resp.Search = h.search.Health(ctx)

	if resp.Status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
