package httpapi

import (
	"context"
	"log/slog"
	"net/http"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type healthchecker struct {
	bridge string
	db     pinger
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "bridge": h.bridge})
}

func registerHealthcheck(mux *http.ServeMux, bridge string, db pinger) {
	h := &healthchecker{bridge: bridge, db: db}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
