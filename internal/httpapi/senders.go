package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"broadcastnet/internal/archive"
	"broadcastnet/internal/measurement"
)

const defaultCyclesLimit = 50

type sendersAPI struct {
	repo archive.Repository
}

func registerSenders(mux *http.ServeMux, repo archive.Repository) {
	if repo == nil {
		return
	}
	api := &sendersAPI{repo: repo}
	mux.HandleFunc("GET /api/v1/senders", api.handleSenders)
	mux.HandleFunc("GET /api/v1/senders/{address}/cycles", api.handleCycles)
}

func (api *sendersAPI) handleSenders(w http.ResponseWriter, r *http.Request) {
	senders, err := api.repo.ListSenders(r.Context())
	if err != nil {
		slog.Error("list senders", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list senders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": senders})
}

func (api *sendersAPI) handleCycles(w http.ResponseWriter, r *http.Request) {
	addr, err := measurement.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cycles, err := api.repo.ListCycles(r.Context(), addr.String(), limit)
	if err != nil {
		slog.Error("list cycles", "sender", addr.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sender": addr.String(),
		"limit":  limit,
		"items":  cycles,
	})
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultCyclesLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > archive.MaxLimit {
		return 0, fmt.Errorf("'limit' must be <= %d", archive.MaxLimit)
	}
	return n, nil
}
