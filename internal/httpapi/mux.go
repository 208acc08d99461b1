// Package httpapi serves the bridge's read-only status API.
package httpapi

import (
	"net/http"

	"broadcastnet/internal/archive"
	"broadcastnet/internal/metrics"
)

type Deps struct {
	Bridge  string
	Archive archive.Repository
	Metrics *metrics.Metrics
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, deps.Bridge, deps.Archive)
	registerSenders(mux, deps.Archive)
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	return mux
}
