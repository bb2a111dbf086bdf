package server

import (
	"log/slog"
	"net/http"

	"github.com/sjawhar/voxflow/internal/replay"
)

// Handler assembles the control API, the health-signal routes, and the
// websocket event stream.
func Handler(hub *Hub, ctrl Controller, archive Archive, cache *replay.Cache, health HealthSink, endpoints EndpointAdmin, warnings []string, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	registerWSRoute(mux, hub, log)
	registerAPIRoutes(mux, ctrl, archive, cache, warnings)
	registerHealthRoutes(mux, health, endpoints)
	return mux
}
