package server

import (
	"net/http"
)

// Handler assembles the full HTTP surface: the websocket event endpoint for
// live sessions and the JSON read API over completed ones.
func Handler(hub *Hub, store SessionStore, coord Coordinator, status StatusReporter) http.Handler {
	mux := http.NewServeMux()
	registerWSRoute(mux, hub, coord)
	registerAPIRoutes(mux, store, status)
	return mux
}
