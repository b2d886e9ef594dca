package api

import (
	"net/http"

	"github.com/trustcircle/groupcore/internal/node"
)

// Register wires every route onto mux. Grounded on goop2's
// routes.Register, which composes one registerXRoutes call per concern
// onto a shared *http.ServeMux.
func Register(mux *http.ServeMux, n *node.Node) {
	registerGroupRoutes(mux, n)
	registerMessageRoutes(mux, n)
	registerEventRoutes(mux, n)
	registerDiagnosticsRoutes(mux, n)
}
