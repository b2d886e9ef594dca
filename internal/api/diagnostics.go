package api

import (
	"net/http"

	"github.com/trustcircle/groupcore/internal/node"
)

// registerDiagnosticsRoutes wires the health/diagnostics surface, modeled
// on goop2's /healthz plus its node diagnostics snapshot.
func registerDiagnosticsRoutes(mux *http.ServeMux, n *node.Node) {
	handleGet(mux, "/api/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, n.Diagnostics())
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
}
