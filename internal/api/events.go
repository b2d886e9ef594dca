package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/trustcircle/groupcore/internal/corelog"
	"github.com/trustcircle/groupcore/internal/node"
)

var log = corelog.Logger("api")

// upgrader allows any origin: this surface is meant for a local operator
// UI, not a public-facing service (mirrors goop2's viewer, which binds to
// loopback by default).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerEventRoutes wires the live event feed over both SSE and
// WebSocket, fed by node.Node's hub (spec §6.5 supplement). Grounded on
// goop2's routes.RegisterGroups SSE endpoint and routes.RegisterChat's
// WebSocket-free SSE sibling, using gorilla/websocket for the socket path
// the way goop2's internal/realtime package does for call signaling.
func registerEventRoutes(mux *http.ServeMux, n *node.Node) {
	// GET /api/events — SSE stream of every GroupEvent.
	handleGet(mux, "/api/events", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ch := n.Subscribe()
		defer n.Unsubscribe(ch)

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					log.Warnw("marshal group event failed", "err", err)
					continue
				}
				fmt.Fprintf(w, "event: groupEvent\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})

	// GET /api/events/recent — replays the node's bounded in-memory event
	// history, for a client that reconnects and wants to catch up before
	// it resumes the live /api/events stream.
	handleGet(mux, "/api/events/recent", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, n.RecentEvents())
	})

	// GET /api/events/ws — same feed over a WebSocket, for clients that
	// prefer a socket over SSE.
	handleGet(mux, "/api/events/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnw("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		ch := n.Subscribe()
		defer n.Unsubscribe(ch)

		for evt := range ch {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	})
}
