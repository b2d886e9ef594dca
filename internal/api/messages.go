package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/trustcircle/groupcore/internal/group"
	"github.com/trustcircle/groupcore/internal/node"
)

// renderedMessage is group.ChatMessage plus the goldmark-rendered HTML of
// its text, for clients that want to display formatted chat (spec §6.5
// supplement).
type renderedMessage struct {
	group.ChatMessage
	HTML string `json:"html"`
}

func renderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// registerMessageRoutes wires the chat-facing endpoints built on the
// derived ChatMessages view (spec §6.5), on the {id}-path-segment shape
// SPEC_FULL.md documents.
func registerMessageRoutes(mux *http.ServeMux, n *node.Node) {
	// GET /api/groups/{id}/messages — derived chatMessages view.
	handleGet(mux, "GET /api/groups/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		grp, ok := n.Group(r.PathValue("id"))
		if !ok {
			http.Error(w, "unknown group", http.StatusNotFound)
			return
		}

		msgs := grp.ChatMessages()
		out := make([]renderedMessage, 0, len(msgs))
		for _, m := range msgs {
			html, err := renderMarkdown(m.Text)
			if err != nil {
				html = ""
			}
			out = append(out, renderedMessage{ChatMessage: m, HTML: html})
		}
		writeJSON(w, out)
	})

	// POST /api/groups/{id}/messages — appendLocal(MESSAGE_ADDED) +
	// broadcast (spec §4.5 rule 4, §4.2 appendLocal).
	mux.HandleFunc("POST /api/groups/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		groupID := r.PathValue("id")
		if groupID == "" || req.Text == "" {
			http.Error(w, "missing group id or text", http.StatusBadRequest)
			return
		}
		e, err := n.AppendMessage(groupID, req.Text)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to send message: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"status": "sent", "eventId": e.ID})
	})
}
