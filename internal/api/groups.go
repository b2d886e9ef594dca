package api

import (
	"fmt"
	"net/http"

	"github.com/trustcircle/groupcore/internal/invite"
	"github.com/trustcircle/groupcore/internal/node"
)

// groupSummary is the list/detail view of a group (spec §6.5).
type groupSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MyPeerID    string   `json:"myPeerId"`
	Members     []string `json:"members"`
	EventCount  int      `json:"eventCount"`
	Placeholder bool     `json:"placeholder"`
}

func summarize(grp interface {
	Name() string
	MemberSet() []string
	Len() int
	IsPlaceholder() bool
}, id, myPeerID string) groupSummary {
	return groupSummary{
		ID:          id,
		Name:        grp.Name(),
		MyPeerID:    myPeerID,
		Members:     grp.MemberSet(),
		EventCount:  grp.Len(),
		Placeholder: grp.IsPlaceholder(),
	}
}

// registerGroupRoutes wires the group lifecycle endpoints (spec §4.6):
// create, join, invite, leave, active, forget, plus the derived members
// view of §6.5, on the {id}-path-segment shape SPEC_FULL.md documents (the
// message views are wired by registerMessageRoutes).
// Grounded on goop2's routes.RegisterGroups.
func registerGroupRoutes(mux *http.ServeMux, n *node.Node) {
	mux.HandleFunc("GET /api/groups", func(w http.ResponseWriter, r *http.Request) {
		groups := n.Groups()
		out := make([]groupSummary, 0, len(groups))
		for _, g := range groups {
			out = append(out, summarize(g, g.ID, g.MyPeerID))
		}
		writeJSON(w, out)
	})

	handlePost(mux, "POST /api/groups", func(w http.ResponseWriter, r *http.Request, req struct {
		Name string `json:"name"`
	}) {
		if req.Name == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}
		grp, err := n.CreateGroup(req.Name)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to create group: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, summarize(grp, grp.ID, grp.MyPeerID))
	})

	// POST /api/groups/{id}/join — joinGroup(inviteCode) (spec §4.6). The
	// invite code itself carries the authoritative groupId; {id} is
	// validated against it rather than trusted blindly.
	handlePost(mux, "POST /api/groups/{id}/join", func(w http.ResponseWriter, r *http.Request, req struct {
		InviteCode string `json:"inviteCode"`
	}) {
		if req.InviteCode == "" {
			http.Error(w, "missing inviteCode", http.StatusBadRequest)
			return
		}
		parsed, err := invite.Decode(req.InviteCode)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to join group: %v", err), http.StatusBadRequest)
			return
		}
		if id := r.PathValue("id"); id != "" && id != parsed.GroupID {
			http.Error(w, "invite code does not match group id in path", http.StatusBadRequest)
			return
		}
		grp, err := n.JoinGroup(req.InviteCode)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to join group: %v", err), http.StatusBadRequest)
			return
		}
		writeJSON(w, summarize(grp, grp.ID, grp.MyPeerID))
	})

	// GET /api/groups/{id}/invite — produce an invite string bootstrapped
	// off this node's own membership in the group (spec §6.4).
	handleGet(mux, "GET /api/groups/{id}/invite", func(w http.ResponseWriter, r *http.Request) {
		grp, ok := n.Group(r.PathValue("id"))
		if !ok {
			http.Error(w, "unknown group", http.StatusNotFound)
			return
		}
		code, err := invite.Encode(grp.ID, grp.MyPeerID)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to build invite: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"inviteCode": code})
	})

	// POST /api/groups/{id}/leave — leaveGroup(groupId) (spec §4.6).
	mux.HandleFunc("POST /api/groups/{id}/leave", func(w http.ResponseWriter, r *http.Request) {
		n.LeaveGroup(r.PathValue("id"))
		writeJSON(w, map[string]string{"status": "left"})
	})

	// POST /api/groups/{id}/active — setActiveGroup(groupId) (spec §4.6).
	mux.HandleFunc("POST /api/groups/{id}/active", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		n.SetActiveGroup(id)
		writeJSON(w, map[string]string{"activeGroupId": id})
	})

	// GET /api/groups/active — the current activeGroupId hint (spec §4.6).
	handleGet(mux, "GET /api/groups/active", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"activeGroupId": n.ActiveGroupID()})
	})

	// POST /api/groups/{id}/forget/{peerId} — forgetMember(groupId, peerId)
	// (spec §4.6).
	mux.HandleFunc("POST /api/groups/{id}/forget/{peerId}", func(w http.ResponseWriter, r *http.Request) {
		n.ForgetMember(r.PathValue("id"), r.PathValue("peerId"))
		writeJSON(w, map[string]string{"status": "forgotten"})
	})

	// GET /api/groups/{id}/members — derived members view (spec §6.5).
	handleGet(mux, "GET /api/groups/{id}/members", func(w http.ResponseWriter, r *http.Request) {
		grp, ok := n.Group(r.PathValue("id"))
		if !ok {
			http.Error(w, "unknown group", http.StatusNotFound)
			return
		}
		writeJSON(w, grp.MemberSet())
	})
}
