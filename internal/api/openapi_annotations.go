// Package api — swaggo annotation stubs. Each function below is a
// documentation stub only; the real handler logic lives in the closures
// registered in groups.go, messages.go, events.go, and diagnostics.go.
// Run `swag init` from the project root to regenerate ./docs/.
package api

// createGroupRequest is the body for POST /api/groups.
type createGroupRequest struct {
	Name string `json:"name" example:"Book Club"`
}

// joinGroupRequest is the body for POST /api/groups/{id}/join.
type joinGroupRequest struct {
	InviteCode string `json:"inviteCode" example:"{\"groupId\":\"...\",\"peerId\":\"...\"}"`
}

// sendMessageRequest is the body for POST /api/groups/{id}/messages.
type sendMessageRequest struct {
	Text string `json:"text" example:"hello, world"`
}

// CreateGroup godoc
//
//	@Summary		Create a group
//	@Description	Creates a fresh group with a fresh local peer id and seeds its GROUP_CREATED event.
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createGroupRequest	true	"group name"
//	@Success		200		{object}	groupSummary
//	@Router			/api/groups [post]
func CreateGroup() {}

// JoinGroup godoc
//
//	@Summary		Join a group
//	@Description	Parses an invite code and either dials a known group's bootstrap peer, or creates a new empty replica and dials it.
//	@Tags			groups
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"group id"
//	@Param			request	body		joinGroupRequest	true	"invite code"
//	@Success		200		{object}	groupSummary
//	@Router			/api/groups/{id}/join [post]
func JoinGroup() {}

// SendMessage godoc
//
//	@Summary		Send a chat message
//	@Description	Appends a MESSAGE_ADDED event to the group's log and broadcasts it to open sessions.
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			id		path	string				true	"group id"
//	@Param			request	body	sendMessageRequest	true	"message"
//	@Router			/api/groups/{id}/messages [post]
func SendMessage() {}
