// Package eventlog implements the append-only, deterministically ordered
// replicated log described in spec §3-4.1. It is the one place the total
// order comparator lives; every node must use the identical comparator for
// the system's convergence guarantee to hold.
package eventlog

import "encoding/json"

// Known event types (spec §3). The set is closed but extensible: an
// unrecognized type is still merged (I2/I4 must keep holding) but produces
// no derived state (spec §7, "Unknown event type").
const (
	TypeGroupCreated = "GROUP_CREATED"
	TypeMessageAdded = "MESSAGE_ADDED"
	TypeMemberLeft   = "MEMBER_LEFT"
)

// GroupCreatedPayload is the payload of a GROUP_CREATED event.
type GroupCreatedPayload struct {
	Name string `json:"name"`
}

// MessageAddedPayload is the payload of a MESSAGE_ADDED event.
type MessageAddedPayload struct {
	Text string `json:"text"`
}

// Event is the atomic unit of replicated state (spec §3). Payload is kept
// as raw JSON so the log never needs to know about every event type's Go
// shape — only appendLocal's caller and the derived-view code do.
type Event struct {
	ID           string          `json:"id"`
	Timestamp    int64           `json:"timestamp"`
	AuthorPeerID string          `json:"authorPeerId"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
}

// DecodeGroupCreated extracts the GROUP_CREATED payload, if this event is one.
func (e Event) DecodeGroupCreated() (GroupCreatedPayload, bool) {
	if e.Type != TypeGroupCreated {
		return GroupCreatedPayload{}, false
	}
	var p GroupCreatedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return GroupCreatedPayload{}, false
	}
	return p, true
}

// DecodeMessageAdded extracts the MESSAGE_ADDED payload, if this event is one.
func (e Event) DecodeMessageAdded() (MessageAddedPayload, bool) {
	if e.Type != TypeMessageAdded {
		return MessageAddedPayload{}, false
	}
	var p MessageAddedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return MessageAddedPayload{}, false
	}
	return p, true
}

// NewGroupCreated builds a GROUP_CREATED event with the given id/author/name.
func NewGroupCreated(id string, ts int64, author, name string) Event {
	payload, _ := json.Marshal(GroupCreatedPayload{Name: name})
	return Event{ID: id, Timestamp: ts, AuthorPeerID: author, Type: TypeGroupCreated, Payload: payload}
}

// NewMessageAdded builds a MESSAGE_ADDED event with the given id/author/text.
func NewMessageAdded(id string, ts int64, author, text string) Event {
	payload, _ := json.Marshal(MessageAddedPayload{Text: text})
	return Event{ID: id, Timestamp: ts, AuthorPeerID: author, Type: TypeMessageAdded, Payload: payload}
}

// NewMemberLeft builds a MEMBER_LEFT event. Payload is empty — the author
// field alone identifies who left.
func NewMemberLeft(id string, ts int64, author string) Event {
	return Event{ID: id, Timestamp: ts, AuthorPeerID: author, Type: TypeMemberLeft, Payload: json.RawMessage("{}")}
}
