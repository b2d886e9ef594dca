// Package wire defines the JSON frame contract exchanged between peers
// over an open session (spec §6.2, §6.4): SYNC_REQUEST/SYNC_RESPONSE on
// handshake, EVENT_BROADCAST for new local events, PING/PONG for liveness.
// Every frame carries a Type discriminator so a single Session.OnMessage
// callback can dispatch on it, mirroring the envelope pattern goop2's
// group.Message and mq manager use for their own wire types.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/trustcircle/groupcore/internal/eventlog"
)

// Frame type discriminators (spec §6.2).
const (
	TypeSyncRequest    = "SYNC_REQUEST"
	TypeSyncResponse   = "SYNC_RESPONSE"
	TypeEventBroadcast = "EVENT_BROADCAST"
	TypePing           = "PING"
	TypePong           = "PONG"
)

// Envelope is the outer shape every frame is encoded as: a type tag plus
// a raw payload, so a node can peek the type before committing to a
// concrete struct (same pattern as goop2's inbound message decode).
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SyncRequest carries the sender's local event-id set so the receiver can
// compute what it's missing (spec §4.5 rule 1).
type SyncRequest struct {
	EventIDs []string `json:"eventIds"`
}

// SyncResponse carries every event the responder holds that the requester's
// SyncRequest didn't list (spec §4.5 rule 2).
type SyncResponse struct {
	MissingEvents []eventlog.Event `json:"missingEvents"`
}

// EventBroadcast carries a single newly appended local event (spec §4.5
// rule 4) — never a batch, and never re-forwarded by the receiver (rule 5).
type EventBroadcast struct {
	Event eventlog.Event `json:"event"`
}

// Ping and Pong carry no payload; their presence on the wire is the whole
// point (spec §6.2).
type Ping struct{}
type Pong struct{}

// Encode wraps a typed frame body into an Envelope and marshals it, ready
// for Session.Send.
func Encode(typ string, body any) ([]byte, error) {
	var payload json.RawMessage
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s payload: %w", typ, err)
		}
		payload = raw
	}
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}

// EncodeSyncRequest builds a ready-to-send SYNC_REQUEST frame.
func EncodeSyncRequest(eventIDs []string) ([]byte, error) {
	return Encode(TypeSyncRequest, SyncRequest{EventIDs: eventIDs})
}

// EncodeSyncResponse builds a ready-to-send SYNC_RESPONSE frame.
func EncodeSyncResponse(events []eventlog.Event) ([]byte, error) {
	return Encode(TypeSyncResponse, SyncResponse{MissingEvents: events})
}

// EncodeEventBroadcast builds a ready-to-send EVENT_BROADCAST frame.
func EncodeEventBroadcast(e eventlog.Event) ([]byte, error) {
	return Encode(TypeEventBroadcast, EventBroadcast{Event: e})
}

// EncodePing builds a ready-to-send PING frame.
func EncodePing() ([]byte, error) { return Encode(TypePing, nil) }

// EncodePong builds a ready-to-send PONG frame.
func EncodePong() ([]byte, error) { return Encode(TypePong, nil) }

// Decode peeks a raw frame's envelope without decoding its payload.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// DecodeSyncRequest decodes an Envelope's payload as SyncRequest.
func (e Envelope) DecodeSyncRequest() (SyncRequest, error) {
	var r SyncRequest
	err := json.Unmarshal(e.Payload, &r)
	return r, err
}

// DecodeSyncResponse decodes an Envelope's payload as SyncResponse.
func (e Envelope) DecodeSyncResponse() (SyncResponse, error) {
	var r SyncResponse
	err := json.Unmarshal(e.Payload, &r)
	return r, err
}

// DecodeEventBroadcast decodes an Envelope's payload as EventBroadcast.
func (e Envelope) DecodeEventBroadcast() (EventBroadcast, error) {
	var r EventBroadcast
	err := json.Unmarshal(e.Payload, &r)
	return r, err
}
