// Package invite encodes and decodes the out-of-band invite string (spec
// §6.4): a bare JSON object `{groupId, peerId}`, shared via copy-paste or a
// QR code encoding the same string.
package invite

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalid is returned for any invite that fails to parse or is missing
// a required field (spec §7 "Malformed invite": fails synchronously with
// a user-visible result, no state change).
var ErrInvalid = errors.New("invite: invalid invite code")

// Code is the decoded shape of an invite (spec §6.4).
type Code struct {
	GroupID string `json:"groupId"`
	PeerID  string `json:"peerId"`
}

// Encode renders groupID/peerID as the bare JSON invite string.
func Encode(groupID, peerID string) (string, error) {
	raw, err := json.Marshal(Code{GroupID: groupID, PeerID: peerID})
	if err != nil {
		return "", fmt.Errorf("invite: encode: %w", err)
	}
	return string(raw), nil
}

// Decode parses an invite string, failing synchronously on anything
// malformed or incomplete.
func Decode(s string) (Code, error) {
	var c Code
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Code{}, ErrInvalid
	}
	if c.GroupID == "" || c.PeerID == "" {
		return Code{}, ErrInvalid
	}
	return c, nil
}
