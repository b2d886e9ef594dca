// Package clockid supplies the node's two ambient services that the core
// otherwise treats as external collaborators (spec §2, component 1): wall
// clock timestamps and collision-free ids. Keeping both behind tiny
// functions (rather than scattering time.Now()/uuid.New() through the
// engine) is what lets tests substitute deterministic values.
package clockid

import (
	"time"

	"github.com/google/uuid"
)

// NowMillis returns the current wall-clock time as integer milliseconds
// since the Unix epoch — the sole sort-key and timeout reference used
// throughout the core (spec §3, §5).
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewEventID returns a fresh, collision-free event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// NewInviteNonce returns a fresh random token. It is not part of the wire
// contract in spec §6.4: invite.Encode does not call it, and invite codes
// carry no nonce.
func NewInviteNonce() string {
	return uuid.NewString()
}
