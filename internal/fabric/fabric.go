// Package fabric defines the abstract peer-transport contract the rest of
// the core depends on (spec §6.1): an Endpoint that listens for inbound
// sessions and dials outbound ones, and a Session that exchanges framed
// messages with exactly one remote peer. Nothing above this package knows
// it is libp2p underneath — see fabric/libp2pfabric for the concrete
// adapter, grounded on goop2's internal/p2p.Node.
package fabric

import "context"

// Endpoint is a single node's presence on the fabric for one group: it can
// be dialed into by id, and it surfaces inbound sessions and lifecycle
// events through the On* callbacks, set once at construction (spec §6.1,
// §9 note on callback-only wiring to avoid back-reference cycles).
type Endpoint interface {
	// ID returns this endpoint's own identifier on the fabric.
	ID() string

	// Connect dials the remote peer id and returns the resulting session
	// once the underlying transport reports it open, or an error.
	Connect(ctx context.Context, remoteID string) (Session, error)

	// OnSession registers the callback invoked for every inbound session
	// accepted by this endpoint (a peer dialing us).
	OnSession(func(Session))

	// OnReady registers the callback invoked once the endpoint has
	// finished bootstrapping and is reachable on the fabric (spec §4.4
	// "fabric ready" dial trigger).
	OnReady(func())

	// OnError registers the callback invoked for endpoint-level failures
	// that are not tied to any single session.
	OnError(func(error))

	// Destroy tears the endpoint down, closing every session it owns.
	Destroy() error

	// Destroyed reports whether Destroy has already been called.
	Destroyed() bool
}

// Session is one open, bidirectional, framed connection to exactly one
// remote peer (spec §6.1). Callbacks are set once, before the session is
// handed to its owner, and are never reassigned afterward.
type Session interface {
	// Peer returns the remote endpoint id this session talks to.
	Peer() string

	// Send writes one frame. Safe to call concurrently with itself and
	// with the On* callbacks firing.
	Send(data []byte) error

	// Close ends the session from this side.
	Close() error

	// Open reports whether the session is currently usable for Send.
	Open() bool

	// OnOpen registers the callback fired once the session becomes usable.
	// Some transports hand over already-open sessions, in which case the
	// callback fires synchronously when registered.
	OnOpen(func())

	// OnMessage registers the callback fired for every inbound frame.
	OnMessage(func(data []byte))

	// OnClose registers the callback fired exactly once when the session
	// ends, from either side.
	OnClose(func())

	// OnError registers the callback fired for session-level transport
	// errors that do not by themselves close the session.
	OnError(func(error))
}
