// Package peersession wraps a fabric.Session with the Dialing → Open →
// Closed lifecycle the connection manager reasons about (spec §4.3, §9
// decision: callbacks are set once at construction and never reassigned,
// so a PeerSession never needs a back-pointer to its owner — it just
// calls outward through the handlers it was given, the same shape goop2's
// chat.Manager.handleStream callbacks use).
package peersession

import (
	"errors"
	"sync"

	"github.com/trustcircle/groupcore/internal/corelog"
	"github.com/trustcircle/groupcore/internal/fabric"
)

var log = corelog.Logger("peersession")

// ErrNotOpen is returned by Send when the session has not yet reached the
// Open state, or has already left it.
var ErrNotOpen = errors.New("peersession: not open")

// State is where a PeerSession currently sits in its lifecycle (spec §4.3).
type State int

const (
	Dialing State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Dialing:
		return "dialing"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers are the callbacks a PeerSession's owner supplies at construction
// (spec §4.3): OnOpen fires once the underlying session reports open,
// OnMessage for every inbound frame, OnClose exactly once when it ends,
// OnError for transport errors that don't themselves close the session.
type Handlers struct {
	OnOpen    func(*PeerSession)
	OnMessage func(*PeerSession, []byte)
	OnClose   func(*PeerSession)
	OnError   func(*PeerSession, error)
}

// PeerSession is one full-mesh link to a single remote member of a group
// (spec §4.3). GroupID and PeerID are immutable for its lifetime.
type PeerSession struct {
	GroupID string
	PeerID  string

	mu            sync.RWMutex
	state         State
	lastHeardFrom int64 // spec §4.5 rule 6, stamped by the owner on any inbound frame
	underlying    fabric.Session
	handlers      Handlers
}

// New wraps an already-dialed-or-accepted fabric.Session, wires its
// callbacks immediately, and returns a PeerSession starting in Dialing
// state until the underlying session reports open.
func New(groupID string, sess fabric.Session, h Handlers) *PeerSession {
	ps := &PeerSession{
		GroupID:    groupID,
		PeerID:     sess.Peer(),
		state:      Dialing,
		underlying: sess,
		handlers:   h,
	}

	// OnMessage/OnClose/OnError are wired before OnOpen: some fabric
	// implementations (and the in-memory test double) invoke the OnOpen
	// callback synchronously as soon as it is registered, so the session
	// must already be able to receive and close by that point.
	sess.OnMessage(func(data []byte) {
		if h.OnMessage != nil {
			h.OnMessage(ps, data)
		}
	})
	sess.OnClose(func() {
		ps.mu.Lock()
		ps.state = Closed
		ps.mu.Unlock()
		log.Debugw("session closed", "group", groupID, "peer", ps.PeerID)
		if h.OnClose != nil {
			h.OnClose(ps)
		}
	})
	sess.OnError(func(err error) {
		if h.OnError != nil {
			h.OnError(ps, err)
		}
	})
	sess.OnOpen(func() {
		ps.mu.Lock()
		ps.state = Open
		ps.mu.Unlock()
		log.Debugw("session open", "group", groupID, "peer", ps.PeerID)
		if h.OnOpen != nil {
			h.OnOpen(ps)
		}
	})

	return ps
}

// Send writes a frame if the session is Open; otherwise the frame is
// dropped and ErrNotOpen is returned (SPEC_FULL.md's "Send(frame) error"
// contract — callers never need to check State themselves before sending;
// connmgr never blocks on a dialing or closed session either way).
func (p *PeerSession) Send(data []byte) error {
	if p.State() != Open {
		return ErrNotOpen
	}
	return p.underlying.Send(data)
}

// Close ends the session from this side.
func (p *PeerSession) Close() error {
	return p.underlying.Close()
}

// State returns the current lifecycle state.
func (p *PeerSession) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// MarkHeard stamps lastHeardFrom with the given millisecond timestamp
// (spec §4.5 rule 6 — the connection manager calls this on every inbound
// frame, not just pings).
func (p *PeerSession) MarkHeard(nowMillis int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastHeardFrom = nowMillis
}

// LastHeardFrom returns the last stamped timestamp, or 0 if none yet.
func (p *PeerSession) LastHeardFrom() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastHeardFrom
}
