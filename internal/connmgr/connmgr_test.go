package connmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trustcircle/groupcore/internal/clockid"
	"github.com/trustcircle/groupcore/internal/eventlog"
	"github.com/trustcircle/groupcore/internal/fabric"
	"github.com/trustcircle/groupcore/internal/group"
	"github.com/trustcircle/groupcore/internal/peersession"
)

// memRegistry, memEndpoint and memSession form an in-process fabric used to drive
// connmgr's sync protocol without any real transport, the way goop2's own
// tests exercise its manager against an in-memory stream pair.
type memRegistry struct {
	mu        sync.Mutex
	endpoints map[string]*memEndpoint
}

func newMemRegistry() *memRegistry {
	return &memRegistry{endpoints: make(map[string]*memEndpoint)}
}

type memEndpoint struct {
	id        string
	reg       *memRegistry
	onSession func(fabric.Session)
	onReady   func()
	destroyed bool
}

func (r *memRegistry) newEndpoint(id string) *memEndpoint {
	e := &memEndpoint{id: id, reg: r}
	r.mu.Lock()
	r.endpoints[id] = e
	r.mu.Unlock()
	return e
}

func (e *memEndpoint) ID() string { return e.id }

func (e *memEndpoint) Connect(ctx context.Context, remoteID string) (fabric.Session, error) {
	e.reg.mu.Lock()
	remote, ok := e.reg.endpoints[remoteID]
	e.reg.mu.Unlock()
	if !ok {
		return nil, errNoSuchPeer{remoteID}
	}

	a, b := newMemSessionPair(e.id, remoteID)
	if remote.onSession != nil {
		remote.onSession(b)
	}
	return a, nil
}

type errNoSuchPeer struct{ id string }

func (e errNoSuchPeer) Error() string { return "no such peer: " + e.id }

func (e *memEndpoint) OnSession(cb func(fabric.Session)) { e.onSession = cb }
func (e *memEndpoint) OnReady(cb func()) {
	e.onReady = cb
	if cb != nil {
		cb()
	}
}
func (e *memEndpoint) OnError(func(error)) {}
func (e *memEndpoint) Destroy() error      { e.destroyed = true; return nil }
func (e *memEndpoint) Destroyed() bool     { return e.destroyed }

// memSession is a synchronous, in-memory fabric.Session: Send on one side
// calls the peer's OnMessage directly.
type memSession struct {
	selfID, peerID string
	peer           *memSession

	mu        sync.Mutex
	closed    bool
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	onError   func(error)
}

func newMemSessionPair(aID, bID string) (*memSession, *memSession) {
	a := &memSession{selfID: aID, peerID: bID}
	b := &memSession{selfID: bID, peerID: aID}
	a.peer = b
	b.peer = a
	return a, b
}

func (s *memSession) Peer() string { return s.peerID }
func (s *memSession) Send(data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errSessionClosed{}
	}
	if s.peer.onMessage != nil {
		s.peer.onMessage(data)
	}
	return nil
}

type errSessionClosed struct{}

func (errSessionClosed) Error() string { return "session closed" }

func (s *memSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
func (s *memSession) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
func (s *memSession) OnOpen(cb func()) {
	s.onOpen = cb
	if cb != nil {
		cb()
	}
}
func (s *memSession) OnMessage(cb func([]byte)) { s.onMessage = cb }
func (s *memSession) OnClose(cb func())         { s.onClose = cb }
func (s *memSession) OnError(cb func(error))    { s.onError = cb }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCreatorAndJoinerConverge(t *testing.T) {
	reg := newMemRegistry()

	a := group.New("g1", "peer-aaa", "demo")
	mgrA := New(a, func(ctx context.Context) (fabric.Endpoint, error) {
		return reg.newEndpoint("peer-aaa"), nil
	})

	b := group.New("g1", "peer-bbb", "")
	mgrB := New(b, func(ctx context.Context) (fabric.Endpoint, error) {
		return reg.newEndpoint("peer-bbb"), nil
	})

	ctx := context.Background()
	if err := mgrA.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgrA.Stop()
	if err := mgrB.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgrB.Stop()

	// B dials A directly (simulating joinGroup's bootstrap dial).
	mgrB.maybeDial("peer-aaa")

	waitFor(t, time.Second, func() bool {
		return b.Len() == 1 && b.Name() == "demo"
	})

	// A appends and broadcasts; B should receive it.
	e := a.AppendLocal(eventlog.TypeMessageAdded, mustPayload("hello"))
	mgrA.Broadcast(e)

	waitFor(t, time.Second, func() bool { return b.Len() == 2 })

	msgs := b.ChatMessages()
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("chat messages = %v", msgs)
	}
}

func mustPayload(text string) []byte {
	return []byte(`{"text":"` + text + `"}`)
}

// TestShouldReplaceTieBreak locks in the simultaneous-dial tie-break rule
// (spec §4.4): the side with the lexicographically larger own peer id keeps
// its outbound dial, the smaller side keeps the inbound session it accepted.
func TestShouldReplaceTieBreak(t *testing.T) {
	big := group.New("g1", "peer-bbb", "demo")
	small := group.New("g1", "peer-aaa", "demo")

	mgrBig := New(big, nil)
	mgrSmall := New(small, nil)

	if !mgrBig.shouldReplace("peer-aaa", outbound) {
		t.Fatal("larger id should keep its own outbound dial")
	}
	if mgrBig.shouldReplace("peer-aaa", inbound) {
		t.Fatal("larger id should not let an inbound session replace its outbound dial")
	}
	if mgrSmall.shouldReplace("peer-bbb", outbound) {
		t.Fatal("smaller id should not keep its own outbound dial")
	}
	if !mgrSmall.shouldReplace("peer-bbb", inbound) {
		t.Fatal("smaller id should keep the inbound session it accepted")
	}
}

// TestTickPingsThenTimesOutStaleSession exercises the 15s/30s liveness
// sweep (spec §4.4 "Heartbeat & failure detection") by driving tick()
// directly against manually-backdated LastHeardFrom timestamps instead of
// waiting on real wall-clock sleeps.
func TestTickPingsThenTimesOutStaleSession(t *testing.T) {
	reg := newMemRegistry()

	a := group.New("g1", "peer-aaa", "demo")
	mgrA := New(a, func(ctx context.Context) (fabric.Endpoint, error) {
		return reg.newEndpoint("peer-aaa"), nil
	})

	b := group.New("g1", "peer-bbb", "")
	mgrB := New(b, func(ctx context.Context) (fabric.Endpoint, error) {
		return reg.newEndpoint("peer-bbb"), nil
	})

	ctx := context.Background()
	if err := mgrA.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgrA.Stop()
	if err := mgrB.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgrB.Stop()

	mgrB.maybeDial("peer-aaa")
	waitFor(t, time.Second, func() bool { return b.Len() == 1 })

	mgrA.mu.Lock()
	e, ok := mgrA.sessions["peer-bbb"]
	mgrA.mu.Unlock()
	if !ok || e.sess.State() != peersession.Open {
		t.Fatalf("expected an open session to peer-bbb, got %+v", e)
	}

	// Backdate LastHeardFrom to sit between PingAfter and LivenessTimeout:
	// tick should ping, and because the in-memory transport answers PONG
	// synchronously, LastHeardFrom should advance past the stale mark and
	// the session should remain in place.
	now := clockid.NowMillis()
	e.sess.MarkHeard(now - PingAfter.Milliseconds() - 1000)
	mgrA.tick()

	mgrA.mu.Lock()
	stillThere, ok := mgrA.sessions["peer-bbb"]
	mgrA.mu.Unlock()
	if !ok {
		t.Fatal("expected session to survive a ping-range staleness tick")
	}
	if stillThere.sess.LastHeardFrom() <= now-PingAfter.Milliseconds()-1000 {
		t.Fatal("expected LastHeardFrom to advance after the auto-PONG reply")
	}

	// Backdate past LivenessTimeout: tick should close and drop the session.
	stillThere.sess.MarkHeard(clockid.NowMillis() - LivenessTimeout.Milliseconds() - 1000)
	mgrA.tick()

	mgrA.mu.Lock()
	_, stillOpen := mgrA.sessions["peer-bbb"]
	mgrA.mu.Unlock()
	if stillOpen {
		t.Fatal("expected session past LivenessTimeout to be closed and removed")
	}
}

// TestTickReconnectsAfterPartition exercises dialAllKnownMembers' redial
// behavior once a session to a known member is lost (spec §4.4 "fabric
// ready"/"Reconnect": tick redials any member neither Open nor Dialing).
func TestTickReconnectsAfterPartition(t *testing.T) {
	reg := newMemRegistry()

	a := group.New("g1", "peer-aaa", "demo")
	mgrA := New(a, func(ctx context.Context) (fabric.Endpoint, error) {
		return reg.newEndpoint("peer-aaa"), nil
	})

	b := group.New("g1", "peer-bbb", "")
	mgrB := New(b, func(ctx context.Context) (fabric.Endpoint, error) {
		return reg.newEndpoint("peer-bbb"), nil
	})

	ctx := context.Background()
	if err := mgrA.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgrA.Stop()
	if err := mgrB.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgrB.Stop()

	mgrB.maybeDial("peer-aaa")
	waitFor(t, time.Second, func() bool { return b.Len() == 1 })

	// B appends and broadcasts so A learns of peer-bbb as a member it
	// should keep reconnected to.
	e := b.AppendLocal(eventlog.TypeMessageAdded, mustPayload("hi"))
	mgrB.Broadcast(e)
	waitFor(t, time.Second, func() bool {
		for _, id := range a.MemberSet() {
			if id == "peer-bbb" {
				return true
			}
		}
		return false
	})

	mgrA.mu.Lock()
	before, ok := mgrA.sessions["peer-bbb"]
	mgrA.mu.Unlock()
	if !ok {
		t.Fatal("expected A to hold a session to peer-bbb before the partition")
	}

	// Simulate a partition: close A's live session to B from underneath it.
	_ = before.sess.Close()
	waitFor(t, time.Second, func() bool { return before.sess.State() == peersession.Closed })

	// The next tick prunes the closed session and redials peer-bbb.
	mgrA.tick()
	waitFor(t, time.Second, func() bool {
		mgrA.mu.Lock()
		defer mgrA.mu.Unlock()
		after, ok := mgrA.sessions["peer-bbb"]
		return ok && after.sess.State() != peersession.Closed
	})
}
