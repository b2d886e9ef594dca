// Package connmgr implements the per-group connection manager and the
// sync protocol state machine that rides on top of it (spec §4.4, §4.5):
// full-mesh dial policy, heartbeat/failure detection on a single 5s tick,
// and the SYNC_REQUEST/SYNC_RESPONSE/EVENT_BROADCAST/PING/PONG handshake.
// Grounded on goop2's group.Manager pingLoop/drainLoop heartbeat shape and
// its single ticker-driven liveness sweep, generalized from goop2's
// host-relayed star topology to the spec's full mesh of direct sessions.
package connmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trustcircle/groupcore/internal/clockid"
	"github.com/trustcircle/groupcore/internal/corelog"
	"github.com/trustcircle/groupcore/internal/eventlog"
	"github.com/trustcircle/groupcore/internal/fabric"
	"github.com/trustcircle/groupcore/internal/group"
	"github.com/trustcircle/groupcore/internal/peersession"
	"github.com/trustcircle/groupcore/internal/wire"
)

var log = corelog.Logger("connmgr")

// Timing constants (spec §4.4, §4.5).
const (
	TickInterval    = 5 * time.Second
	PingAfter       = 15 * time.Second
	LivenessTimeout = 30 * time.Second
	DialTimeout     = 15 * time.Second
)

// direction records which side originated a session, for the simultaneous
// dial tie-break (spec §4.4): the node keeps the lexicographically larger
// (local, remote) pair's session — equivalently, whichever side has the
// larger peer id keeps its own outbound dial, and the smaller side keeps
// the inbound one it accepted.
type direction int

const (
	outbound direction = iota
	inbound
)

type entry struct {
	sess      *peersession.PeerSession
	dir       direction
	dialStart int64 // millis at adopt time; only consulted while sess.State() == Dialing
}

// EndpointFactory creates a fresh fabric.Endpoint for a group — used both
// at Start and for fabric-recovery re-creation on the supervisor tick
// (spec §4.4 "Fabric recovery").
type EndpointFactory func(ctx context.Context) (fabric.Endpoint, error)

// Manager is the full-mesh connection manager for a single group.
type Manager struct {
	grp         *group.Group
	newEndpoint EndpointFactory

	mu       sync.Mutex
	endpoint fabric.Endpoint
	sessions map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker
	wg     sync.WaitGroup

	onBroadcastOut func(eventlog.Event) // test hook / diagnostics
	onEvent        func(eventlog.Event) // fired for every event newly merged from a peer, for the node orchestrator's SSE hub
}

// SetOnEvent registers a callback fired once for every event newly merged
// in from a peer (sync response or broadcast), so the node orchestrator can
// fan it out over its event hub without polling. Locally appended events
// do not pass through the manager's merge path and do not fire it.
func (m *Manager) SetOnEvent(cb func(eventlog.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = cb
}

func (m *Manager) fireOnEvent(e eventlog.Event) {
	m.mu.Lock()
	cb := m.onEvent
	m.mu.Unlock()
	if cb != nil {
		cb(e)
	}
}

// New constructs a Manager bound to grp; it does not start dialing until
// Start is called.
func New(grp *group.Group, newEndpoint EndpointFactory) *Manager {
	return &Manager{
		grp:         grp,
		newEndpoint: newEndpoint,
		sessions:    make(map[string]*entry),
	}
}

// Start creates the fabric endpoint, wires its callbacks, and launches the
// supervisor tick (spec §4.6 initialize/createGroup/joinGroup).
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.recreateEndpoint(); err != nil {
		return err
	}

	m.ticker = time.NewTicker(TickInterval)
	m.wg.Add(1)
	go m.tickLoop()
	return nil
}

// Stop tears down the endpoint and every session (spec I5: destroying the
// group destroys its connections and endpoint together).
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.wg.Wait()

	m.mu.Lock()
	for _, e := range m.sessions {
		_ = e.sess.Close()
	}
	m.sessions = make(map[string]*entry)
	ep := m.endpoint
	m.mu.Unlock()

	if ep != nil {
		_ = ep.Destroy()
	}
}

func (m *Manager) recreateEndpoint() error {
	ep, err := m.newEndpoint(m.ctx)
	if err != nil {
		return err
	}
	ep.OnSession(m.handleInboundSession)
	ep.OnReady(func() {
		m.dialAllKnownMembers()
	})
	ep.OnError(func(err error) {
		log.Warnw("endpoint error", "group", m.grp.ID, "err", err)
	})

	m.mu.Lock()
	m.endpoint = ep
	m.mu.Unlock()
	return nil
}

// dialAllKnownMembers dials every member ≠ self (spec §4.4 "fabric ready").
func (m *Manager) dialAllKnownMembers() {
	for _, peerID := range m.grp.MemberSet() {
		if peerID == m.grp.MyPeerID {
			continue
		}
		m.maybeDial(peerID)
	}
}

// Dial requests a connection to peerID, e.g. the bootstrap peer carried by
// an invite (spec §4.6 joinGroup) or the "dial that peer" path when
// joinGroup targets an already-known group. It goes through the same
// maybeDial check as the automatic dial policy.
func (m *Manager) Dial(peerID string) {
	m.maybeDial(peerID)
}

// maybeDial skips peerID if an Open or Dialing session already exists for
// it. A dial whose Connect call is still in progress has no session entry
// yet, so a second request made during that window starts another dial.
func (m *Manager) maybeDial(peerID string) {
	m.mu.Lock()
	if e, ok := m.sessions[peerID]; ok {
		st := e.sess.State()
		if st == peersession.Open || st == peersession.Dialing {
			m.mu.Unlock()
			return
		}
	}
	ep := m.endpoint
	m.mu.Unlock()

	if ep == nil || ep.Destroyed() {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, DialTimeout)
		defer cancel()

		sess, err := ep.Connect(ctx, peerID)
		if err != nil {
			log.Debugw("dial failed", "group", m.grp.ID, "peer", peerID, "err", err)
			return
		}
		m.adopt(sess, outbound)
	}()
}

func (m *Manager) handleInboundSession(sess fabric.Session) {
	m.adopt(sess, inbound)
}

// adopt wraps a raw fabric.Session, applies the simultaneous-dial
// tie-break if a session to the same peer already exists, and wires the
// sync protocol handlers onto it (spec §4.4 tie-break, §4.5 rules).
func (m *Manager) adopt(sess fabric.Session, dir direction) {
	peerID := sess.Peer()

	m.mu.Lock()
	if existing, ok := m.sessions[peerID]; ok && existing.sess.State() != peersession.Closed {
		if !m.shouldReplace(peerID, dir) {
			m.mu.Unlock()
			_ = sess.Close()
			return
		}
		_ = existing.sess.Close()
	}
	m.mu.Unlock()

	ps := peersession.New(m.grp.ID, sess, peersession.Handlers{
		OnOpen:    m.onSessionOpen,
		OnMessage: m.onSessionMessage,
		OnClose:   m.onSessionClose,
		OnError:   m.onSessionError,
	})

	m.mu.Lock()
	m.sessions[peerID] = &entry{sess: ps, dir: dir, dialStart: clockid.NowMillis()}
	m.mu.Unlock()
}

// shouldReplace decides, per the tie-break rule (spec §4.4), whether a
// newly arriving session of direction dir should replace an existing one
// to peerID: the side with the lexicographically larger own-id keeps its
// outbound dial; the smaller side keeps the inbound session it accepts.
// Both nodes apply this independently and converge on the same single
// surviving session without exchanging any extra state.
func (m *Manager) shouldReplace(peerID string, dir direction) bool {
	if m.grp.MyPeerID > peerID {
		return dir == outbound
	}
	return dir == inbound
}

func (m *Manager) onSessionOpen(ps *peersession.PeerSession) {
	ids := m.grp.IDSet()
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	raw, err := wire.EncodeSyncRequest(idList)
	if err != nil {
		log.Warnw("encode sync request", "err", err)
		return
	}
	if err := ps.Send(raw); err != nil {
		log.Debugw("send sync request failed", "peer", ps.PeerID, "err", err)
	}
}

func (m *Manager) onSessionMessage(ps *peersession.PeerSession, data []byte) {
	ps.MarkHeard(clockid.NowMillis())

	env, err := wire.Decode(data)
	if err != nil {
		log.Warnw("malformed frame", "group", m.grp.ID, "peer", ps.PeerID, "err", err)
		return
	}

	switch env.Type {
	case wire.TypeSyncRequest:
		m.handleSyncRequest(ps, env)
	case wire.TypeSyncResponse:
		m.handleSyncResponse(ps, env)
	case wire.TypeEventBroadcast:
		m.handleEventBroadcast(ps, env)
	case wire.TypePing:
		m.handlePing(ps)
	case wire.TypePong:
		// no-op beyond the MarkHeard stamp above (spec §4.5 rule 6).
	default:
		log.Debugw("unknown frame type", "type", env.Type)
	}
}

// handleSyncRequest implements spec §4.5 rule 2.
func (m *Manager) handleSyncRequest(ps *peersession.PeerSession, env wire.Envelope) {
	req, err := env.DecodeSyncRequest()
	if err != nil {
		log.Warnw("malformed sync request", "err", err)
		return
	}
	have := make(map[string]struct{}, len(req.EventIDs))
	for _, id := range req.EventIDs {
		have[id] = struct{}{}
	}
	missing := m.grp.MissingRelativeTo(have)
	if len(missing) == 0 {
		return
	}
	raw, err := wire.EncodeSyncResponse(missing)
	if err != nil {
		log.Warnw("encode sync response", "err", err)
		return
	}
	if err := ps.Send(raw); err != nil {
		log.Debugw("send sync response failed", "peer", ps.PeerID, "err", err)
	}
}

// handleSyncResponse implements spec §4.5 rule 3.
func (m *Manager) handleSyncResponse(ps *peersession.PeerSession, env wire.Envelope) {
	resp, err := env.DecodeSyncResponse()
	if err != nil {
		log.Warnw("malformed sync response", "err", err)
		return
	}
	newOnes := m.grp.MergeRemote(resp.MissingEvents)
	if len(newOnes) == 0 {
		return
	}
	for _, e := range newOnes {
		m.fireOnEvent(e)
	}
	m.dialNewMembers(newOnes)
}

// handleEventBroadcast implements spec §4.5 rules 4/5: merge, never
// re-forward.
func (m *Manager) handleEventBroadcast(ps *peersession.PeerSession, env wire.Envelope) {
	b, err := env.DecodeEventBroadcast()
	if err != nil {
		log.Warnw("malformed event broadcast", "err", err)
		return
	}
	newOnes := m.grp.MergeRemote([]eventlog.Event{b.Event})
	if len(newOnes) > 0 {
		for _, e := range newOnes {
			m.fireOnEvent(e)
		}
		m.dialNewMembers(newOnes)
	}
}

// handlePing answers PING with PONG (spec §4.5 rule 6).
func (m *Manager) handlePing(ps *peersession.PeerSession) {
	raw, err := wire.EncodePong()
	if err != nil {
		return
	}
	_ = ps.Send(raw)
}

// dialNewMembers dials any author introduced by newOnes that isn't self
// and isn't already connected/connecting (spec §4.5 rule 3, §4.4 "On sync
// completion that enlarges membership").
func (m *Manager) dialNewMembers(newOnes []eventlog.Event) {
	seen := make(map[string]struct{})
	for _, e := range newOnes {
		if e.AuthorPeerID == m.grp.MyPeerID {
			continue
		}
		if _, ok := seen[e.AuthorPeerID]; ok {
			continue
		}
		seen[e.AuthorPeerID] = struct{}{}
		m.maybeDial(e.AuthorPeerID)
	}
}

func (m *Manager) onSessionClose(ps *peersession.PeerSession) {
	log.Debugw("session closed", "group", m.grp.ID, "peer", ps.PeerID)
}

func (m *Manager) onSessionError(ps *peersession.PeerSession, err error) {
	log.Debugw("session error", "group", m.grp.ID, "peer", ps.PeerID, "err", err)
}

// Broadcast sends an EVENT_BROADCAST to every Open session (spec §4.5
// rule 4), called by the node orchestrator after appendLocal.
func (m *Manager) Broadcast(e eventlog.Event) {
	raw, err := wire.EncodeEventBroadcast(e)
	if err != nil {
		log.Warnw("encode event broadcast", "err", err)
		return
	}

	m.mu.Lock()
	targets := make([]*peersession.PeerSession, 0, len(m.sessions))
	for _, ent := range m.sessions {
		if ent.sess.State() == peersession.Open {
			targets = append(targets, ent.sess)
		}
	}
	m.mu.Unlock()

	for _, ps := range targets {
		if err := ps.Send(raw); err != nil {
			log.Debugw("broadcast send failed", "peer", ps.PeerID, "err", err)
		}
	}
	if m.onBroadcastOut != nil {
		m.onBroadcastOut(e)
	}
}

// CloseSessionTo closes any live session to peerID, used by forgetMember
// (spec §4.6).
func (m *Manager) CloseSessionTo(peerID string) {
	m.mu.Lock()
	e, ok := m.sessions[peerID]
	if ok {
		delete(m.sessions, peerID)
	}
	m.mu.Unlock()
	if ok {
		_ = e.sess.Close()
	}
}

// EndpointID returns the fabric id of the currently live endpoint, or ""
// if none is up yet (spec §4.6 "same myPeerId across restarts" — used by
// tests/diagnostics to confirm the live identity matches the replica's
// persisted myPeerId).
func (m *Manager) EndpointID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoint == nil {
		return ""
	}
	return m.endpoint.ID()
}

// OpenPeers returns the peer ids currently in an Open session, sorted, for
// diagnostics.
func (m *Manager) OpenPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, e := range m.sessions {
		if e.sess.State() == peersession.Open {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) tickLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.ticker.C:
			m.tick()
		}
	}
}

// tick runs the 5s supervisor sweep (spec §4.4 "Heartbeat & failure
// detection", §4.6 "start the 5s supervisor tick").
func (m *Manager) tick() {
	m.mu.Lock()
	ep := m.endpoint
	m.mu.Unlock()

	if ep == nil || ep.Destroyed() {
		log.Warnw("fabric endpoint gone, recreating", "group", m.grp.ID)
		if err := m.recreateEndpoint(); err != nil {
			log.Warnw("recreate endpoint failed", "group", m.grp.ID, "err", err)
		}
		return
	}

	now := clockid.NowMillis()
	m.mu.Lock()
	var toPing, toClose []*peersession.PeerSession
	for peerID, e := range m.sessions {
		switch e.sess.State() {
		case peersession.Open:
			last := e.sess.LastHeardFrom()
			age := now - last
			if age > LivenessTimeout.Milliseconds() {
				toClose = append(toClose, e.sess)
				delete(m.sessions, peerID)
			} else if age > PingAfter.Milliseconds() {
				toPing = append(toPing, e.sess)
			}
		case peersession.Dialing:
			if now-e.dialStart > DialTimeout.Milliseconds() {
				delete(m.sessions, peerID)
			}
		case peersession.Closed:
			delete(m.sessions, peerID)
		}
	}
	m.mu.Unlock()

	for _, ps := range toClose {
		_ = ps.Close()
	}
	for _, ps := range toPing {
		raw, err := wire.EncodePing()
		if err != nil {
			continue
		}
		_ = ps.Send(raw)
	}

	// Reconnect: dial any member neither Open nor Dialing.
	m.dialAllKnownMembers()
}
