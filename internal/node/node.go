// Package node implements the top-level orchestrator (spec §4.6): the
// lifecycle of the node's group set, backed by a persist.Store for the
// APP_STATE blob and a fabric.Endpoint per group. Grounded on goop2's
// internal/p2p.Node as the "one struct wiring everything together" shape,
// generalized from a single shared host to one endpoint per group.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/trustcircle/groupcore/internal/clockid"
	"github.com/trustcircle/groupcore/internal/connmgr"
	"github.com/trustcircle/groupcore/internal/corelog"
	"github.com/trustcircle/groupcore/internal/eventlog"
	"github.com/trustcircle/groupcore/internal/fabric"
	"github.com/trustcircle/groupcore/internal/fabric/libp2pfabric"
	"github.com/trustcircle/groupcore/internal/group"
	"github.com/trustcircle/groupcore/internal/invite"
	"github.com/trustcircle/groupcore/internal/persist"
	"github.com/trustcircle/groupcore/internal/util"
)

// eventHistoryCap bounds how many past GroupEvents a newly-connecting
// operator client can replay via RecentEvents, so a long-lived node
// doesn't grow this buffer without limit.
const eventHistoryCap = 200

var log = corelog.Logger("node")

// LeaveGrace is the pause between best-effort MEMBER_LEFT broadcast and
// endpoint teardown on LeaveGroup (spec §4.6, §5 "Cancellation and timeouts").
const LeaveGrace = 500 * time.Millisecond

// appState is the persisted shape of the whole node (spec §6.3).
type appState struct {
	Groups        map[string]group.PersistedGroup `json:"groups"`
	ActiveGroupID string                           `json:"activeGroupId"`
}

type managedGroup struct {
	grp *group.Group
	mgr *connmgr.Manager
}

// GroupEvent is fanned out to hub subscribers whenever an event joins a
// group's log, locally or via sync (spec §6.5 supplement: a live feed for
// the operator surface). Grounded on goop2's group.Event SSE shape.
type GroupEvent struct {
	GroupID string         `json:"groupId"`
	Event   eventlog.Event `json:"event"`
}

// ListenPort configures the fabric listen port shared by every group's
// endpoint; 0 lets the OS assign a free port per host, which is what every
// group needs since each gets its own libp2p host.
type Node struct {
	store       persist.Store
	listenPort  int
	mdnsTag     string
	identityDir string

	mu            sync.Mutex
	groups        map[string]*managedGroup
	activeGroupID string

	hubMu     sync.Mutex
	listeners []chan GroupEvent
	history   *util.RingBuffer[GroupEvent]

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Node. identityDir is where each group's persisted
// Ed25519 identity is cached (spec §4.6 "same myPeerId across restarts");
// it does not touch persistence or the fabric until Initialize is called.
func New(store persist.Store, listenPort int, mdnsTag, identityDir string) *Node {
	return &Node{
		store:       store,
		listenPort:  listenPort,
		mdnsTag:     mdnsTag,
		identityDir: identityDir,
		groups:      make(map[string]*managedGroup),
		history:     util.NewRingBuffer[GroupEvent](eventHistoryCap),
	}
}

// identityFor loads or creates the persisted libp2p identity for groupID.
func (n *Node) identityFor(groupID string) (crypto.PrivKey, error) {
	return libp2pfabric.LoadOrCreateIdentity(n.identityDir, groupID)
}

// Initialize loads persisted state, instantiates each group with its
// stored log, starts each group's fabric endpoint, and readies the
// per-group supervisor ticks (spec §4.6 initialize). A missing or
// malformed blob is treated as empty state (spec §7).
func (n *Node) Initialize(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	blob, err := n.store.Load(n.ctx)
	if err != nil {
		return fmt.Errorf("node: load persisted state: %w", err)
	}

	state := appState{Groups: make(map[string]group.PersistedGroup)}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &state); err != nil {
			log.Warnw("malformed persisted blob, starting empty", "err", err)
			state = appState{Groups: make(map[string]group.PersistedGroup)}
		}
	}

	n.mu.Lock()
	n.activeGroupID = state.ActiveGroupID
	n.mu.Unlock()

	for id, pg := range state.Groups {
		grp := group.FromEvents(id, pg.MyPeerID, pg.Events)
		if err := n.startGroup(grp, nil); err != nil {
			log.Warnw("failed to start persisted group", "group", id, "err", err)
			continue
		}
	}

	return nil
}

// startGroup registers grp, builds its connection manager, and starts it.
// bootstrapPeerID, if non-empty, is dialed once the manager is running
// (spec §4.6 joinGroup).
func (n *Node) startGroup(grp *group.Group, bootstrapPeerID *string) error {
	mgr := connmgr.New(grp, n.endpointFactory(grp.ID))
	mgr.SetOnEvent(func(e eventlog.Event) { n.notify(GroupEvent{GroupID: grp.ID, Event: e}) })
	if err := mgr.Start(n.ctx); err != nil {
		return err
	}

	n.mu.Lock()
	n.groups[grp.ID] = &managedGroup{grp: grp, mgr: mgr}
	n.mu.Unlock()

	if bootstrapPeerID != nil {
		mgr.Dial(*bootstrapPeerID)
	}
	return nil
}

// endpointFactory returns a connmgr.EndpointFactory that (re)builds a
// libp2p-backed endpoint for groupID, always loading the same persisted
// identity from disk (spec §4.4 "fabric recovery", spec §4.6 "creates a
// new endpoint with the same myPeerId"): every recreation, whether from
// a fresh process restart or an in-process fabric-recovery tick, reuses
// groupID's cached Ed25519 key rather than minting a new one, so peers
// who already know this node by its peer id can keep dialing it.
func (n *Node) endpointFactory(groupID string) connmgr.EndpointFactory {
	return func(ctx context.Context) (fabric.Endpoint, error) {
		priv, err := n.identityFor(groupID)
		if err != nil {
			return nil, fmt.Errorf("node: load identity for %s: %w", groupID, err)
		}
		return libp2pfabric.New(ctx, groupID, n.listenPort, priv)
	}
}

// CreateGroup creates a fresh group with a fresh myPeerId and a
// GROUP_CREATED event (spec §4.6 createGroup).
func (n *Node) CreateGroup(name string) (*group.Group, error) {
	groupID := uuid.NewString()

	priv, err := n.identityFor(groupID)
	if err != nil {
		return nil, fmt.Errorf("node: create identity: %w", err)
	}
	ep, err := libp2pfabric.New(n.ctx, groupID, n.listenPort, priv)
	if err != nil {
		return nil, fmt.Errorf("node: create endpoint: %w", err)
	}
	myPeerID := ep.ID()

	grp := group.New(groupID, myPeerID, name)

	mgr := connmgr.New(grp, n.firstThenFresh(ep, groupID))
	mgr.SetOnEvent(func(e eventlog.Event) { n.notify(GroupEvent{GroupID: groupID, Event: e}) })
	if err := mgr.Start(n.ctx); err != nil {
		_ = ep.Destroy()
		return nil, err
	}

	n.mu.Lock()
	n.groups[groupID] = &managedGroup{grp: grp, mgr: mgr}
	n.mu.Unlock()

	n.persistLocked()
	return grp, nil
}

// JoinGroup parses an invite code and either dials the bootstrap peer of
// an already-known group, or creates a new empty replica and dials it
// (spec §4.6 joinGroup).
func (n *Node) JoinGroup(code string) (*group.Group, error) {
	parsed, err := invite.Decode(code)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	existing, ok := n.groups[parsed.GroupID]
	n.mu.Unlock()
	if ok {
		existing.mgr.Dial(parsed.PeerID)
		return existing.grp, nil
	}

	priv, err := n.identityFor(parsed.GroupID)
	if err != nil {
		return nil, fmt.Errorf("node: create identity: %w", err)
	}
	ep, err := libp2pfabric.New(n.ctx, parsed.GroupID, n.listenPort, priv)
	if err != nil {
		return nil, fmt.Errorf("node: create endpoint: %w", err)
	}
	myPeerID := ep.ID()

	grp := group.New(parsed.GroupID, myPeerID, "")

	mgr := connmgr.New(grp, n.firstThenFresh(ep, parsed.GroupID))
	mgr.SetOnEvent(func(e eventlog.Event) { n.notify(GroupEvent{GroupID: parsed.GroupID, Event: e}) })
	if err := mgr.Start(n.ctx); err != nil {
		_ = ep.Destroy()
		return nil, err
	}

	n.mu.Lock()
	n.groups[parsed.GroupID] = &managedGroup{grp: grp, mgr: mgr}
	n.mu.Unlock()

	mgr.Dial(parsed.PeerID)
	n.persistLocked()
	return grp, nil
}

// firstThenFresh returns an EndpointFactory that hands back the
// already-created endpoint `first` on its initial call (so CreateGroup and
// JoinGroup don't create a host twice just to learn its peer id) and, on
// every subsequent call (fabric recovery), rebuilds the endpoint from the
// same persisted identity `first` was created with, so myPeerId survives
// the recreation.
func (n *Node) firstThenFresh(first fabric.Endpoint, groupID string) connmgr.EndpointFactory {
	var mu sync.Mutex
	used := false
	return func(ctx context.Context) (fabric.Endpoint, error) {
		mu.Lock()
		defer mu.Unlock()
		if !used {
			used = true
			return first, nil
		}
		priv, err := n.identityFor(groupID)
		if err != nil {
			return nil, fmt.Errorf("node: load identity for %s: %w", groupID, err)
		}
		return libp2pfabric.New(ctx, groupID, n.listenPort, priv)
	}
}

// LeaveGroup emits MEMBER_LEFT best-effort to currently-open sessions,
// waits LeaveGrace, then destroys the endpoint and purges the replica
// (spec §4.6 leaveGroup, I5).
func (n *Node) LeaveGroup(groupID string) {
	n.mu.Lock()
	mg, ok := n.groups[groupID]
	if ok {
		delete(n.groups, groupID)
		if n.activeGroupID == groupID {
			n.activeGroupID = ""
		}
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	leftEvent := eventlog.NewMemberLeft(clockid.NewEventID(), clockid.NowMillis(), mg.grp.MyPeerID)
	mg.mgr.Broadcast(leftEvent)

	time.Sleep(LeaveGrace)
	mg.mgr.Stop()

	n.persistLocked()
}

// SetActiveGroup records the UI's active-group hint (spec §4.6).
func (n *Node) SetActiveGroup(groupID string) {
	n.mu.Lock()
	n.activeGroupID = groupID
	n.mu.Unlock()
	n.persistLocked()
}

// ActiveGroupID returns the currently active group id, if any.
func (n *Node) ActiveGroupID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeGroupID
}

// ForgetMember delegates to the group replica and closes any live session
// to peerID (spec §4.6 forgetMember).
func (n *Node) ForgetMember(groupID, peerID string) {
	n.mu.Lock()
	mg, ok := n.groups[groupID]
	n.mu.Unlock()
	if !ok {
		return
	}
	mg.grp.Forget(peerID)
	mg.mgr.CloseSessionTo(peerID)
	n.persistLocked()
}

// AppendMessage appends a MESSAGE_ADDED event to groupID and broadcasts it
// (spec §4.5 rule 4, via the UI-facing "send message" operation §6.5).
func (n *Node) AppendMessage(groupID, text string) (eventlog.Event, error) {
	n.mu.Lock()
	mg, ok := n.groups[groupID]
	n.mu.Unlock()
	if !ok {
		return eventlog.Event{}, fmt.Errorf("node: unknown group %q", groupID)
	}

	payload, err := json.Marshal(eventlog.MessageAddedPayload{Text: text})
	if err != nil {
		return eventlog.Event{}, err
	}
	e := mg.grp.AppendLocal(eventlog.TypeMessageAdded, payload)
	mg.mgr.Broadcast(e)
	n.notify(GroupEvent{GroupID: groupID, Event: e})
	n.persistLocked()
	return e, nil
}

// Group returns a group by id, if known.
func (n *Node) Group(groupID string) (*group.Group, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mg, ok := n.groups[groupID]
	if !ok {
		return nil, false
	}
	return mg.grp, true
}

// EndpointID returns the live fabric identity backing groupID, or "" if
// the group isn't hosted. Used to confirm a restarted group's real
// libp2p peer id still matches its persisted myPeerId.
func (n *Node) EndpointID(groupID string) string {
	n.mu.Lock()
	mg, ok := n.groups[groupID]
	n.mu.Unlock()
	if !ok {
		return ""
	}
	return mg.mgr.EndpointID()
}

// Groups returns every group currently hosted, in no particular order.
func (n *Node) Groups() []*group.Group {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*group.Group, 0, len(n.groups))
	for _, mg := range n.groups {
		out = append(out, mg.grp)
	}
	return out
}

// Diagnostics returns a snapshot of node and per-group health, modeled on
// goop2's Node.DiagSnapshot (spec "Supplemented features").
func (n *Node) Diagnostics() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()

	groupsDiag := make(map[string]any, len(n.groups))
	for id, mg := range n.groups {
		groupsDiag[id] = map[string]any{
			"name":       mg.grp.Name(),
			"myPeerId":   mg.grp.MyPeerID,
			"eventCount": mg.grp.Len(),
			"members":    mg.grp.MemberSet(),
			"openPeers":  mg.mgr.OpenPeers(),
		}
	}

	return map[string]any{
		"activeGroupId": n.activeGroupID,
		"groupCount":    len(n.groups),
		"groups":        groupsDiag,
	}
}

// Subscribe returns a channel that receives every GroupEvent fanned out
// across all of this node's groups, for the operator HTTP surface's live
// feed (spec §6.5 supplement). Grounded on goop2's group.Manager.Subscribe.
func (n *Node) Subscribe() <-chan GroupEvent {
	n.hubMu.Lock()
	defer n.hubMu.Unlock()
	ch := make(chan GroupEvent, 16)
	n.listeners = append(n.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (n *Node) Unsubscribe(ch <-chan GroupEvent) {
	n.hubMu.Lock()
	defer n.hubMu.Unlock()
	for i, l := range n.listeners {
		if l == ch {
			close(l)
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

// RecentEvents returns up to eventHistoryCap of the most recently notified
// GroupEvents, oldest first, so a client that connects to /api/events after
// missing some history can catch up without replaying the full log.
func (n *Node) RecentEvents() []GroupEvent {
	return n.history.Snapshot()
}

func (n *Node) notify(evt GroupEvent) {
	n.history.Push(evt)
	// Events merged from peers reach the node only through here, so this is
	// where they get persisted.
	n.persistLocked()

	n.hubMu.Lock()
	defer n.hubMu.Unlock()
	for _, l := range n.listeners {
		select {
		case l <- evt:
		default:
		}
	}
}

// Shutdown stops every group's connection manager and endpoint.
func (n *Node) Shutdown() {
	n.mu.Lock()
	groups := make([]*managedGroup, 0, len(n.groups))
	for _, mg := range n.groups {
		groups = append(groups, mg)
	}
	n.mu.Unlock()

	for _, mg := range groups {
		mg.mgr.Stop()
	}
	if n.cancel != nil {
		n.cancel()
	}
}

// persistLocked serializes the full node state and writes it to the
// store (spec §6.3 "writes are full-blob replacements"); called after
// every mutation, matching §5's "persistence is written on every log
// mutation and every active-group change".
func (n *Node) persistLocked() {
	n.mu.Lock()
	state := appState{
		Groups:        make(map[string]group.PersistedGroup, len(n.groups)),
		ActiveGroupID: n.activeGroupID,
	}
	for id, mg := range n.groups {
		state.Groups[id] = mg.grp.MarshalPersisted()
	}
	n.mu.Unlock()

	blob, err := json.Marshal(state)
	if err != nil {
		log.Warnw("marshal app state failed", "err", err)
		return
	}
	if err := n.store.Save(n.ctx, blob); err != nil {
		log.Warnw("save app state failed", "err", err)
	}
}
