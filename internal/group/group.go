// Package group implements the per-group replica (spec §3-4.2): the event
// log plus the state derived from it (name, membership), and the purely
// local "forget member" operation. It owns the log the way goop2's
// group.hostedGroup owns its member map — one struct per group, guarded by
// its own lock, with no knowledge of the transport carrying its traffic.
package group

import (
	"encoding/json"
	"sync"

	"github.com/trustcircle/groupcore/internal/clockid"
	"github.com/trustcircle/groupcore/internal/corelog"
	"github.com/trustcircle/groupcore/internal/eventlog"
)

var log = corelog.Logger("group")

// Group is a single replica: its own log, its own peer id within the
// group, and the name derived from its GROUP_CREATED event (spec §3).
// Connection state (peer fabric endpoint, sessions, dial/liveness
// timestamps) is intentionally not stored here — it is runtime-only and
// owned by the connection manager, which the node orchestrator keeps
// alongside this Group per spec I5 (the orchestrator destroys both
// together on LeaveGroup).
type Group struct {
	mu sync.RWMutex

	ID          string
	MyPeerID    string
	eventLog    *eventlog.Log
	placeholder bool // true until the first GROUP_CREATED event lands
}

// PlaceholderName is shown until a JOIN's first sync completes (spec §3,
// §4.2 nameFromLog).
const PlaceholderName = "Joining…"

// New creates a Group replica. If seedName is non-empty, a GROUP_CREATED
// event is appended immediately authored by myPeerID (the CREATE path,
// spec §4.6). If seedName is empty the replica starts with an empty log
// and the placeholder name (the JOIN path).
func New(id, myPeerID, seedName string) *Group {
	g := &Group{
		ID:          id,
		MyPeerID:    myPeerID,
		eventLog:    eventlog.NewLog(),
		placeholder: true,
	}
	if seedName != "" {
		e := eventlog.NewGroupCreated(clockid.NewEventID(), clockid.NowMillis(), myPeerID, seedName)
		g.eventLog.Insert(e)
		g.placeholder = false
	}
	return g
}

// FromEvents rebuilds a Group from a persisted event slice (spec §4.6
// Initialize / §6.3 persistence).
func FromEvents(id, myPeerID string, events []eventlog.Event) *Group {
	g := &Group{
		ID:       id,
		MyPeerID: myPeerID,
		eventLog: eventlog.NewLogFrom(events),
	}
	_, g.placeholder = g.nameFromLogLocked()
	g.placeholder = !g.placeholder
	return g
}

// AppendLocal constructs a new event authored by this node, inserts it, and
// returns it for broadcast (spec §4.2 appendLocal).
func (g *Group) AppendLocal(typ string, payload json.RawMessage) eventlog.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := eventlog.Event{
		ID:           clockid.NewEventID(),
		Timestamp:    clockid.NowMillis(),
		AuthorPeerID: g.MyPeerID,
		Type:         typ,
		Payload:      payload,
	}
	g.eventLog.Insert(e)
	if typ == eventlog.TypeGroupCreated {
		g.placeholder = false
	}
	return e
}

// MergeRemote idempotently inserts each event and returns the subset that
// were new (spec §4.2 mergeRemote). A newly merged GROUP_CREATED event
// clears the placeholder here; the caller (connmgr's sync handler) is
// responsible for triggering dials for newly discovered members once this
// returns.
func (g *Group) MergeRemote(events []eventlog.Event) []eventlog.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	var newOnes []eventlog.Event
	for _, e := range events {
		if g.eventLog.Insert(e) {
			newOnes = append(newOnes, e)
			if e.Type == eventlog.TypeGroupCreated {
				g.placeholder = false
			}
		}
	}
	return newOnes
}

// Forget removes every event authored by peerID (spec §4.2 forget, §9
// design note). This implementation picks option (b) from the open
// question: purely local and naïve — no blacklist, so anti-entropy with a
// peer that still holds the forgotten events will re-deliver them (spec
// scenario 5; decision recorded in DESIGN.md).
func (g *Group) Forget(peerID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eventLog.RemoveAuthor(peerID)
}

// MemberSet returns the distinct author peer ids currently in the log
// (spec I4, §4.2 memberSet).
func (g *Group) MemberSet() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eventLog.Authors()
}

// Contains reports whether the log already has an event with this id. The
// connection manager does not use it: it builds SYNC_REQUEST payloads from
// IDSet and learns novelty from MergeRemote's return value.
func (g *Group) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eventLog.Contains(id)
}

// IDSet returns the current set of local event ids (spec §4.5 rule 1).
func (g *Group) IDSet() map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eventLog.IDSet()
}

// MissingRelativeTo returns local events absent from ids, in sort order
// (spec §4.5 rule 2).
func (g *Group) MissingRelativeTo(ids map[string]struct{}) []eventlog.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eventLog.MissingRelativeTo(ids)
}

// Snapshot returns a copy of the full sorted log, e.g. for persistence.
func (g *Group) Snapshot() []eventlog.Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eventLog.Snapshot()
}

// nameFromLogLocked returns the GROUP_CREATED payload's name, if present.
// Caller must hold g.mu (any mode).
func (g *Group) nameFromLogLocked() (string, bool) {
	for _, e := range g.eventLog.Snapshot() {
		if p, ok := e.DecodeGroupCreated(); ok {
			return p.Name, true
		}
	}
	return "", false
}

// Name returns the group's name: the unique GROUP_CREATED event's
// payload.name once it has arrived, or the placeholder otherwise (spec §3,
// §4.2 nameFromLog).
func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if name, ok := g.nameFromLogLocked(); ok {
		return name
	}
	return PlaceholderName
}

// IsPlaceholder reports whether the group still lacks its GROUP_CREATED
// event (i.e. was joined but has not yet synced).
func (g *Group) IsPlaceholder() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.placeholder
}

// Len returns the number of events currently in the log.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.eventLog.Len()
}

// ChatMessage is the UI-facing derived view of a MESSAGE_ADDED event
// (spec §6.5).
type ChatMessage struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ChatMessages returns the derived chatMessages view: every MESSAGE_ADDED
// event mapped to {id, author (replaced with "You" when it's this node's
// own), text, timestamp} (spec §6.5).
func (g *Group) ChatMessages() []ChatMessage {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []ChatMessage
	for _, e := range g.eventLog.Snapshot() {
		p, ok := e.DecodeMessageAdded()
		if !ok {
			continue
		}
		author := e.AuthorPeerID
		if author == g.MyPeerID {
			author = "You"
		}
		out = append(out, ChatMessage{ID: e.ID, Author: author, Text: p.Text, Timestamp: e.Timestamp})
	}
	return out
}

// MarshalPersisted returns the fields persisted for this group (spec §6.3):
// id, name, myPeerId, events. Connections/peer/isConnecting/lastHeardFrom
// are runtime-only and never serialized (spec §3).
func (g *Group) MarshalPersisted() PersistedGroup {
	g.mu.RLock()
	defer g.mu.RUnlock()
	name, _ := g.nameFromLogLocked()
	if name == "" {
		name = PlaceholderName
	}
	return PersistedGroup{
		ID:       g.ID,
		Name:     name,
		MyPeerID: g.MyPeerID,
		Events:   g.eventLog.Snapshot(),
	}
}

// PersistedGroup is the on-disk shape of a Group (spec §6.3).
type PersistedGroup struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	MyPeerID string           `json:"myPeerId"`
	Events   []eventlog.Event `json:"events"`
}
