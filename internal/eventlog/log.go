package eventlog

import "sort"

// Less is the sole total-order comparator for the system (spec §4.1):
// ascending timestamp, ties broken by lexicographically ascending author
// peer id. It must be byte-identical across every node — this is the one
// function convergence (spec §8) depends on, so nothing else in this
// package, or any caller, may re-sort events by any other key.
func Less(a, b Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.AuthorPeerID < b.AuthorPeerID
}

// Log is the append-only, deduplicated, deterministically ordered
// per-group event sequence (spec §3 invariants I1/I2). It is not
// goroutine-safe on its own — the owning Group serializes access to it,
// matching the single-executor concurrency model of spec §5.
type Log struct {
	events []Event
	ids    map[string]struct{}
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{ids: make(map[string]struct{})}
}

// NewLogFrom rebuilds a log from a previously persisted, already-sorted
// event slice (used by the node orchestrator's Initialize, spec §4.6).
// Events are re-inserted one at a time so a blob saved by a differently
// ordered implementation still converges to this node's canonical order.
func NewLogFrom(events []Event) *Log {
	l := NewLog()
	for _, e := range events {
		l.Insert(e)
	}
	return l
}

// Insert adds an event to the log, preserving sort order. It is idempotent:
// if an event with the same id already exists, the log is unchanged and
// Insert reports false (spec §4.1, §7 "Duplicate event"). An event whose
// (timestamp, author) key equals that of events already present is placed
// after them, so equal-key events keep their insertion order.
func (l *Log) Insert(e Event) (inserted bool) {
	if _, ok := l.ids[e.ID]; ok {
		return false
	}
	idx := sort.Search(len(l.events), func(i int) bool { return Less(e, l.events[i]) })
	l.events = append(l.events, Event{})
	copy(l.events[idx+1:], l.events[idx:])
	l.events[idx] = e
	l.ids[e.ID] = struct{}{}
	return true
}

// Contains reports whether an event with the given id is present.
func (l *Log) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of events currently in the log.
func (l *Log) Len() int {
	return len(l.events)
}

// Snapshot returns a copy of the log's events in sorted order. Safe for the
// caller to retain — mutating it does not affect the log.
func (l *Log) Snapshot() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// MissingRelativeTo returns every local event whose id is not in ids,
// preserving sort order (spec §4.1) — the core of the anti-entropy
// SYNC_REQUEST/SYNC_RESPONSE exchange (spec §4.5 rule 2).
func (l *Log) MissingRelativeTo(ids map[string]struct{}) []Event {
	var missing []Event
	for _, e := range l.events {
		if _, ok := ids[e.ID]; !ok {
			missing = append(missing, e)
		}
	}
	return missing
}

// RemoveAuthor deletes every event authored by peerID, preserving the
// relative order of the remainder (spec §4.2 Forget, §8 property: "forget(P)
// removes exactly the events authored by P and leaves the remainder in the
// same relative order"). Returns the ids removed.
func (l *Log) RemoveAuthor(peerID string) []string {
	kept := l.events[:0]
	var removed []string
	for _, e := range l.events {
		if e.AuthorPeerID == peerID {
			removed = append(removed, e.ID)
			delete(l.ids, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	return removed
}

// Authors returns the distinct author peer ids present in the log — the
// raw material for membership derivation (spec §4.2 memberSet, I4).
func (l *Log) Authors() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range l.events {
		if _, ok := seen[e.AuthorPeerID]; !ok {
			seen[e.AuthorPeerID] = struct{}{}
			out = append(out, e.AuthorPeerID)
		}
	}
	return out
}

// IDSet returns the set of ids currently present, for building a
// SYNC_REQUEST payload (spec §4.5 rule 1).
func (l *Log) IDSet() map[string]struct{} {
	out := make(map[string]struct{}, len(l.ids))
	for id := range l.ids {
		out[id] = struct{}{}
	}
	return out
}
