package eventlog

import (
	"reflect"
	"testing"
)

func ev(id string, ts int64, author string) Event {
	return Event{ID: id, Timestamp: ts, AuthorPeerID: author, Type: TypeMessageAdded}
}

func TestInsertIsIdempotent(t *testing.T) {
	l := NewLog()
	e := ev("e1", 100, "a")
	if !l.Insert(e) {
		t.Fatal("first insert should report true")
	}
	if l.Insert(e) {
		t.Fatal("re-insert of same id should report false")
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	if !l.Contains("e1") {
		t.Fatal("contains(e1) should be true")
	}
}

func TestSortOrderByTimestampThenAuthor(t *testing.T) {
	l := NewLog()
	e3 := ev("e3", 102, "a")
	e1 := ev("e1", 100, "a")
	e2b := ev("e2b", 100, "b")
	e2a := ev("e2a", 100, "a")
	for _, e := range []Event{e3, e1, e2b, e2a} {
		l.Insert(e)
	}
	got := l.Snapshot()
	want := []string{"e1", "e2a", "e2b", "e3"}
	var gotIDs []string
	for _, e := range got {
		gotIDs = append(gotIDs, e.ID)
	}
	if !reflect.DeepEqual(gotIDs, want) {
		t.Fatalf("got %v, want %v", gotIDs, want)
	}
}

func TestTieBreakOnAuthorLexicographic(t *testing.T) {
	a := ev("ea", 5000, "a-peer")
	b := ev("eb", 5000, "b-peer")
	if !Less(a, b) {
		t.Fatal("a-peer should sort before b-peer at equal timestamp")
	}
	if Less(b, a) {
		t.Fatal("b-peer should not sort before a-peer")
	}
}

func TestMissingRelativeTo(t *testing.T) {
	l := NewLog()
	l.Insert(ev("e1", 1, "a"))
	l.Insert(ev("e2", 2, "a"))
	l.Insert(ev("e3", 3, "a"))

	have := map[string]struct{}{"e2": {}}
	missing := l.MissingRelativeTo(have)
	if len(missing) != 2 {
		t.Fatalf("missing = %d, want 2", len(missing))
	}
	if missing[0].ID != "e1" || missing[1].ID != "e3" {
		t.Fatalf("missing ids = %v, want [e1 e3] in order", missing)
	}
}

func TestRemoveAuthorPreservesRelativeOrder(t *testing.T) {
	l := NewLog()
	l.Insert(ev("e0", 0, "a"))
	l.Insert(ev("e1", 1, "b"))
	l.Insert(ev("e2", 2, "c"))
	l.Insert(ev("e3", 3, "b"))

	removed := l.RemoveAuthor("b")
	if len(removed) != 2 {
		t.Fatalf("removed = %d, want 2", len(removed))
	}

	remaining := l.Snapshot()
	var ids []string
	for _, e := range remaining {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []string{"e0", "e2"}) {
		t.Fatalf("remaining = %v, want [e0 e2]", ids)
	}
	if l.Contains("e1") || l.Contains("e3") {
		t.Fatal("forgotten author's events should no longer be contained")
	}
}

func TestApplyingSyncResponseTwiceIsIdempotent(t *testing.T) {
	a := NewLog()
	b := NewLog()
	a.Insert(ev("e1", 1, "a"))
	a.Insert(ev("e2", 2, "a"))

	missing := a.MissingRelativeTo(b.IDSet())
	for _, e := range missing {
		b.Insert(e)
	}
	// Apply the same response again.
	for _, e := range missing {
		b.Insert(e)
	}

	if !reflect.DeepEqual(a.Snapshot(), b.Snapshot()) {
		t.Fatalf("logs diverged after repeated apply: %v vs %v", a.Snapshot(), b.Snapshot())
	}
}

func TestConcurrentBroadcastOrderIndependent(t *testing.T) {
	e1 := ev("e1", 10, "a")
	e2 := ev("e2", 20, "b")

	la := NewLog()
	la.Insert(e1)
	la.Insert(e2)

	lb := NewLog()
	lb.Insert(e2)
	lb.Insert(e1)

	if !reflect.DeepEqual(la.Snapshot(), lb.Snapshot()) {
		t.Fatal("insert order should not affect final sorted state")
	}
}
