package node

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/trustcircle/groupcore/internal/persist/memstore"
)

func TestCreateGroupPersistsAndAppendsMessages(t *testing.T) {
	store := memstore.New()
	n := New(store, 0, "groupcore-mdns-test", t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer n.Shutdown()

	grp, err := n.CreateGroup("Book Club")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if grp.Name() != "Book Club" {
		t.Fatalf("expected name %q, got %q", "Book Club", grp.Name())
	}

	if _, err := n.AppendMessage(grp.ID, "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs := grp.ChatMessages()
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("expected one message 'hello', got %+v", msgs)
	}
	if msgs[0].Author != "You" {
		t.Fatalf("expected own message author to be 'You', got %q", msgs[0].Author)
	}

	blob, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("expected persisted state after CreateGroup/AppendMessage")
	}
}

func TestSetActiveGroupAndDiagnostics(t *testing.T) {
	store := memstore.New()
	n := New(store, 0, "groupcore-mdns-test", t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer n.Shutdown()

	grp, err := n.CreateGroup("Runners")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	n.SetActiveGroup(grp.ID)
	if got := n.ActiveGroupID(); got != grp.ID {
		t.Fatalf("expected active group %q, got %q", grp.ID, got)
	}

	diag := n.Diagnostics()
	if diag["activeGroupId"] != grp.ID {
		t.Fatalf("expected diagnostics activeGroupId %q, got %v", grp.ID, diag["activeGroupId"])
	}
	groupsDiag, ok := diag["groups"].(map[string]any)
	if !ok {
		t.Fatalf("expected groups diagnostics map, got %T", diag["groups"])
	}
	if _, ok := groupsDiag[grp.ID]; !ok {
		t.Fatalf("expected diagnostics entry for group %q", grp.ID)
	}
}

func TestRestartReusesSamePeerIdentity(t *testing.T) {
	store := memstore.New()
	identityDir := t.TempDir()

	ctx1, cancel1 := context.WithCancel(context.Background())
	n1 := New(store, 0, "groupcore-mdns-test", identityDir)
	if err := n1.Initialize(ctx1); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	grp, err := n1.CreateGroup("Persisted")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	groupID, wantPeerID := grp.ID, grp.MyPeerID
	if got := n1.EndpointID(groupID); got != wantPeerID {
		t.Fatalf("fresh endpoint id = %q, want %q", got, wantPeerID)
	}

	n1.Shutdown()
	cancel1()

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	n2 := New(store, 0, "groupcore-mdns-test", identityDir)
	if err := n2.Initialize(ctx2); err != nil {
		t.Fatalf("Initialize (restart): %v", err)
	}
	defer n2.Shutdown()

	reloaded, ok := n2.Group(groupID)
	if !ok {
		t.Fatalf("expected group %q to be reloaded after restart", groupID)
	}
	if reloaded.MyPeerID != wantPeerID {
		t.Fatalf("persisted myPeerId changed across restart: got %q, want %q", reloaded.MyPeerID, wantPeerID)
	}
	if got := n2.EndpointID(groupID); got != wantPeerID {
		t.Fatalf("restarted endpoint id = %q, want %q (identity must survive restart)", got, wantPeerID)
	}
}

func TestLeaveGroupRemovesReplicaAndPersists(t *testing.T) {
	store := memstore.New()
	n := New(store, 0, "groupcore-mdns-test", t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer n.Shutdown()

	grp, err := n.CreateGroup("Temp")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	done := make(chan struct{})
	go func() {
		n.LeaveGroup(grp.ID)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("LeaveGroup did not return in time")
	}

	if _, ok := n.Group(grp.ID); ok {
		t.Fatal("expected group to be removed after LeaveGroup")
	}

	blob, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var state appState
	if err := json.Unmarshal(blob, &state); err != nil {
		t.Fatalf("decode persisted state: %v", err)
	}
	if _, ok := state.Groups[grp.ID]; ok {
		t.Fatalf("expected group %q to be purged from persisted state after LeaveGroup", grp.ID)
	}
}
