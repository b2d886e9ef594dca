package wire

import (
	"testing"

	"github.com/trustcircle/groupcore/internal/eventlog"
)

func TestEncodeDecodeSyncRequest(t *testing.T) {
	raw, err := EncodeSyncRequest([]string{"e1", "e2"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeSyncRequest {
		t.Fatalf("type = %q, want %q", env.Type, TypeSyncRequest)
	}
	req, err := env.DecodeSyncRequest()
	if err != nil {
		t.Fatal(err)
	}
	if len(req.EventIDs) != 2 || req.EventIDs[0] != "e1" {
		t.Fatalf("eventIds = %v", req.EventIDs)
	}
}

func TestEncodeDecodeSyncResponse(t *testing.T) {
	e := eventlog.NewMessageAdded("e1", 10, "peer-a", "hello")
	raw, err := EncodeSyncResponse([]eventlog.Event{e})
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeSyncResponse {
		t.Fatalf("type = %q, want %q", env.Type, TypeSyncResponse)
	}
	resp, err := env.DecodeSyncResponse()
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.MissingEvents) != 1 || resp.MissingEvents[0].ID != "e1" {
		t.Fatalf("events = %v", resp.MissingEvents)
	}
}

func TestEncodeDecodeEventBroadcast(t *testing.T) {
	e := eventlog.NewMessageAdded("e2", 20, "peer-b", "hi")
	raw, err := EncodeEventBroadcast(e)
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeEventBroadcast {
		t.Fatalf("type = %q, want %q", env.Type, TypeEventBroadcast)
	}
	b, err := env.DecodeEventBroadcast()
	if err != nil {
		t.Fatal(err)
	}
	if b.Event.ID != "e2" {
		t.Fatalf("event id = %q, want e2", b.Event.ID)
	}
}

func TestEncodePingPong(t *testing.T) {
	raw, err := EncodePing()
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypePing {
		t.Fatalf("type = %q, want %q", env.Type, TypePing)
	}

	raw, err = EncodePong()
	if err != nil {
		t.Fatal(err)
	}
	env, err = Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypePong {
		t.Fatalf("type = %q, want %q", env.Type, TypePong)
	}
}
