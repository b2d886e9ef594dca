package invite

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	code, err := Encode("g1", "peer-a")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(code)
	if err != nil {
		t.Fatal(err)
	}
	if got.GroupID != "g1" || got.PeerID != "peer-a" {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode("not json"); err != ErrInvalid {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	if _, err := Decode(`{"groupId":"g1"}`); err != ErrInvalid {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := Decode(`{"peerId":"p1"}`); err != ErrInvalid {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := Decode(`{}`); err != ErrInvalid {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}
