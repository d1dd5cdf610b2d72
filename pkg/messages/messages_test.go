package messages

import (
	"encoding/json"
	"testing"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

func TestParseEnvelopeJoin(t *testing.T) {
	raw := []byte(`{"kind":"join","room_id":"alpha","user_id":"u1","subscribe":{"data":true}}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}

	if env.Kind != KindJoin || env.RoomID == nil || *env.RoomID != "alpha" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if env.Subscribe == nil || !env.Subscribe.Data {
		t.Fatalf("expected subscribe.data=true, got %+v", env.Subscribe)
	}
}

// TestParseEnvelopeNumericIdentifiers exercises the flexible identifier
// decoding: room/user ids accept either a JSON string or number.
func TestParseEnvelopeNumericIdentifiers(t *testing.T) {
	raw := []byte(`{"kind":"join","room_id":42,"user_id":7}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}

	if env.RoomID == nil || *env.RoomID != "42" {
		t.Fatalf("expected room_id normalized to \"42\", got %v", env.RoomID)
	}

	if env.UserID == nil || *env.UserID != "7" {
		t.Fatalf("expected user_id normalized to \"7\", got %v", env.UserID)
	}
}

func TestParseEnvelopeEmptyIsPresenceOnly(t *testing.T) {
	env, err := ParseEnvelope(nil)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}

	if env.Kind != "" {
		t.Fatalf("expected empty kind, got %q", env.Kind)
	}
}

func TestParseEnvelopeUnknownKind(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"kind":"teleport"}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseJSEP(t *testing.T) {
	j, err := ParseJSEP([]byte(`{"type":"offer","sdp":"v=0..."}`))
	if err != nil {
		t.Fatalf("ParseJSEP: %v", err)
	}

	if j.Type != JSEPOffer || j.SDP != "v=0..." {
		t.Fatalf("unexpected jsep: %+v", j)
	}

	if j, err := ParseJSEP(nil); err != nil || j != nil {
		t.Fatalf("expected nil jsep for empty input, got %+v err=%v", j, err)
	}

	if _, err := ParseJSEP([]byte(`{"type":"bogus","sdp":""}`)); err == nil {
		t.Fatal("expected error for unknown jsep type")
	}
}

func TestSuccessAndFailureResponses(t *testing.T) {
	resp, err := Success(ListUsersResponse{Users: map[identity.RoomID][]identity.UserID{"alpha": {"u1", "u2"}}})
	if err != nil {
		t.Fatalf("Success: %v", err)
	}

	if !resp.Success || resp.Response == nil {
		t.Fatalf("expected populated success response, got %+v", resp)
	}

	var body ListUsersResponse
	if err := json.Unmarshal(resp.Response, &body); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}

	if len(body.Users["alpha"]) != 2 {
		t.Fatalf("expected 2 users in alpha, got %v", body.Users["alpha"])
	}

	fail := Failure("Room is full.")
	if fail.Success || fail.Error == nil || fail.Error.Msg != "Room is full." {
		t.Fatalf("unexpected failure response: %+v", fail)
	}
}
