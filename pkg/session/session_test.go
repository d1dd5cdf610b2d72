package session

import (
	"testing"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

func TestSessionJoinStateWriteOnce(t *testing.T) {
	s := New(identity.HandleID(1))

	js := JoinState{Kind: Publisher, RoomID: "alpha", UserID: "u1"}
	if err := s.SetJoinState(js); err != nil {
		t.Fatalf("first join failed: %v", err)
	}

	if err := s.SetJoinState(JoinState{Kind: Subscriber, RoomID: "beta", UserID: "u2"}); err == nil {
		t.Fatal("expected second join to fail")
	}

	got, ok := s.JoinState()
	if !ok || got != js {
		t.Fatalf("expected join state to remain %+v, got %+v (ok=%v)", js, got, ok)
	}
}

func TestSessionSubscriberOfferReplacesOnReoffer(t *testing.T) {
	s := New(identity.HandleID(1))

	if _, ok := s.SubscriberOffer(); ok {
		t.Fatal("expected no offer before it's set")
	}

	s.SetSubscriberOffer("offer-1")

	got, ok := s.SubscriberOffer()
	if !ok || got != "offer-1" {
		t.Fatalf("expected offer-1, got %q (ok=%v)", got, ok)
	}

	// Re-offers replace the stored value (open question resolved in DESIGN.md).
	s.SetSubscriberOffer("offer-2")

	got, ok = s.SubscriberOffer()
	if !ok || got != "offer-2" {
		t.Fatalf("expected offer-2, got %q (ok=%v)", got, ok)
	}
}

func TestSessionFIRSequenceIncrements(t *testing.T) {
	s := New(identity.HandleID(1))

	first := s.NextFIRSequence()
	second := s.NextFIRSequence()

	if second != first+1 {
		t.Fatalf("expected sequence to increment by 1, got %d then %d", first, second)
	}
}

func TestSessionDestroyedIsTerminal(t *testing.T) {
	s := New(identity.HandleID(1))

	if s.Destroyed() {
		t.Fatal("expected fresh session to not be destroyed")
	}

	s.MarkDestroyed()

	if !s.Destroyed() {
		t.Fatal("expected session to be destroyed")
	}
}
