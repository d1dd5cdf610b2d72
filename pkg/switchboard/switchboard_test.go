package switchboard

import (
	"testing"

	"github.com/meshboard/sfu-plugin/pkg/identity"
	"github.com/meshboard/sfu-plugin/pkg/session"
)

func newJoined(t *testing.T, handle identity.HandleID, kind session.Kind, room identity.RoomID, user identity.UserID) *session.Session {
	t.Helper()

	s := session.New(handle)
	if err := s.SetJoinState(session.JoinState{Kind: kind, RoomID: room, UserID: user}); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	return s
}

func TestJoinPublisherAndSubscribe(t *testing.T) {
	sb := New()

	pub := newJoined(t, 1, session.Publisher, "room1", "alice")
	sub := newJoined(t, 2, session.Subscriber, "room1", "bob")

	sb.Connect(pub)
	sb.Connect(sub)

	js, _ := pub.JoinState()
	sb.JoinPublisher(pub, js)

	subJoin, _ := sub.JoinState()
	sb.JoinSubscriber(sub, subJoin)

	got, ok := sb.GetPublisher("alice")
	if !ok || got != pub {
		t.Fatalf("expected alice's publisher session, got %v (ok=%v)", got, ok)
	}

	media := identity.UserID("alice")
	if err := sub.SetSubscription(session.Subscription{Media: &media}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sb.SubscribeToUser(sub, pub)

	recipients := sb.MediaRecipientsFor(pub)
	if len(recipients) != 1 || recipients[0] != sub {
		t.Fatalf("expected bob as sole recipient, got %v", recipients)
	}

	sender, ok := sb.MediaSendersTo(sub)
	if !ok || sender != pub {
		t.Fatalf("expected alice's session as bob's sender, got %v (ok=%v)", sender, ok)
	}
}

// TestBlockIsSymmetric is property 4: it shouldn't matter which side
// established the block, media delivery stops in both directions.
func TestBlockIsSymmetric(t *testing.T) {
	sb := New()

	pub := newJoined(t, 1, session.Publisher, "room1", "alice")
	sub := newJoined(t, 2, session.Subscriber, "room1", "bob")

	sb.Connect(pub)
	sb.Connect(sub)

	pubJoin, _ := pub.JoinState()
	sb.JoinPublisher(pub, pubJoin)

	subJoin, _ := sub.JoinState()
	sb.JoinSubscriber(sub, subJoin)

	sb.SubscribeToUser(sub, pub)

	sb.EstablishBlock("bob", "alice")

	if recipients := sb.MediaRecipientsFor(pub); len(recipients) != 0 {
		t.Fatalf("expected no recipients once blocked, got %v", recipients)
	}

	sb.LiftBlock("bob", "alice")

	if recipients := sb.MediaRecipientsFor(pub); len(recipients) != 1 {
		t.Fatalf("expected recipient restored after lifting block, got %v", recipients)
	}

	// Block established from the other side has the same effect.
	sb.EstablishBlock("alice", "bob")

	if recipients := sb.MediaRecipientsFor(pub); len(recipients) != 0 {
		t.Fatalf("expected no recipients with reverse-direction block, got %v", recipients)
	}
}

// TestSinglePublisherPerUser is property 3: joining as a publisher a
// second time under the same user ID does not replace the first
// session as that user's publisher. The switchboard doesn't reject the
// second join; it only guarantees that GetPublisher always resolves to
// exactly one session, the first one.
func TestSinglePublisherPerUser(t *testing.T) {
	sb := New()

	first := newJoined(t, 1, session.Publisher, "room1", "alice")
	sb.Connect(first)
	js, _ := first.JoinState()
	sb.JoinPublisher(first, js)

	got, ok := sb.GetPublisher("alice")
	if !ok || got != first {
		t.Fatalf("expected first session, got %v (ok=%v)", got, ok)
	}

	second := newJoined(t, 2, session.Publisher, "room1", "alice")
	sb.Connect(second)
	js2, _ := second.JoinState()
	sb.JoinPublisher(second, js2)

	got, ok = sb.GetPublisher("alice")
	if !ok || got != first {
		t.Fatalf("expected first session to remain alice's publisher, got %v (ok=%v)", got, ok)
	}
}

// TestLeaveIsIdempotent is property: disconnecting twice (or
// disconnecting a handle that never joined a room) never panics and
// never leaves dangling index entries.
func TestLeaveIsIdempotent(t *testing.T) {
	sb := New()

	pub := newJoined(t, 1, session.Publisher, "room1", "alice")
	sub := newJoined(t, 2, session.Subscriber, "room1", "bob")

	sb.Connect(pub)
	sb.Connect(sub)

	js, _ := pub.JoinState()
	sb.JoinPublisher(pub, js)

	subJoin, _ := sub.JoinState()
	sb.JoinSubscriber(sub, subJoin)

	sb.SubscribeToUser(sub, pub)

	sb.Disconnect(pub)
	sb.Disconnect(pub) // second disconnect must be a no-op, not a panic

	if _, ok := sb.GetPublisher("alice"); ok {
		t.Fatal("expected alice's publisher slot to be gone")
	}

	if recipients := sb.MediaRecipientsFor(pub); len(recipients) != 0 {
		t.Fatalf("expected no dangling subscriber entries, got %v", recipients)
	}

	// Never-joined handle.
	bystander := session.New(99)
	sb.Disconnect(bystander)
}

// TestDataRecipientsOnlyCoversPublishersInRoom: data fan-out only ever
// reaches a room's other publishers, never plain subscribers, matching
// the switchboard contract for data_recipients_for.
func TestDataRecipientsOnlyCoversPublishersInRoom(t *testing.T) {
	sb := New()

	pub := newJoined(t, 1, session.Publisher, "room1", "alice")
	otherPub := newJoined(t, 2, session.Publisher, "room1", "bob")
	listener := newJoined(t, 3, session.Subscriber, "room1", "carol")

	sb.Connect(pub)
	sb.Connect(otherPub)
	sb.Connect(listener)

	js, _ := pub.JoinState()
	sb.JoinPublisher(pub, js)

	oj, _ := otherPub.JoinState()
	sb.JoinPublisher(otherPub, oj)

	lj, _ := listener.JoinState()
	sb.JoinSubscriber(listener, lj)

	recipients := sb.DataRecipientsFor(pub)
	if len(recipients) != 1 || recipients[0] != otherPub {
		t.Fatalf("expected only bob's publisher session, got %v", recipients)
	}
}

func TestDataRecipientsExcludesBlockedPublisher(t *testing.T) {
	sb := New()

	pub := newJoined(t, 1, session.Publisher, "room1", "alice")
	otherPub := newJoined(t, 2, session.Publisher, "room1", "bob")

	sb.Connect(pub)
	sb.Connect(otherPub)

	js, _ := pub.JoinState()
	sb.JoinPublisher(pub, js)

	oj, _ := otherPub.JoinState()
	sb.JoinPublisher(otherPub, oj)

	sb.EstablishBlock("bob", "alice")

	if recipients := sb.DataRecipientsFor(pub); len(recipients) != 0 {
		t.Fatalf("expected blocked publisher excluded, got %v", recipients)
	}
}
