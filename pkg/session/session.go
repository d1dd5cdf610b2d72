// Package session models the per-connection state the routing core
// keeps for every gateway handle: its join info, its subscription
// intent, the subscriber offer it hands out to viewers, and the
// counters/flags that the forwarding hot path touches.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

// Kind distinguishes a publishing handle from a viewing handle.
type Kind int

const (
	// Publisher sends media into a room and receives data from its
	// roommates.
	Publisher Kind = iota
	// Subscriber receives a single publisher's media and may
	// participate in data/notification channels.
	Subscriber
)

func (k Kind) String() string {
	if k == Publisher {
		return "publisher"
	}

	return "subscriber"
}

// JoinState is set exactly once per Session, at the first successful
// join message. It is immutable thereafter.
type JoinState struct {
	Kind   Kind
	RoomID identity.RoomID
	UserID identity.UserID
}

// Subscription is set at most once per Session. Notifications/Data
// govern event/data-channel eligibility; Media, if present, selects a
// single publisher whose audio/video this handle receives.
type Subscription struct {
	Notifications bool
	Data          bool
	Media         *identity.UserID
}

// HasMedia reports whether this subscription selects a publisher.
func (s Subscription) HasMedia() bool {
	return s.Media != nil
}

// Session is the per-handle state held by the switchboard. Everything
// but the write-once cells and the mutable offer/counters is
// established once at construction and never changes again.
type Session struct {
	Handle identity.HandleID

	joinState    Cell[JoinState]
	subscription Cell[Subscription]

	offerMu         sync.Mutex
	subscriberOffer *string

	firSeq    atomic.Int64
	destroyed atomic.Bool
}

// New constructs a freshly-created session for the given gateway
// handle. Sessions are created on the gateway's create_session
// callback and live until destroy_session.
func New(handle identity.HandleID) *Session {
	return &Session{Handle: handle}
}

// SetJoinState publishes this session's join info. It fails if the
// session has already joined once.
func (s *Session) SetJoinState(js JoinState) error {
	return s.joinState.Set(js)
}

// JoinState returns the published join info, if any.
func (s *Session) JoinState() (JoinState, bool) {
	return s.joinState.Get()
}

// SetSubscription publishes this session's subscription intent. It
// fails if a subscription has already been set once.
func (s *Session) SetSubscription(sub Subscription) error {
	return s.subscription.Set(sub)
}

// Subscription returns the published subscription, if any.
func (s *Session) Subscription() (Subscription, bool) {
	return s.subscription.Get()
}

// SubscriberOffer returns the SDP offer stored for this (publisher)
// session, if one has been produced yet.
func (s *Session) SubscriberOffer() (string, bool) {
	s.offerMu.Lock()
	defer s.offerMu.Unlock()

	if s.subscriberOffer == nil {
		return "", false
	}

	return *s.subscriberOffer, true
}

// SetSubscriberOffer stores (or replaces) the canonical subscriber
// offer for this publisher session. Re-offers replace the previously
// stored value rather than being rejected, per the open question on
// renegotiation in the design notes.
func (s *Session) SetSubscriberOffer(offer string) {
	s.offerMu.Lock()
	defer s.offerMu.Unlock()

	s.subscriberOffer = &offer
}

// NextFIRSequence returns the next sequence number to use when
// generating a FIR request targeting this (publisher) session.
func (s *Session) NextFIRSequence() int32 {
	return int32(s.firSeq.Add(1))
}

// MarkDestroyed flags this session as torn down. It is terminal and
// atomic: once set it is never unset.
func (s *Session) MarkDestroyed() {
	s.destroyed.Store(true)
}

// Destroyed reports whether this session has been torn down.
func (s *Session) Destroyed() bool {
	return s.destroyed.Load()
}
