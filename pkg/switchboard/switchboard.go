// Package switchboard holds the subscription graph: which handles have
// joined which rooms, who publishes to whom, and who has blocked whom.
// It is pure bookkeeping — no network I/O and no gateway calls live
// here — guarded by a single readers-writer lock so that the
// forwarding hot path only ever takes a read lock while signalling
// mutations take a write lock.
//
// Every method assumes the caller already holds the appropriate lock
// (Lock/RLock, promoted from the embedded sync.RWMutex). A signalling
// handler that needs several of these calls to take effect atomically
// takes the write lock once and makes them all under it, exactly as a
// single critical section.
package switchboard

import (
	"github.com/meshboard/sfu-plugin/pkg/identity"
	"github.com/meshboard/sfu-plugin/pkg/session"
)

// Switchboard is the subscription graph for every room the plugin
// currently knows about.
type Switchboard struct {
	*rwMutex

	sessions map[identity.HandleID]*session.Session

	publishersByRoom map[identity.RoomID][]*session.Session
	publishersByUser map[identity.UserID]*session.Session

	subscribersByUser map[identity.UserID][]*session.Session

	pubToSub *BidirectionalMultimap[*session.Session, *session.Session]
	blocks   *BidirectionalMultimap[identity.UserID, identity.UserID]
}

// New returns an empty switchboard.
func New() *Switchboard {
	return &Switchboard{
		rwMutex:           &rwMutex{},
		sessions:          make(map[identity.HandleID]*session.Session),
		publishersByRoom:  make(map[identity.RoomID][]*session.Session),
		publishersByUser:  make(map[identity.UserID]*session.Session),
		subscribersByUser: make(map[identity.UserID][]*session.Session),
		pubToSub:          NewBidirectionalMultimap[*session.Session, *session.Session](),
		blocks:            NewBidirectionalMultimap[identity.UserID, identity.UserID](),
	}
}

// Connect registers a freshly-created handle. It must be called before
// any other switchboard operation involving that handle.
func (sb *Switchboard) Connect(s *session.Session) {
	sb.sessions[s.Handle] = s
}

// IsConnected reports whether user is the join identity of any
// currently-registered session (publisher or subscriber).
func (sb *Switchboard) IsConnected(user identity.UserID) bool {
	for _, s := range sb.sessions {
		if js, ok := s.JoinState(); ok && js.UserID == user {
			return true
		}
	}

	return false
}

// Session resolves a gateway handle to its registered session, if any.
func (sb *Switchboard) Session(handle identity.HandleID) (*session.Session, bool) {
	s, ok := sb.sessions[handle]
	return s, ok
}

// Disconnect tears a handle out of every index it could possibly
// appear in: room membership, the publish graph, and block lists do
// not reference it afterwards. Safe to call on a handle that never
// joined a room.
func (sb *Switchboard) Disconnect(s *session.Session) {
	delete(sb.sessions, s.Handle)

	if js, ok := s.JoinState(); ok {
		switch js.Kind {
		case session.Publisher:
			sb.leavePublisher(s, js)
		case session.Subscriber:
			sb.leaveSubscriber(s, js)
		}
	}
}

// JoinPublisher records s as a publisher in js.RoomID, and as the
// publisher for js.UserID if that user has no publisher session yet.
// It does not reject a second publisher handle for an already-publishing
// user; it just leaves the first one in place as the canonical one.
func (sb *Switchboard) JoinPublisher(s *session.Session, js session.JoinState) {
	sb.publishersByRoom[js.RoomID] = append(sb.publishersByRoom[js.RoomID], s)

	if _, exists := sb.publishersByUser[js.UserID]; !exists {
		sb.publishersByUser[js.UserID] = s
	}
}

// JoinSubscriber records s as a viewer in js.RoomID, under js.UserID's
// identity (its own, chosen at join time).
func (sb *Switchboard) JoinSubscriber(s *session.Session, js session.JoinState) {
	sb.subscribersByUser[js.UserID] = append(sb.subscribersByUser[js.UserID], s)
}

func (sb *Switchboard) leavePublisher(s *session.Session, js session.JoinState) {
	sb.publishersByRoom[js.RoomID] = removeAll(sb.publishersByRoom[js.RoomID], s)
	if len(sb.publishersByRoom[js.RoomID]) == 0 {
		delete(sb.publishersByRoom, js.RoomID)
	}

	if sb.publishersByUser[js.UserID] == s {
		delete(sb.publishersByUser, js.UserID)
	}

	sb.pubToSub.RemoveKey(s)
}

func (sb *Switchboard) leaveSubscriber(s *session.Session, js session.JoinState) {
	sb.subscribersByUser[js.UserID] = removeAll(sb.subscribersByUser[js.UserID], s)
	if len(sb.subscribersByUser[js.UserID]) == 0 {
		delete(sb.subscribersByUser, js.UserID)
	}

	sb.pubToSub.RemoveValue(s)
}

// SubscribeToUser records that subscriber receives the named
// publisher's media. Callers are expected to have already resolved
// target to a live publisher session via GetPublisher.
func (sb *Switchboard) SubscribeToUser(subscriber *session.Session, publisher *session.Session) {
	sb.pubToSub.Associate(publisher, subscriber)
}

// SubscribersTo returns every session subscribed to publisher's media,
// unfiltered by the block relation. Used to push unsolicited
// renegotiation offers to every existing viewer of a publisher that
// just re-offered, which happens regardless of blocks.
func (sb *Switchboard) SubscribersTo(publisher *session.Session) []*session.Session {
	return sb.pubToSub.GetValues(publisher)
}

// GetPublisher resolves a room user to its publishing session, if one
// is currently connected.
func (sb *Switchboard) GetPublisher(user identity.UserID) (*session.Session, bool) {
	s, ok := sb.publishersByUser[user]
	return s, ok
}

// GetSubscribers returns every subscriber session joined under user's
// own identity (a viewer may hold more than one session, e.g. several
// tabs), and whether that user has any subscriber session at all. This
// is distinct from the set of sessions subscribed to a publisher's
// media, which MediaRecipientsFor resolves instead.
func (sb *Switchboard) GetSubscribers(user identity.UserID) ([]*session.Session, bool) {
	s, ok := sb.subscribersByUser[user]
	return s, ok
}

// PublishersOccupying returns every publisher currently active in a
// room.
func (sb *Switchboard) PublishersOccupying(room identity.RoomID) []*session.Session {
	return sb.publishersByRoom[room]
}

// GetRoomUsers returns the user IDs of every publisher currently
// active in a room.
func (sb *Switchboard) GetRoomUsers(room identity.RoomID) []identity.UserID {
	publishers := sb.publishersByRoom[room]
	users := make([]identity.UserID, 0, len(publishers))

	for _, p := range publishers {
		if js, ok := p.JoinState(); ok {
			users = append(users, js.UserID)
		}
	}

	return users
}

// GetAllUsers returns the user IDs of every publisher known to the
// switchboard, across every room. The dispatcher counts these for the
// server-wide max_ccu capacity check.
func (sb *Switchboard) GetAllUsers() []identity.UserID {
	users := make([]identity.UserID, 0, len(sb.publishersByUser))
	for u := range sb.publishersByUser {
		users = append(users, u)
	}

	return users
}

// AllRoomUsers returns every room's current publisher user set, for the
// list_users dispatcher operation.
func (sb *Switchboard) AllRoomUsers() map[identity.RoomID][]identity.UserID {
	out := make(map[identity.RoomID][]identity.UserID, len(sb.publishersByRoom))
	for room := range sb.publishersByRoom {
		out[room] = sb.GetRoomUsers(room)
	}

	return out
}

// SessionCount returns the number of currently-connected handles,
// publisher and subscriber alike. The max_ccu capacity check does not
// use it; it counts publishing users via GetAllUsers.
func (sb *Switchboard) SessionCount() int {
	return len(sb.sessions)
}

// EstablishBlock records that blocker refuses media, data, and
// notifications to/from miscreant. Symmetric with respect to which
// side initiated it: MediaRecipientsFor/MediaSendersTo/
// DataRecipientsFor exclude the pair regardless of direction.
func (sb *Switchboard) EstablishBlock(blocker identity.UserID, miscreant identity.UserID) {
	sb.blocks.Associate(blocker, miscreant)
}

// LiftBlock reverses a previously-established block. A no-op if no
// such block exists.
func (sb *Switchboard) LiftBlock(blocker identity.UserID, miscreant identity.UserID) {
	sb.blocks.Disassociate(blocker, miscreant)
}

func (sb *Switchboard) blockedEitherWay(a, b identity.UserID) bool {
	return contains(sb.blocks.GetValues(a), b) || contains(sb.blocks.GetValues(b), a)
}

// MediaRecipientsFor returns the subscribers that should receive
// publisher's media, excluding anyone on either side of a block with
// publisher's user.
func (sb *Switchboard) MediaRecipientsFor(publisher *session.Session) []*session.Session {
	js, ok := publisher.JoinState()
	if !ok {
		return nil
	}

	var out []*session.Session

	for _, sub := range sb.pubToSub.GetValues(publisher) {
		subJoin, ok := sub.JoinState()
		if !ok {
			continue
		}

		if sb.blockedEitherWay(js.UserID, subJoin.UserID) {
			continue
		}

		out = append(out, sub)
	}

	return out
}

// MediaSendersTo returns the publisher session, if any, whose media
// subscriber is entitled to receive — nil if the subscriber's chosen
// publisher is gone or blocked against it.
func (sb *Switchboard) MediaSendersTo(subscriber *session.Session) (*session.Session, bool) {
	sub, ok := subscriber.Subscription()
	if !ok || !sub.HasMedia() {
		return nil, false
	}

	publisher, ok := sb.GetPublisher(*sub.Media)
	if !ok {
		return nil, false
	}

	subJoin, ok := subscriber.JoinState()
	if !ok {
		return nil, false
	}

	pubJoin, ok := publisher.JoinState()
	if !ok {
		return nil, false
	}

	if sb.blockedEitherWay(pubJoin.UserID, subJoin.UserID) {
		return nil, false
	}

	return publisher, true
}

// DataRecipientsFor returns every other publisher session in sender's
// room, excluding blocked pairs. Subscribers never receive data-channel
// fan-out directly; only a room's publishers do, matching the
// "occupants" a data message is relayed among.
func (sb *Switchboard) DataRecipientsFor(sender *session.Session) []*session.Session {
	js, ok := sender.JoinState()
	if !ok {
		return nil
	}

	var out []*session.Session

	for _, other := range sb.publishersByRoom[js.RoomID] {
		if other.Handle == sender.Handle {
			continue
		}

		otherJoin, ok := other.JoinState()
		if !ok {
			continue
		}

		if sb.blockedEitherWay(js.UserID, otherJoin.UserID) {
			continue
		}

		out = append(out, other)
	}

	return out
}
