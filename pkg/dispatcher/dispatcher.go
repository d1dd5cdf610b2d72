// Package dispatcher routes parsed signalling messages to their
// handlers: join, subscribe, block, unblock, kick, data, list_users,
// plus the JSEP offer/answer path. It is the only component that talks
// to AuthValidator, SdpNegotiator, and NotificationFanout together.
// Each handler takes the switchboard's lock around the switchboard
// reads and writes it makes; token checks, write-once session fields
// and, for unblock/kick/data/offer, the gateway calls happen outside it.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/meshboard/sfu-plugin/pkg/auth"
	"github.com/meshboard/sfu-plugin/pkg/forwarding"
	"github.com/meshboard/sfu-plugin/pkg/gateway"
	"github.com/meshboard/sfu-plugin/pkg/identity"
	"github.com/meshboard/sfu-plugin/pkg/messages"
	"github.com/meshboard/sfu-plugin/pkg/notify"
	"github.com/meshboard/sfu-plugin/pkg/sdpneg"
	"github.com/meshboard/sfu-plugin/pkg/session"
	"github.com/meshboard/sfu-plugin/pkg/switchboard"
	"github.com/meshboard/sfu-plugin/pkg/telemetry"
)

// ErrorKind classifies a dispatch failure for the caller (and for
// tests); the wire response itself only ever carries the message text.
type ErrorKind int

const (
	Parse ErrorKind = iota
	Auth
	Conflict
	Capacity
	NotFound
	Precondition
)

func (k ErrorKind) String() string {
	switch k {
	case Parse:
		return "parse"
	case Auth:
		return "auth"
	case Conflict:
		return "conflict"
	case Capacity:
		return "capacity"
	case NotFound:
		return "not_found"
	case Precondition:
		return "precondition"
	default:
		return "unknown"
	}
}

// DispatchError is returned by every handler on failure and carries
// enough information for tests to assert on the failure class without
// parsing the human-readable message.
type DispatchError struct {
	Kind ErrorKind
	Msg  string
}

func (e *DispatchError) Error() string { return e.Msg }

func newErr(kind ErrorKind, format string, args ...interface{}) *DispatchError {
	return &DispatchError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Dispatcher wires the switchboard to the rest of the routing core.
type Dispatcher struct {
	switchboard *switchboard.Switchboard
	auth        *auth.Validator
	sdp         *sdpneg.Negotiator
	fanout      *notify.Fanout
	callbacks   gateway.Callbacks

	maxRoomSize int
	maxCCU      int
}

// New builds a Dispatcher. maxRoomSize/maxCCU of 0 mean unlimited, per
// the config contract.
func New(sb *switchboard.Switchboard, validator *auth.Validator, negotiator *sdpneg.Negotiator, fanout *notify.Fanout, callbacks gateway.Callbacks, maxRoomSize, maxCCU int) *Dispatcher {
	return &Dispatcher{
		switchboard: sb,
		auth:        validator,
		sdp:         negotiator,
		fanout:      fanout,
		callbacks:   callbacks,
		maxRoomSize: maxRoomSize,
		maxCCU:      maxCCU,
	}
}

// Process handles one gateway handle_message call. A nil Response means
// the message must be dropped with no reply at all (the destroyed-
// session case); every other outcome gets a synchronous reply, success
// or failure, with an optional JSEP attached.
//
// When both a message and a JSEP arrive in the same call, a JSEP
// produced while processing the JSEP payload itself takes precedence
// over any JSEP the message handler produced (e.g. subscribe's offer);
// a message-processing error takes precedence over a JSEP-processing
// error.
func (d *Dispatcher) Process(ctx context.Context, sender *session.Session, msgRaw, jsepRaw []byte) (*messages.Response, *messages.JSEP) {
	if sender.Destroyed() {
		logrus.WithField("handle", sender.Handle).Warn("dispatcher: message for destroyed session, dropping")
		return nil, nil
	}

	env, envErr := messages.ParseEnvelope(msgRaw)

	var (
		msgBody interface{}
		msgJSEP *messages.JSEP
		msgErr  *DispatchError
	)

	switch {
	case envErr != nil:
		msgErr = newErr(Parse, "%v", envErr)
	case env.Kind != "":
		msgBody, msgJSEP, msgErr = d.dispatchKind(ctx, sender, env)
	}

	jsep, jsepParseErr := messages.ParseJSEP(jsepRaw)

	var (
		jsepOut *messages.JSEP
		jsepErr *DispatchError
	)

	switch {
	case jsepParseErr != nil:
		jsepErr = newErr(Parse, "%v", jsepParseErr)
	case jsep != nil:
		jsepOut, jsepErr = d.dispatchJSEP(ctx, sender, jsep)
	}

	switch {
	case msgErr != nil:
		resp := messages.Failure(msgErr.Msg)
		return &resp, nil
	case jsepErr != nil:
		resp := messages.Failure(jsepErr.Msg)
		return &resp, nil
	default:
		resp, err := messages.Success(msgBody)
		if err != nil {
			logrus.WithError(err).Error("dispatcher: failed to marshal success body")
			failed := messages.Failure("internal error")

			return &failed, nil
		}

		if jsepOut != nil {
			return &resp, jsepOut
		}

		return &resp, msgJSEP
	}
}

func (d *Dispatcher) dispatchKind(ctx context.Context, sender *session.Session, env messages.Envelope) (interface{}, *messages.JSEP, *DispatchError) {
	t := telemetry.NewTelemetry(ctx, "dispatch."+string(env.Kind), attribute.String("handle", sender.Handle.String()))
	defer t.End()

	var (
		body interface{}
		jsep *messages.JSEP
		err  *DispatchError
	)

	switch env.Kind {
	case messages.KindJoin:
		body, jsep, err = d.handleJoin(sender, env)
	case messages.KindSubscribe:
		body, jsep, err = d.handleSubscribe(sender, env)
	case messages.KindBlock:
		body, jsep, err = d.handleBlock(sender, env)
	case messages.KindUnblock:
		body, jsep, err = d.handleUnblock(sender, env)
	case messages.KindKick:
		body, jsep, err = d.handleKick(sender, env)
	case messages.KindData:
		body, jsep, err = d.handleData(sender, env)
	case messages.KindListUsers:
		body, jsep, err = d.handleListUsers()
	default:
		err = newErr(Parse, "unknown kind %q", env.Kind)
	}

	if err != nil {
		t.Fail(err)
	}

	return body, jsep, err
}

func toSessionSubscription(wire messages.Subscription) session.Subscription {
	return session.Subscription{
		Notifications: wire.Notifications,
		Data:          wire.Data,
		Media:         wire.Media,
	}
}

func (d *Dispatcher) handleJoin(sender *session.Session, env messages.Envelope) (interface{}, *messages.JSEP, *DispatchError) {
	if env.RoomID == nil || env.UserID == nil {
		return nil, nil, newErr(Parse, "join requires room_id and user_id")
	}

	room, user := *env.RoomID, *env.UserID

	mayJoin, err := d.auth.MayJoin(env.Token, room)
	if err != nil {
		return nil, nil, newErr(Auth, "rejecting join with invalid token")
	}

	if !mayJoin {
		return nil, nil, newErr(Auth, "rejecting join without permission")
	}

	d.switchboard.Lock()
	defer d.switchboard.Unlock()

	roomUsersBefore := d.switchboard.GetRoomUsers(room)

	// The wire protocol never states whether a handle is a publisher or
	// a subscriber explicitly: a join that requests a data channel is
	// treated as a publisher, everything else as a subscriber.
	kind := session.Subscriber
	if env.Subscribe != nil && env.Subscribe.Data {
		kind = session.Publisher
	}

	if kind == session.Publisher {
		if d.maxRoomSize > 0 && len(roomUsersBefore) >= d.maxRoomSize {
			return nil, nil, newErr(Capacity, "Room is full.")
		}

		if d.maxCCU > 0 && len(d.switchboard.GetAllUsers()) >= d.maxCCU {
			return nil, nil, newErr(Capacity, "Server is full.")
		}
	}

	js := session.JoinState{Kind: kind, RoomID: room, UserID: user}
	if err := sender.SetJoinState(js); err != nil {
		return nil, nil, newErr(Conflict, "handles may only join once")
	}

	if kind == session.Publisher {
		d.switchboard.JoinPublisher(sender, js)
		d.fanout.NotifyExcept(messages.JoinEvent(user, room), user, d.switchboard.PublishersOccupying(room))
	} else {
		d.switchboard.JoinSubscriber(sender, js)
	}

	body := messages.ListUsersResponse{
		Users: map[identity.RoomID][]identity.UserID{room: d.switchboard.GetRoomUsers(room)},
	}

	if env.Subscribe == nil {
		return body, nil, nil
	}

	sub := toSessionSubscription(*env.Subscribe)
	if err := sender.SetSubscription(sub); err != nil {
		return nil, nil, newErr(Conflict, "handles may only subscribe once")
	}

	if !sub.HasMedia() {
		return body, nil, nil
	}

	jsep, jsepErr := d.linkSubscription(sender, sub)
	if jsepErr != nil {
		return nil, nil, jsepErr
	}

	return body, jsep, nil
}

func (d *Dispatcher) handleSubscribe(sender *session.Session, env messages.Envelope) (interface{}, *messages.JSEP, *DispatchError) {
	if env.What == nil {
		return nil, nil, newErr(Parse, "subscribe requires what")
	}

	sub := toSessionSubscription(*env.What)
	if err := sender.SetSubscription(sub); err != nil {
		return nil, nil, newErr(Conflict, "users may only subscribe once")
	}

	if !sub.HasMedia() {
		return struct{}{}, nil, nil
	}

	d.switchboard.Lock()
	defer d.switchboard.Unlock()

	jsep, jsepErr := d.linkSubscription(sender, sub)
	if jsepErr != nil {
		return nil, nil, jsepErr
	}

	return struct{}{}, jsep, nil
}

// linkSubscription resolves sub.Media to a live publisher, links
// subscriber to it in the switchboard, and returns the publisher's
// stored subscriber offer as a JSEP offer. Callers must already hold
// the switchboard's write lock.
func (d *Dispatcher) linkSubscription(subscriber *session.Session, sub session.Subscription) (*messages.JSEP, *DispatchError) {
	publisher, ok := d.switchboard.GetPublisher(*sub.Media)
	if !ok {
		return nil, newErr(NotFound, "can't subscribe to a nonexistent publisher")
	}

	offer, ok := publisher.SubscriberOffer()
	if !ok {
		return nil, newErr(NotFound, "publisher hasn't negotiated media yet")
	}

	d.switchboard.SubscribeToUser(subscriber, publisher)

	return &messages.JSEP{Type: messages.JSEPOffer, SDP: offer}, nil
}

func (d *Dispatcher) handleBlock(sender *session.Session, env messages.Envelope) (interface{}, *messages.JSEP, *DispatchError) {
	if env.Whom == nil {
		return nil, nil, newErr(Parse, "block requires whom")
	}

	js, ok := sender.JoinState()
	if !ok {
		return nil, nil, newErr(Precondition, "cannot block when not in a room")
	}

	d.switchboard.Lock()
	defer d.switchboard.Unlock()

	if publisher, ok := d.switchboard.GetPublisher(*env.Whom); ok {
		d.fanout.NotifyUser(messages.BlockedEvent(js.UserID), *env.Whom, []*session.Session{publisher})
	}

	d.switchboard.EstablishBlock(js.UserID, *env.Whom)

	return struct{}{}, nil, nil
}

func (d *Dispatcher) handleUnblock(sender *session.Session, env messages.Envelope) (interface{}, *messages.JSEP, *DispatchError) {
	if env.Whom == nil {
		return nil, nil, newErr(Parse, "unblock requires whom")
	}

	js, ok := sender.JoinState()
	if !ok {
		return nil, nil, newErr(Precondition, "cannot unblock when not in a room")
	}

	d.switchboard.Lock()
	publisher, hasPublisher := d.switchboard.GetPublisher(*env.Whom)
	d.switchboard.LiftBlock(js.UserID, *env.Whom)
	d.switchboard.Unlock()

	if hasPublisher {
		d.sendFIR(publisher)
		d.fanout.NotifyUser(messages.UnblockedEvent(js.UserID), *env.Whom, []*session.Session{publisher})
	}

	return struct{}{}, nil, nil
}

func (d *Dispatcher) sendFIR(publisher *session.Session) {
	packet, err := forwarding.MarshalFIR(publisher.NextFIRSequence())
	if err != nil {
		logrus.WithError(err).Error("dispatcher: failed to marshal FIR for unblock")
		return
	}

	if err := d.callbacks.RelayRTCP(publisher.Handle, true, packet); err != nil && !errors.Is(err, gateway.ErrSessionNotFound) {
		logrus.WithError(err).WithField("handle", publisher.Handle).Error("dispatcher: failed to send FIR on unblock")
	}
}

func (d *Dispatcher) handleKick(sender *session.Session, env messages.Envelope) (interface{}, *messages.JSEP, *DispatchError) {
	if env.RoomID == nil || env.UserID == nil {
		return nil, nil, newErr(Parse, "kick requires room_id and user_id")
	}

	mayKick, err := d.auth.MayKick(env.Token)
	if err != nil {
		return nil, nil, newErr(Auth, "ignoring kick with invalid token")
	}

	if !mayKick {
		return nil, nil, newErr(Auth, "ignoring kick without kick_users permission")
	}

	d.switchboard.RLock()
	publisher, hasPublisher := d.switchboard.GetPublisher(*env.UserID)
	subscribers, _ := d.switchboard.GetSubscribers(*env.UserID)
	d.switchboard.RUnlock()

	if hasPublisher {
		d.endSession(publisher)
	}

	for _, s := range subscribers {
		d.endSession(s)
	}

	return struct{}{}, nil, nil
}

func (d *Dispatcher) endSession(s *session.Session) {
	if err := d.callbacks.EndSession(s.Handle); err != nil && !errors.Is(err, gateway.ErrSessionNotFound) {
		logrus.WithError(err).WithField("handle", s.Handle).Error("dispatcher: end_session failed")
	}
}

func (d *Dispatcher) handleData(sender *session.Session, env messages.Envelope) (interface{}, *messages.JSEP, *DispatchError) {
	js, ok := sender.JoinState()
	if !ok {
		return nil, nil, newErr(Precondition, "cannot send data when not in a room")
	}

	d.switchboard.RLock()
	occupants := d.switchboard.PublishersOccupying(js.RoomID)
	d.switchboard.RUnlock()

	payload := messages.DataEvent(env.Body)

	if env.Whom != nil {
		d.fanout.SendDataUser(payload, *env.Whom, occupants)
	} else {
		d.fanout.SendDataExcept(payload, js.UserID, occupants)
	}

	return struct{}{}, nil, nil
}

func (d *Dispatcher) handleListUsers() (interface{}, *messages.JSEP, *DispatchError) {
	d.switchboard.RLock()
	users := d.switchboard.AllRoomUsers()
	d.switchboard.RUnlock()

	return messages.ListUsersResponse{Users: users}, nil, nil
}

func (d *Dispatcher) dispatchJSEP(ctx context.Context, sender *session.Session, jsep *messages.JSEP) (*messages.JSEP, *DispatchError) {
	switch jsep.Type {
	case messages.JSEPOffer:
		return d.handleOffer(ctx, sender, jsep.SDP)
	case messages.JSEPAnswer:
		return nil, d.handleAnswer(sender, jsep.SDP)
	default:
		return nil, newErr(Parse, "unknown jsep type %q", jsep.Type)
	}
}

func (d *Dispatcher) handleOffer(ctx context.Context, sender *session.Session, offerSDP string) (*messages.JSEP, *DispatchError) {
	t := telemetry.NewTelemetry(ctx, "dispatch.jsep_offer", attribute.String("handle", sender.Handle.String()))
	defer t.End()

	result, err := d.sdp.ProcessOffer(offerSDP)
	if err != nil {
		t.Fail(err)
		return nil, newErr(Parse, "%v", err)
	}

	sender.SetSubscriberOffer(result.SubscriberOffer)

	d.switchboard.RLock()
	subscribers := d.switchboard.SubscribersTo(sender)
	d.switchboard.RUnlock()

	if len(subscribers) > 0 {
		d.pushRenegotiation(&messages.JSEP{Type: messages.JSEPOffer, SDP: result.SubscriberOffer}, subscribers)
	}

	return &messages.JSEP{Type: messages.JSEPAnswer, SDP: result.Answer}, nil
}

func (d *Dispatcher) handleAnswer(sender *session.Session, answerSDP string) *DispatchError {
	if err := d.sdp.ProcessAnswer(answerSDP); err != nil {
		return newErr(Parse, "%v", err)
	}

	return nil
}

// pushRenegotiation delivers an unsolicited subscriber offer to every
// existing viewer of a publisher that just re-offered. This bypasses
// NotificationFanout (which gates on notifications/data subscription
// flags): a renegotiation offer has nothing to do with either flag.
func (d *Dispatcher) pushRenegotiation(jsep *messages.JSEP, targets []*session.Session) {
	jsepBytes, err := json.Marshal(jsep)
	if err != nil {
		logrus.WithError(err).Error("dispatcher: failed to marshal renegotiation jsep")
		return
	}

	for _, target := range targets {
		err := d.callbacks.PushEvent(target.Handle, []byte("{}"), jsepBytes)
		if err != nil && !errors.Is(err, gateway.ErrSessionNotFound) {
			logrus.WithError(err).WithField("handle", target.Handle).Error("dispatcher: failed to push renegotiation offer")
		}
	}
}
