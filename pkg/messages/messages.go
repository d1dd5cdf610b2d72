// Package messages defines the JSON wire shapes exchanged with the
// gateway: inbound signalling requests (type-tagged by "kind"),
// inbound/outbound JSEP bodies, and outbound responses/events.
package messages

import (
	"encoding/json"
	"fmt"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

// Kind identifies the shape of an inbound signalling message.
type Kind string

const (
	KindJoin      Kind = "join"
	KindSubscribe Kind = "subscribe"
	KindBlock     Kind = "block"
	KindUnblock   Kind = "unblock"
	KindKick      Kind = "kick"
	KindData      Kind = "data"
	KindListUsers Kind = "list_users"
)

// Subscription mirrors the wire shape of a subscribe request, carried
// either standalone or embedded in a join.
type Subscription struct {
	Notifications bool             `json:"notifications"`
	Data          bool             `json:"data"`
	Media         *identity.UserID `json:"media,omitempty"`
}

// Envelope is the raw inbound signalling message, decoded in a single
// pass into this flat struct. Which of the optional fields are
// meaningful depends on Kind; the dispatcher reads them per kind.
type Envelope struct {
	Kind Kind `json:"kind"`

	RoomID *identity.RoomID `json:"room_id,omitempty"`
	UserID *identity.UserID `json:"user_id,omitempty"`
	Token  string           `json:"token,omitempty"`

	Subscribe *Subscription `json:"subscribe,omitempty"`
	What      *Subscription `json:"what,omitempty"`

	Whom *identity.UserID `json:"whom,omitempty"`
	Body string           `json:"body,omitempty"`
}

// knownKinds lists every "kind" ParseEnvelope accepts; any other
// non-empty kind makes it return an error.
var knownKinds = map[Kind]bool{
	KindJoin: true, KindSubscribe: true, KindBlock: true,
	KindUnblock: true, KindKick: true, KindData: true, KindListUsers: true,
}

// ParseEnvelope decodes a raw inbound message. An empty raw is valid:
// it represents a presence-only (JSEP-only) call and decodes to a zero
// Envelope with an empty Kind. Any non-empty message with an
// unrecognized kind is a parse error.
func ParseEnvelope(raw []byte) (Envelope, error) {
	if len(raw) == 0 {
		return Envelope{}, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("messages: malformed message: %w", err)
	}

	if env.Kind != "" && !knownKinds[env.Kind] {
		return Envelope{}, fmt.Errorf("messages: unknown kind %q", env.Kind)
	}

	return env, nil
}

// JSEPType distinguishes an offer from an answer.
type JSEPType string

const (
	JSEPOffer  JSEPType = "offer"
	JSEPAnswer JSEPType = "answer"
)

// JSEP is the inbound/outbound session-description wrapper.
type JSEP struct {
	Type JSEPType `json:"type"`
	SDP  string   `json:"sdp"`
}

// ParseJSEP decodes a raw JSEP payload. An empty raw means no JSEP was
// attached to this call, which is valid for every kind except an
// implicit offer/answer round.
func ParseJSEP(raw []byte) (*JSEP, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var j JSEP
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("messages: malformed jsep: %w", err)
	}

	if j.Type != JSEPOffer && j.Type != JSEPAnswer {
		return nil, fmt.Errorf("messages: unknown jsep type %q", j.Type)
	}

	return &j, nil
}

// Response is the synchronous reply to a transaction.
type Response struct {
	Success  bool            `json:"success"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error payload attached to a failed Response.
type ErrorBody struct {
	Msg string `json:"msg"`
}

// Success builds a successful Response wrapping an arbitrary
// JSON-marshalable body.
func Success(body interface{}) (Response, error) {
	if body == nil {
		return Response{Success: true}, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("messages: marshal response body: %w", err)
	}

	return Response{Success: true, Response: raw}, nil
}

// Failure builds an error Response with a human-readable message.
func Failure(msg string) Response {
	return Response{Success: false, Error: &ErrorBody{Msg: msg}}
}

// Event is the shape of every fire-and-forget notification pushed to a
// handle outside of a transaction reply.
type Event struct {
	Event   string           `json:"event"`
	UserID  identity.UserID  `json:"user_id,omitempty"`
	RoomID  identity.RoomID  `json:"room_id,omitempty"`
	By      *identity.UserID `json:"by,omitempty"`
	Body    string           `json:"body,omitempty"`
}

// JoinEvent notifies a room's other publishers that user joined room.
func JoinEvent(user identity.UserID, room identity.RoomID) Event {
	return Event{Event: "join", UserID: user, RoomID: room}
}

// LeaveEvent notifies a room's other publishers that user left room.
func LeaveEvent(user identity.UserID, room identity.RoomID) Event {
	return Event{Event: "leave", UserID: user, RoomID: room}
}

// BlockedEvent notifies the blocked user's publisher who blocked them.
func BlockedEvent(by identity.UserID) Event {
	return Event{Event: "blocked", By: &by}
}

// UnblockedEvent notifies the unblocked user's publisher who lifted it.
func UnblockedEvent(by identity.UserID) Event {
	return Event{Event: "unblocked", By: &by}
}

// DataEvent wraps a relayed data-channel payload as a signalling
// notification for recipients that opted into data events.
func DataEvent(body string) Event {
	return Event{Event: "data", Body: body}
}

// ListUsersResponse is the body of a successful list_users reply: room
// id mapped to the set of user ids currently publishing in it.
type ListUsersResponse struct {
	Users map[identity.RoomID][]identity.UserID `json:"users"`
}
