// Package identity defines the opaque identifiers shared across the
// routing core: rooms, users, gateway handles, and signalling
// transactions.
package identity

import (
	"encoding/json"
	"strconv"
)

// RoomID names a Janus multicast room. Equality is string equality on
// the normalized (always-string) form, regardless of whether the wire
// value arrived as a JSON string or a JSON number.
type RoomID string

// UserID names a single logical user, which may own several handles
// (one publisher, many subscribers).
type UserID string

// HandleID is the gateway-supplied identity of a single WebRTC peer
// connection (a "handle" in Janus terms). It is opaque pointer identity
// handed to us by the host gateway and is only ever compared, never
// parsed.
type HandleID uintptr

// TransactionID marks a signalling request so its response can be
// correlated by the client.
type TransactionID string

func (r RoomID) String() string { return string(r) }
func (u UserID) String() string { return string(u) }

// UnmarshalJSON accepts either a JSON string or a JSON number, per the
// wire contract: "Room/user identifiers accept either a JSON string or
// a JSON number on input; both serialize as strings internally."
func (r *RoomID) UnmarshalJSON(data []byte) error {
	s, err := unmarshalFlexibleID(data)
	if err != nil {
		return err
	}

	*r = RoomID(s)

	return nil
}

// MarshalJSON always emits the normalized string form.
func (r RoomID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// UnmarshalJSON accepts either a JSON string or a JSON number, mirroring RoomID.
func (u *UserID) UnmarshalJSON(data []byte) error {
	s, err := unmarshalFlexibleID(data)
	if err != nil {
		return err
	}

	*u = UserID(s)

	return nil
}

// MarshalJSON always emits the normalized string form.
func (u UserID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(u))
}

func unmarshalFlexibleID(data []byte) (string, error) {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return asString, nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return "", err
	}

	return asNumber.String(), nil
}

// ParseHandleID is a convenience used by the gateway boundary, where the
// host hands us a numeric handle identity to wrap.
func ParseHandleID(raw uintptr) HandleID {
	return HandleID(raw)
}

func (h HandleID) String() string {
	return strconv.FormatUint(uint64(h), 10)
}
