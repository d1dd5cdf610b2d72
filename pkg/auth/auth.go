// Package auth validates the RS512-signed JWTs that gate joining rooms
// and kicking users. It has no knowledge of the switchboard or wire
// messages; callers pass in the bearer token and get back a decision.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

// ErrNoToken is returned by MayJoin/MayKick when the plugin is
// configured with a public key but the caller supplied no token.
var ErrNoToken = errors.New("auth: no token supplied")

// Claims is the set of custom claims this plugin understands, embedded
// alongside the registered JWT claims.
type Claims struct {
	jwt.RegisteredClaims

	// JoinHub grants joining any room, subject to RoomIDs below.
	JoinHub bool `json:"join_hub"`
	// KickUsers grants kicking users from any room the bearer is in.
	KickUsers bool `json:"kick_users"`
	// RoomIDs, if present, restricts JoinHub to this set of rooms.
	RoomIDs []identity.RoomID `json:"room_ids,omitempty"`
}

func (c Claims) mayJoin(room identity.RoomID) bool {
	if !c.JoinHub {
		return false
	}

	if len(c.RoomIDs) == 0 {
		return true
	}

	for _, r := range c.RoomIDs {
		if r == room {
			return true
		}
	}

	return false
}

// Validator verifies bearer tokens against a single configured RSA
// public key. A nil Validator (no key configured) allows everything,
// matching the "no auth key configured" policy.
type Validator struct {
	key *rsa.PublicKey
}

// NewValidator builds a Validator from a DER-encoded RSA public key.
// An empty der disables validation entirely: the returned Validator
// allows every join and every kick, matching the spec's "no key
// configured" policy.
func NewValidator(der []byte) (*Validator, error) {
	if len(der) == 0 {
		return &Validator{}, nil
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: configured key is not RSA")
	}

	return &Validator{key: rsaKey}, nil
}

// Configured reports whether an auth key was supplied. When false,
// every MayJoin/MayKick call is permitted regardless of token.
func (v *Validator) Configured() bool {
	return v != nil && v.key != nil
}

func (v *Validator) parse(token string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}

		return v.key, nil
	}, jwt.WithValidMethods([]string{"RS512"}))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	return claims, nil
}

// MayJoin applies the may_join(room) rule: join_hub && (room_ids is
// absent || room_ids contains room). If no key is configured, every
// join is allowed. If a key is configured but token is empty, the join
// is rejected.
func (v *Validator) MayJoin(token string, room identity.RoomID) (bool, error) {
	if !v.Configured() {
		return true, nil
	}

	if token == "" {
		return false, ErrNoToken
	}

	claims, err := v.parse(token)
	if err != nil {
		return false, err
	}

	return claims.mayJoin(room), nil
}

// MayKick reports whether the bearer of token holds the kick_users
// claim. If no key is configured, every kick is allowed.
func (v *Validator) MayKick(token string) (bool, error) {
	if !v.Configured() {
		return true, nil
	}

	if token == "" {
		return false, ErrNoToken
	}

	claims, err := v.parse(token)
	if err != nil {
		return false, err
	}

	return claims.KickUsers, nil
}
