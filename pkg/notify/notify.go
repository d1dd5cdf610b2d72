// Package notify fans signalling events out to a set of candidate
// sessions, filtered by their subscription flags. It never touches the
// switchboard directly — callers pass in the candidate list (usually a
// switchboard query already made under its read lock).
package notify

import (
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/meshboard/sfu-plugin/pkg/gateway"
	"github.com/meshboard/sfu-plugin/pkg/identity"
	"github.com/meshboard/sfu-plugin/pkg/session"
)

// Fanout delivers events and data-channel messages to sessions,
// gating each send on per-recipient subscription state.
type Fanout struct {
	callbacks gateway.Callbacks
}

// New builds a Fanout that delivers through callbacks.
func New(callbacks gateway.Callbacks) *Fanout {
	return &Fanout{callbacks: callbacks}
}

// NotifyExcept delivers body to every candidate with
// subscription.notifications == true whose user isn't self.
func (f *Fanout) NotifyExcept(body interface{}, self identity.UserID, candidates []*session.Session) {
	f.send(body, candidates, func(sub session.Subscription, js session.JoinState) bool {
		return sub.Notifications && js.UserID != self
	})
}

// NotifyUser delivers body to every candidate with
// subscription.notifications == true whose user equals target.
func (f *Fanout) NotifyUser(body interface{}, target identity.UserID, candidates []*session.Session) {
	f.send(body, candidates, func(sub session.Subscription, js session.JoinState) bool {
		return sub.Notifications && js.UserID == target
	})
}

// SendDataExcept delivers body to every candidate with
// subscription.data == true whose user isn't self.
func (f *Fanout) SendDataExcept(body interface{}, self identity.UserID, candidates []*session.Session) {
	f.send(body, candidates, func(sub session.Subscription, js session.JoinState) bool {
		return sub.Data && js.UserID != self
	})
}

// SendDataUser delivers body to every candidate with
// subscription.data == true whose user equals target.
func (f *Fanout) SendDataUser(body interface{}, target identity.UserID, candidates []*session.Session) {
	f.send(body, candidates, func(sub session.Subscription, js session.JoinState) bool {
		return sub.Data && js.UserID == target
	})
}

func (f *Fanout) send(body interface{}, candidates []*session.Session, include func(session.Subscription, session.JoinState) bool) {
	raw, err := json.Marshal(body)
	if err != nil {
		logrus.WithError(err).Error("notify: failed to marshal event body")
		return
	}

	for _, s := range candidates {
		sub, ok := s.Subscription()
		if !ok {
			continue
		}

		js, ok := s.JoinState()
		if !ok {
			continue
		}

		if !include(sub, js) {
			continue
		}

		f.deliver(s.Handle, raw)
	}
}

func (f *Fanout) deliver(handle identity.HandleID, body []byte) {
	err := f.callbacks.PushEvent(handle, body, nil)
	if err == nil {
		return
	}

	if errors.Is(err, gateway.ErrSessionNotFound) {
		return
	}

	logrus.WithError(err).WithField("handle", handle).Error("notify: failed to push event")
}
