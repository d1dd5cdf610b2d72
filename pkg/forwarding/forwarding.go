// Package forwarding is the media hot path: it is invoked synchronously
// by the gateway with a decrypted RTP, RTCP, or data buffer and relays
// it according to the switchboard's subscription graph, never mutating
// it. The switchboard's read lock is held only while the recipient (or
// upstream publisher) list is read; the relay callbacks run after the
// lock is released, against that snapshot.
package forwarding

import (
	"errors"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/meshboard/sfu-plugin/pkg/gateway"
	"github.com/meshboard/sfu-plugin/pkg/session"
	"github.com/meshboard/sfu-plugin/pkg/switchboard"
)

// Plane is the forwarding plane: it reads the switchboard and drives
// the gateway's relay callbacks. It holds no state of its own.
type Plane struct {
	switchboard *switchboard.Switchboard
	callbacks   gateway.Callbacks
}

// New builds a Plane over sb, relaying through callbacks.
func New(sb *switchboard.Switchboard, callbacks gateway.Callbacks) *Plane {
	return &Plane{switchboard: sb, callbacks: callbacks}
}

// RelayRTP forwards an RTP packet from sender to every subscriber
// entitled to its media.
func (p *Plane) RelayRTP(sender *session.Session, video bool, packet []byte) {
	p.switchboard.RLock()
	recipients := p.switchboard.MediaRecipientsFor(sender)
	p.switchboard.RUnlock()

	for _, recipient := range recipients {
		p.logRelayErr(recipient, p.callbacks.RelayRTP(recipient.Handle, video, packet))
	}
}

// RelayRTCP inspects an RTCP packet from sender and either triggers a
// keyframe request on its upstream publisher (PLI/FIR) or relays it
// onward like any other RTCP packet.
func (p *Plane) RelayRTCP(sender *session.Session, video bool, packet []byte) {
	packets, err := rtcp.Unmarshal(packet)
	if err != nil {
		logrus.WithError(err).Warn("forwarding: failed to parse RTCP packet, relaying as opaque")
		p.relayOrdinary(sender, video, packet)

		return
	}

	for _, pkt := range packets {
		switch pkt.(type) {
		case *rtcp.PictureLossIndication:
			p.handlePLI(sender)
			return
		case *rtcp.FullIntraRequest:
			p.handleFIR(sender)
			return
		}
	}

	p.relayOrdinary(sender, video, packet)
}

func (p *Plane) relayOrdinary(sender *session.Session, video bool, packet []byte) {
	p.switchboard.RLock()
	recipients := p.switchboard.MediaRecipientsFor(sender)
	p.switchboard.RUnlock()

	for _, recipient := range recipients {
		p.logRelayErr(recipient, p.callbacks.RelayRTCP(recipient.Handle, video, packet))
	}
}

func (p *Plane) handlePLI(sender *session.Session) {
	p.switchboard.RLock()
	publisher, ok := p.switchboard.MediaSendersTo(sender)
	p.switchboard.RUnlock()

	if !ok {
		return
	}

	p.logRelayErr(publisher, p.callbacks.SendPLI(publisher.Handle))
}

func (p *Plane) handleFIR(sender *session.Session) {
	p.switchboard.RLock()
	publisher, ok := p.switchboard.MediaSendersTo(sender)
	p.switchboard.RUnlock()

	if !ok {
		return
	}

	packet, err := MarshalFIR(publisher.NextFIRSequence())
	if err != nil {
		logrus.WithError(err).Error("forwarding: failed to marshal generated FIR")
		return
	}

	p.logRelayErr(publisher, p.callbacks.RelayRTCP(publisher.Handle, true, packet))
}

// MarshalFIR builds a full-intra-request RTCP packet carrying
// sequenceNumber, used both on the hot path (above) and by the
// dispatcher's unblock handler, which also needs to request a keyframe
// refresh outside of any RTCP packet it received.
func MarshalFIR(sequenceNumber int32) ([]byte, error) {
	fir := &rtcp.FullIntraRequest{
		FIR: []rtcp.FIREntry{{SSRC: 0, SequenceNumber: uint8(sequenceNumber)}},
	}

	return fir.Marshal()
}

// RelayData forwards a data-channel payload from sender to every room
// cohabitant entitled to receive it.
func (p *Plane) RelayData(sender *session.Session, payload []byte) {
	p.switchboard.RLock()
	recipients := p.switchboard.DataRecipientsFor(sender)
	p.switchboard.RUnlock()

	for _, recipient := range recipients {
		p.logRelayErr(recipient, p.callbacks.RelayData(recipient.Handle, payload))
	}
}

func (p *Plane) logRelayErr(target *session.Session, err error) {
	if err == nil {
		return
	}

	if errors.Is(err, gateway.ErrSessionNotFound) {
		return
	}

	logrus.WithError(err).WithField("handle", target.Handle).Error("forwarding: relay failed")
}
