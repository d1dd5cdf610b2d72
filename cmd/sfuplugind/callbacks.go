package main

import (
	"github.com/sirupsen/logrus"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

// gatewayCallbacks is the harness's stand-in for the real gateway's
// function-pointer table: every call that would normally cross into
// the host process is just logged, which is enough to watch the
// routing core's decisions without a real WebRTC transport attached.
type gatewayCallbacks struct{}

func (gatewayCallbacks) RelayRTP(handle identity.HandleID, video bool, packet []byte) error {
	logrus.WithFields(logrus.Fields{"handle": handle, "video": video, "bytes": len(packet)}).Trace("relay rtp")
	return nil
}

func (gatewayCallbacks) RelayRTCP(handle identity.HandleID, video bool, packet []byte) error {
	logrus.WithFields(logrus.Fields{"handle": handle, "video": video, "bytes": len(packet)}).Trace("relay rtcp")
	return nil
}

func (gatewayCallbacks) RelayData(handle identity.HandleID, payload []byte) error {
	logrus.WithFields(logrus.Fields{"handle": handle, "bytes": len(payload)}).Trace("relay data")
	return nil
}

func (gatewayCallbacks) SendPLI(handle identity.HandleID) error {
	logrus.WithField("handle", handle).Trace("send pli")
	return nil
}

func (gatewayCallbacks) PushEvent(handle identity.HandleID, body []byte, jsep []byte) error {
	logrus.WithFields(logrus.Fields{"handle": handle, "body": string(body)}).Info("push event")
	return nil
}

func (gatewayCallbacks) EndSession(handle identity.HandleID) error {
	logrus.WithField("handle", handle).Info("end session")
	return nil
}
