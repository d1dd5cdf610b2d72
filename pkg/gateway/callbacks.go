// Package gateway is the boundary between this plugin's Go routing
// core and the host SFU gateway's C ABI. It never touches cgo itself —
// that shim lives outside this module — but it defines the Go-shaped
// contract a cgo adapter is expected to satisfy, and the Plugin type
// that the adapter drives.
package gateway

import (
	"errors"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

// ErrSessionNotFound corresponds to the gateway's error code 458. Every
// fan-out path MUST treat it as "skip this recipient", not a failure to
// log or retry.
var ErrSessionNotFound = errors.New("gateway: session not found")

// Callbacks is the Go shape of the gateway's function-pointer table.
// An implementation backs every method with the real cgo call into the
// host process; a fake implementation backs it with an in-memory
// recorder for tests.
type Callbacks interface {
	// RelayRTP forwards a decrypted RTP packet to handle. video
	// distinguishes the audio/video m-line it targets.
	RelayRTP(handle identity.HandleID, video bool, packet []byte) error
	// RelayRTCP forwards an RTCP packet to handle.
	RelayRTCP(handle identity.HandleID, video bool, packet []byte) error
	// RelayData forwards a data-channel payload to handle.
	RelayData(handle identity.HandleID, payload []byte) error
	// SendPLI asks handle's publisher for a keyframe refresh.
	SendPLI(handle identity.HandleID) error
	// PushEvent delivers a signalling message (and optional JSEP) to
	// handle, outside of any synchronous reply.
	PushEvent(handle identity.HandleID, body []byte, jsep []byte) error
	// EndSession tears handle's connection down from the plugin side,
	// e.g. in response to a kick.
	EndSession(handle identity.HandleID) error
}
