package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/meshboard/sfu-plugin/pkg/auth"
	"github.com/meshboard/sfu-plugin/pkg/config"
	"github.com/meshboard/sfu-plugin/pkg/dispatcher"
	"github.com/meshboard/sfu-plugin/pkg/forwarding"
	"github.com/meshboard/sfu-plugin/pkg/identity"
	"github.com/meshboard/sfu-plugin/pkg/messages"
	"github.com/meshboard/sfu-plugin/pkg/notify"
	"github.com/meshboard/sfu-plugin/pkg/queue"
	"github.com/meshboard/sfu-plugin/pkg/sdpneg"
	"github.com/meshboard/sfu-plugin/pkg/session"
	"github.com/meshboard/sfu-plugin/pkg/switchboard"
)

// ProcessingAck is the literal text the gateway's ABI expects back from
// a successful handle_message call: the real answer follows later on
// PushEvent, once the worker pool has processed the queued task.
const ProcessingAck = "Processing."

// ErrNoHandle is returned by HandleMessage when handle is the null
// sentinel, mirroring the gateway's "No handle associated with
// message!" contract.
var ErrNoHandle = errors.New("gateway: No handle associated with message!")

// NullHandle is the sentinel the gateway uses for "no handle", carried
// over from its C ABI where a handle is a pointer.
const NullHandle identity.HandleID = 0

type task struct {
	sender      *session.Session
	transaction identity.TransactionID
	message     []byte
	jsep        []byte
}

// transactionReply is what HandleMessage's queued task eventually pushes
// back through PushEvent: the dispatcher's Response with the original
// transaction id folded back in, so the client can correlate it.
type transactionReply struct {
	Transaction identity.TransactionID `json:"transaction,omitempty"`
	messages.Response
}

// Plugin wires the routing core (switchboard, dispatcher, forwarding
// plane, notification fanout) to the host gateway's callback table. It
// is the Go-shaped equivalent of the gateway's plugin struct; a cgo
// shim outside this module is expected to drive it from the C ABI.
type Plugin struct {
	callbacks Callbacks

	switchboard *switchboard.Switchboard
	dispatcher  *dispatcher.Dispatcher
	forwarding  *forwarding.Plane
	fanout      *notify.Fanout

	cfg   *config.Config
	queue *queue.Queue[task]
}

// NewPlugin constructs a Plugin bound to callbacks. Init must be called
// before any other method.
func NewPlugin(callbacks Callbacks) *Plugin {
	return &Plugin{callbacks: callbacks}
}

// Init reads the plugin's config file from configDir, builds the
// routing core, and spawns the signalling worker pool. It is safe to
// call exactly once, before any session is created.
func (p *Plugin) Init(configDir string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("gateway: load config: %w", err)
	}

	if lvl, lvlErr := logrus.ParseLevel(cfg.LogLevel); lvlErr == nil {
		logrus.SetLevel(lvl)
	} else {
		logrus.WithError(lvlErr).Warn("gateway: unrecognized log_level, leaving default")
	}

	der, err := cfg.ReadAuthKey()
	if err != nil {
		return fmt.Errorf("gateway: read auth key: %w", err)
	}

	validator, err := auth.NewValidator(der)
	if err != nil {
		return fmt.Errorf("gateway: build auth validator: %w", err)
	}

	sb := switchboard.New()
	fanout := notify.New(p.callbacks)

	p.cfg = cfg
	p.switchboard = sb
	p.fanout = fanout
	p.forwarding = forwarding.New(sb, p.callbacks)
	p.dispatcher = dispatcher.New(sb, validator, sdpneg.New(), fanout, p.callbacks, cfg.MaxRoomSize, cfg.MaxCCU)
	p.queue = queue.New(cfg.MessageThreads, p.process)

	logrus.WithFields(logrus.Fields{
		"message_threads": cfg.MessageThreads,
		"max_room_size":   cfg.MaxRoomSize,
		"max_ccu":         cfg.MaxCCU,
		"auth_configured": validator.Configured(),
	}).Info("gateway: plugin initialized")

	return nil
}

// Destroy drains the worker pool. Called once at process shutdown.
func (p *Plugin) Destroy() {
	p.queue.Shutdown()
}

// CreateSession registers a freshly-created gateway handle.
func (p *Plugin) CreateSession(handle identity.HandleID) {
	p.switchboard.Lock()
	defer p.switchboard.Unlock()

	p.switchboard.Connect(session.New(handle))
}

// DestroySession tears handle's session down: it is removed from every
// switchboard index, and if that was a room's last trace of its user
// (no publisher or subscriber session for that user remains anywhere),
// the room's other publishers are notified with a leave event.
func (p *Plugin) DestroySession(handle identity.HandleID) {
	p.switchboard.Lock()

	s, ok := p.switchboard.Session(handle)
	if !ok {
		p.switchboard.Unlock()
		return
	}

	js, hasJoin := s.JoinState()

	p.switchboard.Disconnect(s)

	var (
		occupants    []*session.Session
		stillPresent bool
	)

	if hasJoin {
		occupants = p.switchboard.PublishersOccupying(js.RoomID)
		stillPresent = p.switchboard.IsConnected(js.UserID)
	}

	p.switchboard.Unlock()

	s.MarkDestroyed()

	if hasJoin && !stillPresent {
		p.fanout.NotifyExcept(messages.LeaveEvent(js.UserID, js.RoomID), js.UserID, occupants)
	}
}

// HandleMessage enqueues handle's signalling message for asynchronous
// processing and returns immediately with the gateway's "processing"
// acknowledgement. The real reply is delivered later via PushEvent,
// tagged with transaction so the client can correlate it.
func (p *Plugin) HandleMessage(handle identity.HandleID, transaction identity.TransactionID, messageJSON, jsepJSON []byte) (string, error) {
	if handle == NullHandle {
		return "", ErrNoHandle
	}

	p.switchboard.RLock()
	sender, ok := p.switchboard.Session(handle)
	p.switchboard.RUnlock()

	if !ok {
		return "", ErrNoHandle
	}

	t := task{sender: sender, transaction: transaction, message: messageJSON, jsep: jsepJSON}

	if err := p.queue.Enqueue(t); err != nil {
		return "", fmt.Errorf("gateway: enqueue message: %w", err)
	}

	return ProcessingAck, nil
}

func (p *Plugin) process(t task) {
	resp, jsep := p.dispatcher.Process(context.Background(), t.sender, t.message, t.jsep)
	if resp == nil {
		return
	}

	reply := transactionReply{Transaction: t.transaction, Response: *resp}

	body, err := json.Marshal(reply)
	if err != nil {
		logrus.WithError(err).Error("gateway: failed to marshal queued reply")
		return
	}

	var jsepBytes []byte

	if jsep != nil {
		jsepBytes, err = json.Marshal(jsep)
		if err != nil {
			logrus.WithError(err).Error("gateway: failed to marshal queued reply's jsep")
			return
		}
	}

	if err := p.callbacks.PushEvent(t.sender.Handle, body, jsepBytes); err != nil && !errors.Is(err, ErrSessionNotFound) {
		logrus.WithError(err).WithField("handle", t.sender.Handle).Error("gateway: failed to push queued reply")
	}
}

// SetupMedia fires once media starts flowing for handle: every
// publisher whose media handle is entitled to receive gets a FIR, so
// the first frames it forwards are a fresh keyframe.
func (p *Plugin) SetupMedia(handle identity.HandleID) {
	p.switchboard.RLock()
	s, ok := p.switchboard.Session(handle)

	if !ok {
		p.switchboard.RUnlock()
		return
	}

	publisher, hasPublisher := p.switchboard.MediaSendersTo(s)
	p.switchboard.RUnlock()

	if !hasPublisher {
		return
	}

	packet, err := forwarding.MarshalFIR(publisher.NextFIRSequence())
	if err != nil {
		logrus.WithError(err).Error("gateway: failed to marshal FIR for setup_media")
		return
	}

	if err := p.callbacks.RelayRTCP(publisher.Handle, true, packet); err != nil && !errors.Is(err, ErrSessionNotFound) {
		logrus.WithError(err).WithField("handle", publisher.Handle).Error("gateway: failed to send setup_media FIR")
	}
}

// IncomingRTP relays a decrypted RTP packet from handle's session.
func (p *Plugin) IncomingRTP(handle identity.HandleID, video bool, packet []byte) {
	s, ok := p.lookup(handle)
	if !ok {
		return
	}

	p.forwarding.RelayRTP(s, video, packet)
}

// IncomingRTCP relays or interprets an RTCP packet from handle's session.
func (p *Plugin) IncomingRTCP(handle identity.HandleID, video bool, packet []byte) {
	s, ok := p.lookup(handle)
	if !ok {
		return
	}

	p.forwarding.RelayRTCP(s, video, packet)
}

// IncomingData relays a data-channel payload from handle's session.
func (p *Plugin) IncomingData(handle identity.HandleID, payload []byte) {
	s, ok := p.lookup(handle)
	if !ok {
		return
	}

	p.forwarding.RelayData(s, payload)
}

func (p *Plugin) lookup(handle identity.HandleID) (*session.Session, bool) {
	p.switchboard.RLock()
	defer p.switchboard.RUnlock()

	return p.switchboard.Session(handle)
}

// SlowLink logs a gateway-reported slow-link condition. Nothing in the
// routing core reacts to it.
func (p *Plugin) SlowLink(handle identity.HandleID, uplink, video bool) {
	logrus.WithFields(logrus.Fields{
		"handle": handle, "uplink": uplink, "video": video,
	}).Warn("gateway: slow link reported")
}

// HangupMedia logs a gateway-reported media hangup. Session teardown is
// always driven by DestroySession, not this callback.
func (p *Plugin) HangupMedia(handle identity.HandleID) {
	logrus.WithField("handle", handle).Info("gateway: media hung up")
}

// QuerySession is reserved; it always answers with an empty object.
func (p *Plugin) QuerySession(identity.HandleID) json.RawMessage {
	return json.RawMessage("{}")
}

// HandleAdminMessage is reserved; it always answers with an empty object.
func (p *Plugin) HandleAdminMessage(json.RawMessage) json.RawMessage {
	return json.RawMessage("{}")
}
