// Package sdpneg implements the plugin's fixed SDP negotiation policy:
// every publisher offer is answered with a recvonly Opus/H.264
// description, and a single sendonly "subscriber offer" is derived
// from it for every viewer of that publisher. There is no codec
// negotiation beyond extracting the payload-type numbers the client
// already chose; the codec set itself is fixed.
package sdpneg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	opusClockRate = 48000
	opusChannels  = 2

	// Fallback payload-type numbers used when an offer doesn't declare
	// its own, so the negotiated answer is still well-formed.
	defaultOpusPT = 111
	defaultH264PT = 106

	h264ProfileLevelID = "42e01f"
	opusFmtp           = "stereo=0;sprop-stereo=0;usedtx=1"
)

// ErrNoOpusMedia is returned when a publisher offer contains no audio
// media section at all (not merely missing an Opus rtpmap).
var ErrNoOpusMedia = errors.New("sdpneg: offer has no audio media section")

// ErrNoVideoMedia is returned when a publisher offer contains no video
// media section at all.
var ErrNoVideoMedia = errors.New("sdpneg: offer has no video media section")

// Negotiator applies the plugin's fixed codec policy. It carries no
// state of its own; the resulting subscriber offer is stored on the
// session by the caller.
type Negotiator struct{}

// New returns a stateless Negotiator.
func New() *Negotiator {
	return &Negotiator{}
}

// Result is what ProcessOffer produces: the answer to hand back to the
// publisher, and the subscriber offer to store on its session (and
// push to any existing subscribers as a renegotiation).
type Result struct {
	Answer          string
	SubscriberOffer string
	AudioPT         uint8
	VideoPT         uint8
}

// ProcessOffer negotiates a publisher's JSEP offer per the plugin's
// fixed Opus/H.264 policy and derives the canonical subscriber offer
// from the resulting payload types.
func (n *Negotiator) ProcessOffer(offerSDP string) (Result, error) {
	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal([]byte(offerSDP)); err != nil {
		return Result{}, fmt.Errorf("sdpneg: parse offer: %w", err)
	}

	audioMedia := findMedia(offer, "audio")
	if audioMedia == nil {
		return Result{}, ErrNoOpusMedia
	}

	videoMedia := findMedia(offer, "video")
	if videoMedia == nil {
		return Result{}, ErrNoVideoMedia
	}

	audioPT := findPayloadType(audioMedia, "opus", defaultOpusPT)
	videoPT := findPayloadType(videoMedia, "h264", defaultH264PT)

	answer := buildAnswer(offer.Origin, audioPT, videoPT)
	subOffer := buildSubscriberOffer(offer.Origin, audioPT, videoPT)

	answerBytes, err := answer.Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("sdpneg: marshal answer: %w", err)
	}

	subOfferBytes, err := subOffer.Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("sdpneg: marshal subscriber offer: %w", err)
	}

	return Result{
		Answer:          string(answerBytes),
		SubscriberOffer: string(subOfferBytes),
		AudioPT:         audioPT,
		VideoPT:         videoPT,
	}, nil
}

// ProcessAnswer acknowledges a subscriber's answer to a subscriber
// offer we previously sent. It only validates that the answer parses;
// no session state changes as a result.
func (n *Negotiator) ProcessAnswer(answerSDP string) error {
	answer := &sdp.SessionDescription{}
	if err := answer.Unmarshal([]byte(answerSDP)); err != nil {
		return fmt.Errorf("sdpneg: parse answer: %w", err)
	}

	return nil
}

func findMedia(desc *sdp.SessionDescription, kind string) *sdp.MediaDescription {
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == kind {
			return m
		}
	}

	return nil
}

// findPayloadType scans a media section's rtpmap attributes for the
// named codec (case-insensitively) and returns its payload type,
// falling back to fallback if the offer didn't declare one.
func findPayloadType(media *sdp.MediaDescription, codecName string, fallback uint8) uint8 {
	for _, attr := range media.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}

		fields := strings.SplitN(attr.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}

		if !strings.HasPrefix(strings.ToLower(fields[1]), codecName) {
			continue
		}

		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}

		return uint8(pt)
	}

	return fallback
}

func originWithFreshVersion(origin sdp.Origin) sdp.Origin {
	o := origin
	o.SessionVersion++

	return o
}

func timeDescriptions() []sdp.TimeDescription {
	return []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}}
}

func buildAnswer(origin sdp.Origin, audioPT, videoPT uint8) *sdp.SessionDescription {
	desc := &sdp.SessionDescription{
		Version:          0,
		Origin:           originWithFreshVersion(origin),
		SessionName:      "sfu-plugin",
		TimeDescriptions: timeDescriptions(),
		Attributes: []sdp.Attribute{
			{Key: "group", Value: "BUNDLE 0 1"},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			audioSection(audioPT, "recvonly", "0"),
			videoSection(videoPT, "recvonly", "1"),
		},
	}

	return desc
}

func buildSubscriberOffer(origin sdp.Origin, audioPT, videoPT uint8) *sdp.SessionDescription {
	desc := &sdp.SessionDescription{
		Version:          0,
		Origin:           originWithFreshVersion(origin),
		SessionName:      "sfu-plugin",
		TimeDescriptions: timeDescriptions(),
		Attributes: []sdp.Attribute{
			{Key: "group", Value: "BUNDLE 0 1 2"},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			audioSection(audioPT, "sendonly", "0"),
			videoSection(videoPT, "sendonly", "1"),
			dataSection("2"),
		},
	}

	return desc
}

func audioSection(pt uint8, direction, mid string) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: 9},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: []string{strconv.Itoa(int(pt))},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		Attributes: []sdp.Attribute{
			{Key: "mid", Value: mid},
			{Key: direction},
			{Key: "rtpmap", Value: fmt.Sprintf("%d opus/%d/%d", pt, opusClockRate, opusChannels)},
			{Key: "fmtp", Value: fmt.Sprintf("%d %s", pt, opusFmtp)},
		},
	}
}

func videoSection(pt uint8, direction, mid string) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "video",
			Port:    sdp.RangedPort{Value: 9},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: []string{strconv.Itoa(int(pt))},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		Attributes: []sdp.Attribute{
			{Key: "mid", Value: mid},
			{Key: direction},
			{Key: "rtpmap", Value: fmt.Sprintf("%d H264/90000", pt)},
			{Key: "fmtp", Value: fmt.Sprintf("%d profile-level-id=%s;packetization-mode=1", pt, h264ProfileLevelID)},
		},
	}
}

func dataSection(mid string) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "application",
			Port:    sdp.RangedPort{Value: 9},
			Protos:  []string{"UDP", "DTLS", "SCTP"},
			Formats: []string{"webrtc-datachannel"},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		Attributes: []sdp.Attribute{
			{Key: "mid", Value: mid},
			{Key: "sctp-port", Value: "5000"},
		},
	}
}
