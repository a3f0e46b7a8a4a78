package sipphone

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
)

// audioFormats are the payload types we offer: PCMU, PCMA, and
// telephone-event for RFC 2833 DTMF.
var audioFormats = []string{"0", "8", "101"}

// buildOffer marshals the SDP offer for an outbound INVITE.
func (p *Phone) buildOffer() []byte {
	return p.buildSessionDescription()
}

// buildAnswer marshals the SDP answer for a 200 OK. The peer's offer is
// parsed only to confirm it carries audio; codec negotiation beyond the
// static payload types is not attempted.
func (p *Phone) buildAnswer(offer []byte) []byte {
	if len(offer) > 0 {
		if _, _, err := parseRemoteMedia(offer); err != nil {
			p.logger.Warn("ignoring unparseable sdp offer", "error", err)
		}
	}
	return p.buildSessionDescription()
}

func (p *Phone) buildSessionDescription() []byte {
	sessionID := uint64(time.Now().Unix())
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "dialcore",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.cfg.MediaAddr,
		},
		SessionName: "dialcore",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address: &sdp.Address{
				Address: p.cfg.MediaAddr,
			},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{StartTime: 0, StopTime: 0},
			},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: p.cfg.MediaPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: audioFormats,
				},
				Attributes: audioAttributes(audioFormats),
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		p.logger.Error("failed to marshal sdp", "error", err)
		return nil
	}
	return body
}

// audioAttributes returns rtpmap and fmtp attributes for the given
// payload types.
func audioAttributes(formats []string) []sdp.Attribute {
	rtpmaps := map[string]string{
		"0":   "PCMU/8000",
		"8":   "PCMA/8000",
		"101": "telephone-event/8000",
	}

	var attrs []sdp.Attribute
	for _, format := range formats {
		if rtpmap, ok := rtpmaps[format]; ok {
			attrs = append(attrs, sdp.Attribute{
				Key:   "rtpmap",
				Value: format + " " + rtpmap,
			})
		}
	}
	for _, format := range formats {
		if format == "101" {
			attrs = append(attrs, sdp.Attribute{
				Key:   "fmtp",
				Value: "101 0-15",
			})
		}
	}
	attrs = append(attrs, sdp.Attribute{Key: "ptime", Value: "20"})
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})
	return attrs
}

// parseRemoteMedia extracts the peer's audio address and port from an
// SDP body.
func parseRemoteMedia(body []byte) (string, int, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return "", 0, fmt.Errorf("unmarshaling sdp: %w", err)
	}

	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}

	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media != "audio" {
			continue
		}
		if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
			addr = media.ConnectionInformation.Address.Address
		}
		if addr == "" {
			return "", 0, fmt.Errorf("sdp has no connection address")
		}
		return addr, media.MediaName.Port.Value, nil
	}
	return "", 0, fmt.Errorf("sdp has no audio media, %d media sections", len(desc.MediaDescriptions))
}
