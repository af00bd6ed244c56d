// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

package sap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/silentwave/rtprecv/rtpcodec"
)

// OriginKey extracts the textual key used as a session's identity: the
// SDP o= line, which is unique per announced session for a sender's
// lifetime. Identical origin = same session (refresh); different origin
// = new session.
func OriginKey(desc sdp.SessionDescription) string {
	o := desc.Origin
	return fmt.Sprintf("%s %d %d %s %s %s",
		o.Username, o.SessionID, o.SessionVersion, o.NetworkType, o.AddressType, o.UnicastAddress)
}

// StreamInfo is what the discovery loop needs to create a Session: the
// RTP group/port to join and the sample spec/payload type SDP declared.
type StreamInfo struct {
	GroupAddress string
	Port         int
	PayloadType  uint8
	SampleSpec   rtpcodec.SampleSpec
	SessionName  string
}

// ExtractStreamInfo reads the first audio media description out of an
// SDP body, per the data model's "sample_spec declared by SDP, frozen at
// creation."
func ExtractStreamInfo(desc sdp.SessionDescription) (StreamInfo, error) {
	var audio *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			audio = md
			break
		}
	}
	if audio == nil {
		return StreamInfo{}, &DecodeError{Reason: "no audio media description"}
	}
	if len(audio.MediaName.Formats) == 0 {
		return StreamInfo{}, &DecodeError{Reason: "no payload format"}
	}

	pt, err := strconv.Atoi(audio.MediaName.Formats[0])
	if err != nil || pt < 0 || pt > 127 {
		return StreamInfo{}, &DecodeError{Reason: "invalid payload type"}
	}

	addr := ""
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		addr = audio.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}
	if addr == "" {
		return StreamInfo{}, &DecodeError{Reason: "no connection address"}
	}

	spec := staticSampleSpec(uint8(pt))
	for _, attr := range audio.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		if parsed, ok := parseRtpmap(attr.Value, uint8(pt)); ok {
			spec = parsed
		}
	}

	return StreamInfo{
		GroupAddress: addr,
		Port:         audio.MediaName.Port.Value,
		PayloadType:  uint8(pt),
		SampleSpec:   spec,
		SessionName:  string(desc.SessionName),
	}, nil
}

// staticSampleSpec covers the statically assigned RTP/AVP payload types
// (RFC 3551) that never carry an rtpmap attribute.
func staticSampleSpec(pt uint8) rtpcodec.SampleSpec {
	switch pt {
	case 0:
		return rtpcodec.SampleSpec{RateHz: 8000, Channels: 1, Format: rtpcodec.FormatULaw}
	case 8:
		return rtpcodec.SampleSpec{RateHz: 8000, Channels: 1, Format: rtpcodec.FormatALaw}
	case 10:
		return rtpcodec.SampleSpec{RateHz: 44100, Channels: 2, Format: rtpcodec.FormatL16}
	case 11:
		return rtpcodec.SampleSpec{RateHz: 44100, Channels: 1, Format: rtpcodec.FormatL16}
	default:
		return rtpcodec.SampleSpec{RateHz: 8000, Channels: 1, Format: rtpcodec.FormatUnknown}
	}
}

// parseRtpmap reads "<payload> <encoding>/<rate>[/<channels>]" as
// declared by RFC 4566 section 6.
func parseRtpmap(value string, expectPT uint8) (rtpcodec.SampleSpec, bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return rtpcodec.SampleSpec{}, false
	}
	if pt, err := strconv.Atoi(fields[0]); err != nil || uint8(pt) != expectPT {
		return rtpcodec.SampleSpec{}, false
	}

	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return rtpcodec.SampleSpec{}, false
	}

	rate, err := strconv.Atoi(parts[1])
	if err != nil {
		return rtpcodec.SampleSpec{}, false
	}

	channels := 1
	if len(parts) == 3 {
		if c, err := strconv.Atoi(parts[2]); err == nil {
			channels = c
		}
	}

	format := rtpcodec.FormatUnknown
	switch strings.ToUpper(parts[0]) {
	case "L16":
		format = rtpcodec.FormatL16
	case "PCMU":
		format = rtpcodec.FormatULaw
	case "PCMA":
		format = rtpcodec.FormatALaw
	}

	return rtpcodec.SampleSpec{
		RateHz:   uint32(rate),
		Channels: uint8(channels),
		Format:   format,
	}, true
}
