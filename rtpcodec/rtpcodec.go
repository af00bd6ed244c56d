// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package rtpcodec decodes individual RTP datagrams and tracks the
// per-session sample format declared by SDP.
//
// It plays the role of component B in the receiver design: parsing is
// delegated entirely to github.com/pion/rtp, this package only extracts
// the fields the ingest path needs and keeps a small amount of
// per-session bookkeeping (extended sequence numbers, sample format).
package rtpcodec

import (
	"fmt"

	"github.com/pion/rtp"
)

// Packet is the decoded shape the session ingest path consumes.
type Packet struct {
	SSRC           uint32
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	Payload        []byte
}

// Decode parses one RTP datagram. The returned Packet's Payload aliases
// buf; callers that retain it across the next Decode call must copy it.
func Decode(buf []byte) (Packet, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return Packet{}, fmt.Errorf("rtpcodec: unmarshal: %w", err)
	}
	if len(pkt.Payload) == 0 {
		return Packet{}, fmt.Errorf("rtpcodec: zero-length payload")
	}
	return Packet{
		SSRC:           pkt.SSRC,
		PayloadType:    pkt.PayloadType,
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		Payload:        pkt.Payload,
	}, nil
}

// SampleFormat enumerates the PCM encodings SDP can declare.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatL16
	FormatULaw
	FormatALaw
)

// SampleSpec is the sample-rate/channel/format triple SDP declares for a
// session, frozen at session creation per the data model.
type SampleSpec struct {
	RateHz   uint32
	Channels uint8
	Format   SampleFormat
}

// BytesPerFrame returns the number of bytes one audio frame (one sample
// per channel) occupies in the wire payload.
func (s SampleSpec) BytesPerFrame() int {
	bytesPerSample := 1
	if s.Format == FormatL16 {
		bytesPerSample = 2
	}
	return bytesPerSample * int(s.Channels)
}

// BytesToMicros converts a byte count in this sample spec to a duration
// in whole microseconds, rounding down to a whole frame, used when translating byte-indexed queue offsets to
// microsecond latency figures.
func (s SampleSpec) BytesToMicros(n int64) int64 {
	bpf := s.BytesPerFrame()
	if bpf == 0 || s.RateHz == 0 {
		return 0
	}
	frames := n / int64(bpf)
	return frames * 1_000_000 / int64(s.RateHz)
}

// MicrosToBytes is the inverse of BytesToMicros, rounding down to a whole
// frame.
func (s SampleSpec) MicrosToBytes(us int64) int64 {
	bpf := s.BytesPerFrame()
	frames := us * int64(s.RateHz) / 1_000_000
	return frames * int64(bpf)
}
