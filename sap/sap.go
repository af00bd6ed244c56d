// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package sap decodes Session Announcement Protocol datagrams (RFC 2974)
// and the SDP bodies they carry (component C). The outer SAP envelope is
// hand-rolled (no corpus dependency speaks SAP); the SDP body is handed
// to github.com/pion/sdp/v3.
package sap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/pion/sdp/v3"
)

// DecodeError wraps any malformed SAP/SDP input, per the error handling
// design's "drop the packet silently" disposition.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "sap: decode: " + e.Reason }

// Announce is the decoded shape the discovery loop consumes.
type Announce struct {
	Goodbye bool
	Origin  net.IP
	SDP     sdp.SessionDescription
}

const (
	flagVersionMask = 0xE0
	flagGoodbye     = 0x04 // "T" (message type) bit
	flagIPv6        = 0x10 // "A" (address type) bit
	flagEncrypted   = 0x02
	flagCompressed  = 0x01
)

// DecodeAnnounce parses one SAP datagram. Encrypted or compressed
// announcements are rejected (this receiver implements neither); any
// structurally malformed input returns a *DecodeError.
func DecodeAnnounce(buf []byte) (Announce, error) {
	if len(buf) < 8 {
		return Announce{}, &DecodeError{Reason: "short header"}
	}

	flags := buf[0]
	if flags&flagEncrypted != 0 {
		return Announce{}, &DecodeError{Reason: "encrypted announcements unsupported"}
	}
	if flags&flagCompressed != 0 {
		return Announce{}, &DecodeError{Reason: "compressed announcements unsupported"}
	}

	authLen := int(buf[1])
	_ = binary.BigEndian.Uint16(buf[2:4]) // msg id hash, unused beyond framing

	offset := 4
	var origin net.IP
	if flags&flagIPv6 != 0 {
		if len(buf) < offset+16 {
			return Announce{}, &DecodeError{Reason: "short ipv6 origin"}
		}
		origin = net.IP(buf[offset : offset+16])
		offset += 16
	} else {
		if len(buf) < offset+4 {
			return Announce{}, &DecodeError{Reason: "short ipv4 origin"}
		}
		origin = net.IP(buf[offset : offset+4])
		offset += 4
	}

	if len(buf) < offset+authLen {
		return Announce{}, &DecodeError{Reason: "short auth data"}
	}
	offset += authLen

	if offset >= len(buf) {
		return Announce{}, &DecodeError{Reason: "no payload"}
	}

	payload := buf[offset:]
	// An optional payload-type MIME token ("application/sdp\0") may
	// precede the body; skip it if present.
	if i := bytes.IndexByte(payload, 0); i >= 0 && i < 64 {
		payload = payload[i+1:]
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal(payload); err != nil {
		return Announce{}, &DecodeError{Reason: fmt.Sprintf("sdp unmarshal: %v", err)}
	}

	return Announce{
		Goodbye: flags&flagGoodbye != 0,
		Origin:  origin,
		SDP:     desc,
	}, nil
}
