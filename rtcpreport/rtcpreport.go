// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package rtcpreport reads RTCP receiver/sender reports on the
// rtp_port+1 companion socket (mirroring the teacher's
// MediaSession.listenRTPandRTCP pairing) purely to log loss-rate and
// jitter; it never feeds ingest or retune control logic, keeping the
// "no FEC/retransmit" non-goal intact.
package rtcpreport

import (
	"net"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog"

	"github.com/silentwave/rtprecv/mcast"
)

// Listener reads RTCP packets arriving on a group's rtp_port+1 and logs
// receiver-report loss/jitter fields.
type Listener struct {
	ep  *mcast.Endpoint
	log zerolog.Logger
}

// Listen joins the given multicast group on port+1. Per spec this
// feature is optional: callers that fail to join (e.g. no companion
// RTCP traffic is ever sent for this session) should log and continue
// without an RTCP listener rather than failing session creation.
func Listen(group net.IP, rtpPort int, log zerolog.Logger) (*Listener, error) {
	ep, err := mcast.Join(group, rtpPort+1)
	if err != nil {
		return nil, err
	}
	return &Listener{ep: ep, log: log}, nil
}

// Run reads RTCP packets until the socket is closed. Intended to be run
// in its own goroutine, one per session, alongside the RTP ingest loop.
func (l *Listener) Run() {
	buf := make([]byte, rtcpBufSize)
	for {
		n, _, err := l.ep.Conn().ReadFrom(buf)
		if err != nil {
			return // socket closed by Close
		}

		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			l.log.Debug().Err(err).Msg("rtcpreport: unmarshal failed")
			continue
		}
		for _, pkt := range pkts {
			l.logPacket(pkt)
		}
	}
}

func (l *Listener) logPacket(pkt rtcp.Packet) {
	switch r := pkt.(type) {
	case *rtcp.ReceiverReport:
		for _, rb := range r.Reports {
			l.log.Info().
				Uint32("ssrc", rb.SSRC).
				Uint8("fraction_lost", rb.FractionLost).
				Uint32("total_lost", rb.TotalLost).
				Uint32("jitter", rb.Jitter).
				Msg("rtcp receiver report")
		}
	case *rtcp.SenderReport:
		for _, rb := range r.Reports {
			l.log.Info().
				Uint32("ssrc", rb.SSRC).
				Uint8("fraction_lost", rb.FractionLost).
				Uint32("total_lost", rb.TotalLost).
				Uint32("jitter", rb.Jitter).
				Msg("rtcp sender report")
		}
	}
}

// Close stops Run by closing the underlying socket.
func (l *Listener) Close() error {
	return l.ep.Close()
}

const rtcpBufSize = 1500
