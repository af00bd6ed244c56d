// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package discovery implements the SAP discovery loop (component H) and
// the liveness reaper (component I), both owned by the main context.
package discovery

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/silentwave/rtprecv/sap"
)

// Handler is what the discovery loop needs from the owning module: the
// three registry-mutating operations a SAP datagram can trigger.
type Handler interface {
	// RefreshIfExists reports whether origin already has a live session,
	// and updates its liveness timestamp as a side effect when it does
	// (the "refresh" path never recreates resources, per the idempotent
	// SAP refresh law).
	RefreshIfExists(origin string) bool
	// Create attempts to create a new session for the announcement.
	// Implementations are responsible for the MAX_SESSIONS cap.
	Create(origin string, ann sap.Announce) error
	// Destroy tears a session down (goodbye or liveness timeout).
	Destroy(origin string)
}

// Loop reads SAP datagrams from conn and drives Handler create/refresh/
// destroy transitions. It never blocks outside of the read itself and
// never touches the I/O context's state.
type Loop struct {
	conn    net.PacketConn
	handler Handler
	log     zerolog.Logger
	bufSize int
}

// NewLoop constructs a discovery loop reading SAP datagrams from conn.
func NewLoop(conn net.PacketConn, handler Handler, log zerolog.Logger) *Loop {
	return &Loop{conn: conn, handler: handler, log: log, bufSize: 65536}
}

// Run reads until conn is closed or ctx-like cancellation closes it from
// outside (the loop itself takes no context, mirroring the teacher's
// "server owns its own lifetime, callers close the socket to stop it"
// idiom).
func (l *Loop) Run() error {
	buf := make([]byte, l.bufSize)
	for {
		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		l.handleDatagram(buf[:n])
	}
}

func (l *Loop) handleDatagram(buf []byte) {
	ann, err := sap.DecodeAnnounce(buf)
	if err != nil {
		l.log.Debug().Err(err).Msg("dropping malformed SAP datagram")
		return
	}

	origin := sap.OriginKey(ann.SDP)

	if ann.Goodbye {
		l.handler.Destroy(origin)
		return
	}

	if l.handler.RefreshIfExists(origin) {
		return
	}

	if err := l.handler.Create(origin, ann); err != nil {
		l.log.Warn().Err(err).Str("origin", origin).Msg("dropping announcement: session creation failed")
	}
}

// Reaper periodically destroys sessions whose last activity is older
// than DeathTimeout.
type Reaper struct {
	interval time.Duration
	list     func() []ReaperEntry
	destroy  func(origin string)
	log      zerolog.Logger

	stop chan struct{}
}

// ReaperEntry is the minimal view the reaper needs of a live session.
type ReaperEntry struct {
	Origin          string
	LastActivitySec int64
}

// NewReaper constructs a reaper that sweeps every interval.
func NewReaper(interval time.Duration, list func() []ReaperEntry, destroy func(origin string), log zerolog.Logger) *Reaper {
	return &Reaper{interval: interval, list: list, destroy: destroy, log: log, stop: make(chan struct{})}
}

// Run blocks, sweeping every r.interval until Stop is called.
func (r *Reaper) Run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Reaper) sweep(now time.Time) {
	cutoff := now.Unix() - int64(r.interval.Seconds())
	for _, e := range r.list() {
		if e.LastActivitySec < cutoff {
			r.log.Info().Str("origin", e.Origin).Msg("liveness expired, destroying session")
			r.destroy(e.Origin)
		}
	}
}

// Stop halts Run's sweep loop.
func (r *Reaper) Stop() {
	close(r.stop)
}
