// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 rtprecv contributors

// Package rtprecv wires the SAP discovery loop, session registry,
// liveness reaper, and per-session RTP ingest into a single loadable
// module, mirroring how the teacher's Endpoint assembles a SIP
// transaction user from its constituent pieces.
package rtprecv

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/silentwave/rtprecv/args"
	"github.com/silentwave/rtprecv/discovery"
	"github.com/silentwave/rtprecv/mcast"
	"github.com/silentwave/rtprecv/metrics"
	"github.com/silentwave/rtprecv/registry"
	"github.com/silentwave/rtprecv/rtcpreport"
	"github.com/silentwave/rtprecv/rtpcodec"
	"github.com/silentwave/rtprecv/sap"
	"github.com/silentwave/rtprecv/session"
	"github.com/silentwave/rtprecv/sink"
)

// DefaultIntendedLatencyUs is the default target queue fill applied to a
// newly created session before the sink's reported latency clamps it.
const DefaultIntendedLatencyUs = 500_000

// SinkFactory opens the host sink a newly created session should attach
// to. It is supplied by the embedding host (the "host audio mixing
// engine" external collaborator from spec §1).
type SinkFactory func(origin string, spec rtpcodec.SampleSpec) (sink.Sink, error)

// liveSession pairs a Session with the resources the Module itself owns
// on its behalf: the joined multicast endpoint, the playback adapter
// (component J) attached to the host sink, the duplicated fd it was
// attached with, and the goroutine reading the endpoint.
type liveSession struct {
	sess     *session.Session
	endpoint *mcast.Endpoint
	adapter  *session.Adapter
	pollFile *os.File
	// rtcp is nil when no companion RTCP listener could be joined; the
	// receiver-report log line is an optional supplement, never a
	// session-creation requirement.
	rtcp *rtcpreport.Listener
}

func (l *liveSession) Origin() string { return l.sess.Origin() }

// Module is the loaded instance: the SAP discovery loop, the session
// registry, and the liveness reaper, bound to one sink name.
type Module struct {
	cfg     args.Config
	sinkNew SinkFactory
	metrics *metrics.Metrics
	log     zerolog.Logger

	cookie uint32 // local process "loop detection" cookie

	mu       sync.Mutex
	reg      *registry.Registry[*liveSession]
	sapEP    *mcast.Endpoint
	loop     *discovery.Loop
	reaper   *discovery.Reaper
	loopDone chan struct{}
}

// New parses rawArgs (the module's "key=value;key=value" load string),
// joins the SAP multicast group, and returns a Module ready for Start.
func New(rawArgs string, sinkNew SinkFactory, reg *metrics.Metrics, log zerolog.Logger) (*Module, error) {
	cfg, err := args.Parse(rawArgs)
	if err != nil {
		return nil, err
	}

	sapEP, err := mcast.Join(cfg.SAPAddress, args.SAPPort)
	if err != nil {
		return nil, fmt.Errorf("rtprecv: joining SAP group: %w", err)
	}

	cookie := localCookie()

	m := &Module{
		cfg:      cfg,
		sinkNew:  sinkNew,
		metrics:  reg,
		log:      log.With().Str("sink", cfg.Sink).Logger(),
		cookie:   cookie,
		reg:      registry.New[*liveSession](),
		sapEP:    sapEP,
		loopDone: make(chan struct{}),
	}

	m.loop = discovery.NewLoop(sapEP.Conn(), m, m.log)
	m.reaper = discovery.NewReaper(session.DeathTimeout, m.reaperList, m.Destroy, m.log)
	return m, nil
}

// localCookie derives a 32-bit "process cookie" compared against
// incoming SSRCs to detect a receiver looping its own stream back. A
// UUID's first four bytes give ample entropy for a per-process value
// without claiming any particular SSRC-allocation scheme.
func localCookie() uint32 {
	id := uuid.New()
	return uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
}

// Start runs the discovery loop and liveness reaper. It blocks until the
// discovery loop's socket is closed (normally by Shutdown).
func (m *Module) Start() error {
	go m.reaper.Run()
	err := m.loop.Run()
	close(m.loopDone)
	return err
}

// Shutdown tears down every live session and closes the SAP socket,
// releasing every resource the module acquired.
func (m *Module) Shutdown() {
	m.reaper.Stop()
	m.mu.Lock()
	for _, ls := range m.reg.All() {
		m.destroyLocked(ls)
	}
	m.mu.Unlock()
	m.sapEP.Close()
}

// RefreshIfExists implements discovery.Handler.
func (m *Module) RefreshIfExists(origin string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.reg.Get(origin)
	if !ok {
		return false
	}
	ls.sess.Touch(time.Now())
	return true
}

// Create implements discovery.Handler: it joins the announced RTP group,
// attaches a host sink, and starts the per-session ingest goroutine.
func (m *Module) Create(origin string, ann sap.Announce) error {
	info, err := sap.ExtractStreamInfo(ann.SDP)
	if err != nil {
		return fmt.Errorf("rtprecv: extracting stream info: %w", err)
	}

	groupIP := net.ParseIP(info.GroupAddress)
	if groupIP == nil {
		return fmt.Errorf("rtprecv: invalid group address %q", info.GroupAddress)
	}

	m.mu.Lock()
	if m.reg.Len() >= registry.MaxSessions {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.CapacityRejected.Inc()
		}
		return registry.ErrCapacity
	}
	m.mu.Unlock()

	rtpEP, err := mcast.Join(groupIP, info.Port)
	if err != nil {
		return fmt.Errorf("rtprecv: joining RTP group: %w", err)
	}

	snk, err := m.sinkNew(origin, info.SampleSpec)
	if err != nil {
		rtpEP.Close()
		return fmt.Errorf("rtprecv: opening sink: %w", err)
	}

	resampler := session.NewResampler(info.SampleSpec.RateHz, info.SampleSpec.RateHz, int(info.SampleSpec.Channels))

	sess := session.New(session.Config{
		Origin:            origin,
		SampleSpec:        info.SampleSpec,
		PayloadType:       info.PayloadType,
		IntendedLatencyUs: DefaultIntendedLatencyUs,
		LocalCookie:       m.cookie,
		Sink:              snk,
		Resampler:         resampler,
		Logger:            m.log,
	})

	// Component J: give the host sink a pull-side handle onto this
	// session's jitter queue, so something actually drains it instead of
	// it filling up and overrunning forever.
	pollFile, err := rtpEP.File()
	if err != nil {
		rtpEP.Close()
		return fmt.Errorf("rtprecv: obtaining poll fd: %w", err)
	}
	adapter := session.NewAdapter(sess, int(pollFile.Fd()), func() { m.Destroy(origin) })
	if err := adapter.Attach(snk, sink.PollIn); err != nil {
		pollFile.Close()
		rtpEP.Close()
		return fmt.Errorf("rtprecv: attaching playback adapter: %w", err)
	}

	// RTCP receiver reports are a log-only supplement (§8.1): a failure
	// to join the companion port never blocks session creation.
	var rtcpListener *rtcpreport.Listener
	if l, err := rtcpreport.Listen(groupIP, info.Port, m.log); err != nil {
		m.log.Debug().Err(err).Msg("rtcp: companion listener unavailable")
	} else {
		rtcpListener = l
		go rtcpListener.Run()
	}

	ls := &liveSession{sess: sess, endpoint: rtpEP, adapter: adapter, pollFile: pollFile, rtcp: rtcpListener}

	m.mu.Lock()
	if err := m.reg.Create(ls); err != nil {
		m.mu.Unlock()
		adapter.Detach()
		pollFile.Close()
		rtpEP.Close()
		if rtcpListener != nil {
			rtcpListener.Close()
		}
		if m.metrics != nil {
			m.metrics.CapacityRejected.Inc()
		}
		return err
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(m.reg.Len()))
	}

	go m.ingestLoop(ls)
	return nil
}

// ingestLoop is the I/O context: one goroutine per session reading its
// joined RTP socket and feeding decoded packets to the session. Go's
// idiomatic stand-in for a cooperative poll loop is a blocking-read
// goroutine per descriptor; the session's ingest method itself never
// blocks.
func (m *Module) ingestLoop(ls *liveSession) {
	buf := make([]byte, rtpBufSize)
	for {
		n, _, err := ls.endpoint.Conn().ReadFrom(buf)
		if err != nil {
			return // socket closed by Destroy/Shutdown
		}

		pkt, err := rtpcodec.Decode(buf[:n])
		if err != nil {
			if m.metrics != nil {
				m.metrics.PacketsDropped.WithLabelValues("decode").Inc()
			}
			continue
		}

		if err := ls.sess.IngestRTP(pkt, time.Now()); err != nil {
			if m.metrics != nil {
				m.metrics.PacketsDropped.WithLabelValues(dropReason(err)).Inc()
			}
		}
	}
}

const rtpBufSize = 1500

func dropReason(err error) string {
	switch {
	case errors.Is(err, session.ErrPayloadMismatch):
		return "payload_mismatch"
	case errors.Is(err, session.ErrSSRCMismatch):
		return "ssrc_mismatch"
	default:
		return "other"
	}
}

// Destroy implements discovery.Handler and is also used by the reaper
// and Shutdown.
func (m *Module) Destroy(origin string) {
	m.mu.Lock()
	ls, ok := m.reg.Get(origin)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.destroyLocked(ls)
	m.mu.Unlock()
}

// destroyLocked must be called with m.mu held.
func (m *Module) destroyLocked(ls *liveSession) {
	ls.adapter.Detach()
	ls.pollFile.Close()
	ls.endpoint.Close() // unblocks ingestLoop's ReadFrom
	if ls.rtcp != nil {
		ls.rtcp.Close() // unblocks the RTCP listener's ReadFrom
	}
	ls.sess.Close()
	m.reg.Remove(ls.Origin())
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(m.reg.Len()))
	}
}

func (m *Module) reaperList() []discovery.ReaperEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.reg.All()
	out := make([]discovery.ReaperEntry, len(all))
	for i, ls := range all {
		out[i] = discovery.ReaperEntry{Origin: ls.Origin(), LastActivitySec: ls.sess.LastActivitySec()}
	}
	return out
}

// SessionCount reports the number of currently live sessions.
func (m *Module) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.Len()
}
