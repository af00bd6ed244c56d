// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package session implements the per-stream RTP ingest path and
// clock-drift compensator (component F), and the playback adapter bridge
// to the host sink (component J).
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/silentwave/rtprecv/drift"
	"github.com/silentwave/rtprecv/jitterqueue"
	"github.com/silentwave/rtprecv/rtpcodec"
	"github.com/silentwave/rtprecv/sink"
)

// RateUpdateInterval gates how often the periodic rate retune runs.
const RateUpdateInterval = 5 * time.Second

// DeathTimeout is how long a session tolerates silence before the
// liveness reaper destroys it.
const DeathTimeout = 20 * time.Second

// MaxRateFixFraction bounds the retune's correction: a computed fix
// larger than this fraction of the current rate is considered a bad
// measurement and skipped.
const MaxRateFixFraction = 0.20

var (
	// ErrPayloadMismatch is returned (and the packet dropped) when an
	// RTP packet's payload type does not match the session's.
	ErrPayloadMismatch = errors.New("session: payload type mismatch")
	// ErrSSRCMismatch is returned when a non-first packet's SSRC does
	// not match the latched one.
	ErrSSRCMismatch = errors.New("session: ssrc mismatch")
)

// Config describes a session at creation time, frozen for its lifetime.
type Config struct {
	Origin      string
	SampleSpec  rtpcodec.SampleSpec
	PayloadType uint8
	// IntendedLatencyUs is the target queue fill the drift compensator
	// holds; it is clamped to >= 2x the sink's reported latency once known.
	IntendedLatencyUs int64
	// LocalCookie is this process's own SSRC-shaped identifier, used
	// to detect a receiver accidentally looping its own stream back.
	LocalCookie uint32
	Sink        sink.Sink
	Resampler   *Resampler
	Logger      zerolog.Logger
}

// Session is the per-stream state described by the data model.
type Session struct {
	origin      string
	sampleSpec  rtpcodec.SampleSpec
	payloadType uint8
	localCookie uint32

	ssrc            uint32
	expectedTs      uint32
	firstPacketSeen bool

	queue     *jitterqueue.Queue
	smoother  *drift.Smoother
	sink      sink.Sink
	resampler *Resampler

	intendedLatencyUs int64
	sinkLatencyUs     int64
	lastRateUpdate    time.Time

	// lastActivitySec is the sole field shared between the main
	// context (reaper reads) and the I/O context (ingest writes). It
	// is a coarse monotonic-seconds value, intentionally not widened
	// to a full time.Time.
	lastActivitySec atomic.Int64

	seq rtpcodec.SequenceTracker

	log zerolog.Logger
}

// New constructs a Session with its jitter queue pre-filled with silence
// sized intended_latency - sink_latency, per the data model.
func New(cfg Config) *Session {
	s := &Session{
		origin:            cfg.Origin,
		sampleSpec:        cfg.SampleSpec,
		payloadType:       cfg.PayloadType,
		localCookie:       cfg.LocalCookie,
		sink:              cfg.Sink,
		resampler:         cfg.Resampler,
		intendedLatencyUs: cfg.IntendedLatencyUs,
		log:               cfg.Logger.With().Str("origin", cfg.Origin).Logger(),
	}

	nominalBps := float64(cfg.SampleSpec.RateHz) * float64(cfg.SampleSpec.BytesPerFrame())
	s.smoother = drift.New(nominalBps)

	if cfg.Sink != nil {
		if latency, err := cfg.Sink.GetLatencyUs(); err == nil {
			s.attachSinkLatency(latency)
		}
	}

	prefill := s.intendedLatencyUs - s.sinkLatencyUs
	if prefill < 0 {
		prefill = 0
	}
	s.queue = jitterqueue.New(jitterqueue.Config{
		FrameSize:      cfg.SampleSpec.BytesPerFrame(),
		PrefillSilence: int(cfg.SampleSpec.MicrosToBytes(prefill)),
	})

	s.touchActivity(time.Now())
	// Seed lastRateUpdate to creation time so the first ingested packet
	// does not see a zero time.Time and retune immediately; the periodic
	// retune must wait out a full RateUpdateInterval like every
	// subsequent cycle.
	s.lastRateUpdate = time.Now()
	return s
}

// attachSinkLatency clamps intended_latency to >= 2x sink_latency, per
// the invariant enforced on attach.
func (s *Session) attachSinkLatency(sinkLatencyUs int64) {
	s.sinkLatencyUs = sinkLatencyUs
	if min := 2 * sinkLatencyUs; s.intendedLatencyUs < min {
		s.intendedLatencyUs = min
	}
}

// Origin implements registry.Entry.
func (s *Session) Origin() string { return s.origin }

func (s *Session) touchActivity(now time.Time) {
	s.lastActivitySec.Store(now.Unix())
}

// LastActivitySec is the atomic read used by the liveness reaper from
// the main context.
func (s *Session) LastActivitySec() int64 {
	return s.lastActivitySec.Load()
}

// Touch refreshes last-activity on a SAP refresh announcement, from the
// main context. It updates only the liveness timestamp, never recreating
// resources, per the idempotent SAP refresh law.
func (s *Session) Touch(now time.Time) {
	s.touchActivity(now)
}

// IngestRTP processes one decoded RTP packet on the I/O thread, per the
// ten-step pipeline in the component design.
func (s *Session) IngestRTP(pkt rtpcodec.Packet, now time.Time) error {
	// 2. payload type gate
	if pkt.PayloadType != s.payloadType {
		return ErrPayloadMismatch
	}

	if !s.firstPacketSeen {
		// 3. latch ssrc + expected timestamp
		s.ssrc = pkt.SSRC
		s.expectedTs = pkt.Timestamp
		s.firstPacketSeen = true
		if pkt.SSRC == s.localCookie {
			s.log.Warn().Msg("loop detected: own ssrc observed on ingest, accepting anyway")
		}
	} else if pkt.SSRC != s.ssrc {
		// 4. ssrc gate
		return ErrSSRCMismatch
	}

	// extended sequence-number bookkeeping: logging only, never gates
	// acceptance (ordering is driven by the RTP timestamp, step 5 below).
	if outOfOrder, err := s.seq.Update(pkt.SequenceNumber); err != nil {
		s.log.Debug().Err(err).Uint16("seq", pkt.SequenceNumber).Msg("sequence anomaly")
	} else if outOfOrder {
		s.log.Debug().Uint16("seq", pkt.SequenceNumber).Msg("out-of-order packet")
	}

	// 5. timestamp delta, choosing the smaller-magnitude interpretation
	// across the 32-bit wrap boundary.
	delta := timestampDelta(s.expectedTs, pkt.Timestamp)

	// 6. align the write position to the sender's timeline
	bpf := int64(s.sampleSpec.BytesPerFrame())
	s.queue.Seek(delta*bpf, true)

	// 7. sample the smoother before pushing this packet's bytes
	nowUs := now.UnixMicro()
	s.smoother.Sample(nowUs, s.queue.WriteIndex())

	// 8. push payload, logging + seeking forward on overrun
	if overrun := s.queue.Push(pkt.Payload); overrun {
		s.log.Warn().Int("chunk_bytes", len(pkt.Payload)).Msg("jitter queue overrun")
	}

	// 9. advance expected timestamp by this packet's frame count
	frames := uint32(len(pkt.Payload) / max(1, s.sampleSpec.BytesPerFrame()))
	s.expectedTs = pkt.Timestamp + frames

	// 10. record coarse liveness
	s.touchActivity(now)

	s.requestRewindIfUnderrun()

	s.maybeRetune(now)
	return nil
}

// timestampDelta computes the signed delta between packet.Timestamp and
// expected, choosing whichever of the naive and wrap-complement
// interpretations has the smaller absolute value. Equivalent to
// ((packet - expected + 2^31) mod 2^32) - 2^31.
func timestampDelta(expected, packet uint32) int64 {
	naive := int64(packet) - int64(expected)
	wrapped := naive
	if naive > 0 {
		wrapped = naive - (1 << 32)
	} else {
		wrapped = naive + (1 << 32)
	}
	if abs64(wrapped) < abs64(naive) {
		return wrapped
	}
	// At |delta| == 2^31 both readings are equally near; the formula above
	// yields -2^31 there.
	if abs64(wrapped) == abs64(naive) && wrapped < 0 {
		return wrapped
	}
	return naive
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// requestRewindIfUnderrun asks the host mixer to re-render newly arrived
// audio over silence it produced during a gap, when the queue is
// readable again and the sink reports a non-zero underrun counter.
func (s *Session) requestRewindIfUnderrun() {
	if s.sink == nil {
		return
	}
	if s.queue.Len() == 0 {
		return
	}
	if s.sink.UnderrunCount() == 0 {
		return
	}
	if err := s.sink.RequestRewind(0, false, true, false); err != nil {
		s.log.Debug().Err(err).Msg("rewind request failed")
	}
}

// maybeRetune runs the periodic rate retune gated by RateUpdateInterval.
func (s *Session) maybeRetune(now time.Time) {
	if !s.lastRateUpdate.IsZero() && now.Sub(s.lastRateUpdate) < RateUpdateInterval {
		return
	}
	s.retune(now)
}

// retune implements the periodic rate-fix algorithm from the component
// design. Per the Open Question decision recorded in DESIGN.md, a
// rejected fix does NOT update lastRateUpdate, so a persistent
// pathological deviation keeps retrying every ingest call rather than
// waiting out a full interval.
func (s *Session) retune(now time.Time) {
	nowUs := now.UnixMicro()
	wiUs := s.sampleSpec.BytesToMicros(s.smoother.Estimate(nowUs))
	riUs := s.sampleSpec.BytesToMicros(s.queue.ReadIndex())

	var renderDelayUs, sinkDelayUs int64
	if s.sink != nil {
		renderDelayUs = s.sink.RenderDelayUs()
		if l, err := s.sink.GetLatencyUs(); err == nil {
			sinkDelayUs = l
		}
	}

	riUs -= renderDelayUs + sinkDelayUs
	if riUs < 0 {
		riUs = 0
	}

	latency := wiUs - riUs
	if latency < 0 {
		latency = 0
	}
	deviation := latency - s.intendedLatencyUs
	if deviation < 0 {
		deviation = -deviation
	}

	if s.resampler == nil {
		s.lastRateUpdate = now
		return
	}

	rate := float64(s.resampler.InputRate())
	fixPerSec := float64(deviation) * rate / float64(RateUpdateInterval.Microseconds())

	if fixPerSec > MaxRateFixFraction*rate {
		s.log.Warn().Float64("fix", fixPerSec).Float64("rate", rate).Msg("rate fix too large, skipping retune cycle")
		return // do not update lastRateUpdate: see DESIGN.md open question
	}

	newRate := rate
	if latency < s.intendedLatencyUs {
		newRate = rate - fixPerSec
	} else {
		newRate = rate + fixPerSec
	}
	if newRate < 1 {
		newRate = 1
	}

	if err := s.resampler.SetInputRate(uint32(newRate)); err != nil {
		s.log.Warn().Err(err).Msg("failed to retune resampler input rate")
		return
	}
	s.lastRateUpdate = now
}

// Close releases the session's owned resources. Detaching from the sink
// is the playback adapter's responsibility (Adapter.Detach); Close only
// covers state the Session itself owns.
func (s *Session) Close() error {
	return nil
}

func (s *Session) String() string {
	return fmt.Sprintf("session{origin=%q ssrc=%d pt=%d}", s.origin, s.ssrc, s.payloadType)
}
