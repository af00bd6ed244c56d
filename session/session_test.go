// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silentwave/rtprecv/rtpcodec"
	"github.com/silentwave/rtprecv/sink"
)

type fakeSink struct {
	latencyUs     int64
	renderDelayUs int64
	underruns     uint64
	attached      bool
	adapter       sink.PlaybackAdapter
}

func (f *fakeSink) GetLatencyUs() (int64, error) { return f.latencyUs, nil }
func (f *fakeSink) SetPlaybackAdapter(a sink.PlaybackAdapter) { f.adapter = a }
func (f *fakeSink) AttachPoll(fd int, events sink.PollEvents) error {
	f.attached = true
	return nil
}
func (f *fakeSink) DetachPoll() error { f.attached = false; return nil }
func (f *fakeSink) RequestRewind(bytes int, adjustLatency, requestRender, flush bool) error {
	return nil
}
func (f *fakeSink) SetRequestedLatencyUs(us int64) (int64, error) { return us, nil }
func (f *fakeSink) UnderrunCount() uint64                         { return f.underruns }
func (f *fakeSink) RenderDelayUs() int64                          { return f.renderDelayUs }

func newTestSession(t *testing.T) (*Session, *fakeSink) {
	t.Helper()
	fs := &fakeSink{latencyUs: 10_000} // 10ms
	cfg := Config{
		Origin:            "alice 1 1 IN IP4 239.1.1.1",
		SampleSpec:        rtpcodec.SampleSpec{RateHz: 44100, Channels: 2, Format: rtpcodec.FormatL16},
		PayloadType:       127,
		IntendedLatencyUs: 500_000,
		LocalCookie:       0xdeadbeef,
		Sink:              fs,
		Logger:            zerolog.Nop(),
	}
	return New(cfg), fs
}

func TestFirstPacketLatchesSSRCAndTimestamp(t *testing.T) {
	s, _ := newTestSession(t)
	pkt := rtpcodec.Packet{SSRC: 42, PayloadType: 127, Timestamp: 1000, Payload: make([]byte, 1152)}
	require.NoError(t, s.IngestRTP(pkt, time.Now()))
	assert.Equal(t, uint32(42), s.ssrc)
	assert.True(t, s.firstPacketSeen)
}

func TestSubsequentPacketWithDifferentSSRCIsDropped(t *testing.T) {
	s, _ := newTestSession(t)
	now := time.Now()
	first := rtpcodec.Packet{SSRC: 42, PayloadType: 127, Timestamp: 0, Payload: make([]byte, 1152)}
	require.NoError(t, s.IngestRTP(first, now))

	bad := rtpcodec.Packet{SSRC: 99, PayloadType: 127, Timestamp: 288, Payload: make([]byte, 1152)}
	err := s.IngestRTP(bad, now)
	assert.ErrorIs(t, err, ErrSSRCMismatch)
	assert.Equal(t, uint32(42), s.ssrc)
}

func TestPayloadTypeMismatchDropped(t *testing.T) {
	s, _ := newTestSession(t)
	pkt := rtpcodec.Packet{SSRC: 1, PayloadType: 99, Timestamp: 0, Payload: make([]byte, 10)}
	err := s.IngestRTP(pkt, time.Now())
	assert.ErrorIs(t, err, ErrPayloadMismatch)
	assert.False(t, s.firstPacketSeen)
}

func TestLoopDetectedStillAccepts(t *testing.T) {
	s, _ := newTestSession(t)
	pkt := rtpcodec.Packet{SSRC: s.localCookie, PayloadType: 127, Timestamp: 0, Payload: make([]byte, 10)}
	err := s.IngestRTP(pkt, time.Now())
	assert.NoError(t, err)
	assert.True(t, s.firstPacketSeen)
}

func TestHappyPathNoUnderrun(t *testing.T) {
	s, _ := newTestSession(t)
	now := time.Now()
	frameSize := s.sampleSpec.BytesPerFrame()
	chunk := 1152
	ts := uint32(0)
	for i := 0; i < 100; i++ {
		pkt := rtpcodec.Packet{SSRC: 7, PayloadType: 127, Timestamp: ts, Payload: make([]byte, chunk)}
		require.NoError(t, s.IngestRTP(pkt, now))
		ts += uint32(chunk / frameSize)
	}
	assert.Greater(t, s.queue.Len(), 0)
	assert.LessOrEqual(t, s.queue.Len(), s.queue.Cap())
}

func TestTimestampWrapChoosesNearerDelta(t *testing.T) {
	expected := uint32(0xFFFFFF00)
	packet := uint32(0x00000100)
	delta := timestampDelta(expected, packet)
	assert.EqualValues(t, 512, delta)
}

func TestTimestampWrapSymmetryLaw(t *testing.T) {
	// ((packet - expected + 2^31) mod 2^32) - 2^31
	expect := func(expected, packet uint32) int64 {
		const mod = int64(1) << 32
		const half = int64(1) << 31
		v := (int64(packet) - int64(expected) + half) % mod
		if v < 0 {
			v += mod
		}
		return v - half
	}

	cases := []struct{ expected, packet uint32 }{
		{0, 1000},
		{0xFFFFFF00, 0x00000100},
		{1000, 0},
		{0x80000000, 0x7FFFFFFF},
	}
	for _, c := range cases {
		assert.Equal(t, expect(c.expected, c.packet), timestampDelta(c.expected, c.packet))
	}
}

func TestAttachClampsIntendedLatencyToTwiceSinkLatency(t *testing.T) {
	fs := &fakeSink{latencyUs: 400_000}
	cfg := Config{
		Origin:            "bob 1 1 IN IP4 239.1.1.2",
		SampleSpec:        rtpcodec.SampleSpec{RateHz: 8000, Channels: 1, Format: rtpcodec.FormatULaw},
		PayloadType:       0,
		IntendedLatencyUs: 100_000, // smaller than 2x sink latency
		Sink:              fs,
		Logger:            zerolog.Nop(),
	}
	s := New(cfg)
	assert.GreaterOrEqual(t, s.intendedLatencyUs, 2*fs.latencyUs)
}

func TestRateFixMonotonicitySign(t *testing.T) {
	s, _ := newTestSession(t)
	s.resampler = NewResampler(44100, 44100, 2)

	// Force a known read/write index gap: intended 500ms, measured
	// latency greater than intended -> rate should increase.
	s.intendedLatencyUs = 500_000
	s.smoother.Sample(0, int64(s.sampleSpec.MicrosToBytes(600_000)))
	before := s.resampler.InputRate()
	s.retune(time.UnixMicro(0))
	assert.Greater(t, s.resampler.InputRate(), before)
}
