// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 rtprecv contributors

package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/silentwave/rtprecv/rtpcodec"
	"github.com/silentwave/rtprecv/sink"
)

// logSink is a minimal sink.Sink used by the standalone CLI harness in
// place of a real host audio mixer. It reports a fixed latency, never
// underruns, and actually drains the session's jitter queue on a
// render-interval ticker, the way a real mixer's rendering thread would
// pull through the attached playback adapter.
type logSink struct {
	mu       sync.Mutex
	origin   string
	spec     rtpcodec.SampleSpec
	log      zerolog.Logger
	latency  int64
	attached bool
	adapter  sink.PlaybackAdapter
	stop     chan struct{}
}

func newLogSink(origin string, spec rtpcodec.SampleSpec, log zerolog.Logger) *logSink {
	return &logSink{
		origin:  origin,
		spec:    spec,
		log:     log.With().Str("origin", origin).Logger(),
		latency: 20 * int64(time.Millisecond/time.Microsecond),
	}
}

func (s *logSink) GetLatencyUs() (int64, error) {
	return s.latency, nil
}

func (s *logSink) SetPlaybackAdapter(a sink.PlaybackAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapter = a
	s.stop = make(chan struct{})
	go s.renderLoop(a, s.stop)
}

// renderLoop stands in for the host mixer's own rendering thread: every
// render interval it pops whatever the jitter queue has ready, the same
// pull cadence a real sink would drive from its audio callback.
func (s *logSink) renderLoop(a sink.PlaybackAdapter, stop chan struct{}) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := a.Pop(buf)
			if err != nil {
				continue // empty queue: host would synthesize silence here
			}
			s.log.Debug().Int("bytes", n).Msg("sink: popped playback audio")
		}
	}
}

func (s *logSink) AttachPoll(fd int, events sink.PollEvents) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = true
	s.log.Debug().Int("fd", fd).Msg("sink: attach poll")
	return nil
}

func (s *logSink) DetachPoll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.log.Debug().Msg("sink: detach poll")
	return nil
}

func (s *logSink) RequestRewind(bytes int, adjustLatency, requestRender, flush bool) error {
	s.log.Debug().Int("bytes", bytes).Msg("sink: rewind requested")
	return nil
}

func (s *logSink) SetRequestedLatencyUs(us int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = us
	return s.latency, nil
}

func (s *logSink) UnderrunCount() uint64 { return 0 }

func (s *logSink) RenderDelayUs() int64 { return 0 }
