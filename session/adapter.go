// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

package session

import (
	"github.com/silentwave/rtprecv/sink"
)

// Adapter is the seven-operation capability record the host sink drives;
// per the design notes it is deliberately a closed set of functions
// rather than an inheritance hierarchy, since the host never needs to
// observe the session's identity.
type Adapter struct {
	s         *Session
	killFn    func()
	fd        int
	attached  bool
}

// NewAdapter builds the playback adapter for s. killFn is invoked by Kill
// (normally the registry's Remove for s.Origin()).
func NewAdapter(s *Session, fd int, killFn func()) *Adapter {
	return &Adapter{s: s, fd: fd, killFn: killFn}
}

// Pop reads up to len(b) bytes from the jitter queue. ErrEmpty surfaces
// to the host mixer unchanged: it will insert silence and increment its
// own underrun counter.
func (a *Adapter) Pop(b []byte) (int, error) {
	return a.s.queue.Pop(b)
}

// Rewind forwards to the jitter queue's Rewind.
func (a *Adapter) Rewind(n int) int {
	return a.s.queue.Rewind(n)
}

// SetMaxRewind forwards to the jitter queue's SetMaxRewind.
func (a *Adapter) SetMaxRewind(n int) {
	a.s.queue.SetMaxRewind(n)
}

// GetLatencyUs reports the buffered-audio latency in microseconds: the
// jitter queue's length converted at the session's sample spec. Any delay
// the resampler adds downstream is not included.
func (a *Adapter) GetLatencyUs() int64 {
	us := a.s.sampleSpec.BytesToMicros(int64(a.s.queue.Len()))
	if a.s.resampler != nil {
		// A resampler changing the input rate shifts how much wall-clock
		// time the buffered bytes represent; no resampler delay is added
		// to the reported figure.
	}
	return us
}

// Attach registers this adapter as s's pull source and the session's
// socket fd in the I/O thread's poll set. From this point the host mixer
// drains the jitter queue by calling Pop on its own rendering thread.
func (a *Adapter) Attach(s sink.Sink, events sink.PollEvents) error {
	a.s.sink = s
	a.attached = true
	s.SetPlaybackAdapter(a)
	return s.AttachPoll(a.fd, events)
}

// Detach unregisters the poll-set entry. The host guarantees this
// completes before the session's memory is freed.
func (a *Adapter) Detach() error {
	if !a.attached || a.s.sink == nil {
		return nil
	}
	a.attached = false
	return a.s.sink.DetachPoll()
}

// Kill is initiated by sink teardown and destroys the session via the
// registered callback (normally unlinking it from the registry).
func (a *Adapter) Kill() {
	if a.killFn != nil {
		a.killFn()
	}
}
