// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package sink declares the contract the host audio mixer provides to a
// session, and the contract the module's playback adapter offers back.
// Both sides are external collaborators per spec §6; only their
// interfaces live in this module.
package sink

// PlaybackAdapter is the pull-side contract a session's adapter (component
// J) exposes back to the host sink: once attached, the host mixer drains
// the jitter queue through Pop, asks for a re-render after an underrun
// through Rewind/SetMaxRewind, reads buffered latency through
// GetLatencyUs, and tears the session down through Kill.
type PlaybackAdapter interface {
	Pop(b []byte) (int, error)
	Rewind(n int) int
	SetMaxRewind(n int)
	GetLatencyUs() int64
	Kill()
}

// Sink is the host audio mixer's contract, consumed by a Session's
// periodic rate retune and by its playback adapter.
type Sink interface {
	// GetLatencyUs reports the sink's current output latency in
	// microseconds (used to clamp intended latency to >= 2x this).
	GetLatencyUs() (int64, error)
	// SetPlaybackAdapter registers the session's playback adapter as the
	// sink's pull source; the host calls its Pop/Rewind/Kill from its own
	// rendering thread from this point on.
	SetPlaybackAdapter(a PlaybackAdapter)
	// AttachPoll registers fd in the I/O thread's poll set for the
	// given readiness events.
	AttachPoll(fd int, events PollEvents) error
	// DetachPoll unregisters the poll-set entry previously attached.
	// The host guarantees this runs-to-completion before the sink
	// input's user-data (the Session) is freed.
	DetachPoll() error
	// RequestRewind asks the host mixer to rewind its already-rendered
	// output by bytes so newly arrived audio can overwrite silence
	// produced during an underrun.
	RequestRewind(bytes int, adjustLatency, requestRender, flush bool) error
	// SetRequestedLatencyUs asks the host to target the given latency
	// and reports back the latency it actually committed to.
	SetRequestedLatencyUs(us int64) (actualUs int64, err error)
	// UnderrunCount reports how many times the mixer has had to
	// synthesize silence due to an empty pop since the sink was
	// attached.
	UnderrunCount() uint64
	// RenderDelayUs reports the sink's pre-queue render buffer length,
	// subtracted from the read index during rate retune.
	RenderDelayUs() int64
}

// PollEvents is a small bitmask mirroring POLLIN/POLLOUT, declared here
// rather than imported so the adapter stays decoupled from any specific
// poll implementation the host chooses.
type PollEvents uint8

const (
	PollIn PollEvents = 1 << iota
	PollOut
)

// Resampler is the actuator the drift compensator retunes: it accepts a
// new input sample rate and applies it to whatever conversion pipeline
// sits between the jitter queue and the host sink.
type Resampler interface {
	SetInputRate(hz uint32) error
	InputRate() uint32
}
