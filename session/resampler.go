// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

package session

import (
	"sync/atomic"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler wraps github.com/tphakala/go-audio-resampler, giving the
// drift compensator a narrow actuator: it only ever changes the input
// rate, never the channel count or output rate negotiated at session
// creation.
type Resampler struct {
	r         *resampler.Resampler
	outRate   uint32
	channels  int
	inputRate atomic.Uint32
}

// NewResampler builds a resampler converting from inRate to outRate for
// the given channel count.
func NewResampler(inRate, outRate uint32, channels int) *Resampler {
	r := &Resampler{
		r:        resampler.New(int(inRate), int(outRate), channels, resampler.QualityMedium),
		outRate:  outRate,
		channels: channels,
	}
	r.inputRate.Store(inRate)
	return r
}

// SetInputRate retunes the resampler's input rate; this is the
// "retune the resampler's input rate" step of the periodic rate fix.
func (r *Resampler) SetInputRate(hz uint32) error {
	if err := r.r.SetInputRate(int(hz)); err != nil {
		return err
	}
	r.inputRate.Store(hz)
	return nil
}

// InputRate returns the currently configured input rate.
func (r *Resampler) InputRate() uint32 {
	return r.inputRate.Load()
}

// Process converts pcm frames at the currently configured input rate.
func (r *Resampler) Process(pcm []int16) []int16 {
	return r.r.Process(pcm)
}
