// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateBeforeAnySampleIsZero(t *testing.T) {
	s := New(44100 * 2)
	assert.Equal(t, int64(0), s.Estimate(123456))
}

func TestEstimateTracksSteadyArrival(t *testing.T) {
	const bps = 44100.0 * 2 // 16-bit mono @ 44.1kHz
	s := New(bps)

	wallUs := int64(0)
	writeIdx := int64(0)
	step := int64(20_000) // 20ms ticks, matching a typical RTP packetization interval

	for i := 0; i < 50; i++ {
		wallUs += step
		writeIdx += int64(bps * float64(step) / 1e6)
		s.Sample(wallUs, writeIdx)
	}

	got := s.Estimate(wallUs)
	assert.InDelta(t, float64(writeIdx), float64(got), float64(writeIdx)*0.05)
}

func TestRateBytesPerSecondStartsAtNominal(t *testing.T) {
	s := New(8000)
	assert.Equal(t, 8000.0, s.RateBytesPerSecond())
}

func TestSampleIsMonotonicWithRespectToBase(t *testing.T) {
	s := New(16000)
	s.Sample(1000, 10)
	s.Sample(2000, 42)
	// After two samples the smoother must have adopted a base and produce
	// a finite forward estimate rather than panicking or returning 0.
	assert.NotEqual(t, int64(0), s.Estimate(3000))
}
