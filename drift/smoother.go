// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package drift implements the clock-drift compensator's time smoother
// (component E): a monotone estimator mapping wall-clock microseconds to
// the session's logical write-index bytes.
//
// It is built on github.com/facebook/time/servo's PI servo, the same
// controller PTP clients use to discipline a hardware clock from
// (offset, localTs) samples. Here the "offset" fed to the servo is the
// divergence between the newly observed write index and what
// extrapolating the previous sample at the current rate estimate would
// predict, and the servo's frequency output is read back as the current
// estimate of bytes-per-second, which Estimate integrates forward from
// the last sample.
package drift

import (
	"sync"
	"time"

	"github.com/facebook/time/servo"
)

// DefaultHistory and DefaultHorizon are the smoother's configured memory and
// look-ahead, per the design notes (~5s history, ~2s horizon).
const (
	DefaultHistory = 5 * time.Second
	DefaultHorizon = 2 * time.Second
)

type sample struct {
	wallUs int64
	writeIdx int64
}

// Smoother guards its state with a mutex, so its methods may be called
// from several goroutines. It expects to be fed strictly in monotone
// wall-clock order by the single-threaded I/O context, and read only at
// retune time from the same context.
type Smoother struct {
	mu sync.Mutex

	pi *servo.PiServo

	history time.Duration
	horizon time.Duration

	samples []sample
	hasBase bool
	baseUs  int64
	baseIdx int64

	lastFreqPPB float64
}

// New constructs a Smoother seeded with nominalBytesPerSecond, the
// sample-spec-derived rate at which the session's payload is expected to
// arrive absent any drift.
func New(nominalBytesPerSecond float64) *Smoother {
	cfg := servo.DefaultServoConfig()
	pi := servo.NewPiServo(cfg, servo.DefaultPiServoCfg(), -nominalBytesPerSecond)
	pi.SetMaxFreq(nominalBytesPerSecond) // allow the estimate to vary by up to 100%
	filterCfg := servo.DefaultPiServoFilterCfg()
	servo.NewPiServoFilter(pi, filterCfg)

	return &Smoother{
		pi:          pi,
		history:     DefaultHistory,
		horizon:     DefaultHorizon,
		lastFreqPPB: nominalBytesPerSecond,
	}
}

// Sample feeds one strictly-ordered (wall-clock microsecond, logical
// write-index byte) observation into the smoother.
func (s *Smoother) Sample(wallUs int64, writeIdx int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasBase {
		s.hasBase = true
		s.baseUs = wallUs
		s.baseIdx = writeIdx
	}

	predicted := s.baseIdx + int64(s.lastFreqPPB*float64(wallUs-s.baseUs)/1e6)
	offset := writeIdx - predicted

	freq, _ := s.pi.Sample(offset, uint64(wallUs))
	s.lastFreqPPB = -freq

	s.baseUs = wallUs
	s.baseIdx = writeIdx

	s.samples = append(s.samples, sample{wallUs: wallUs, writeIdx: writeIdx})
	cutoff := wallUs - s.history.Microseconds()
	i := 0
	for i < len(s.samples) && s.samples[i].wallUs < cutoff {
		i++
	}
	s.samples = s.samples[i:]
}

// Estimate returns the smoother's estimated logical write-index byte
// value at wall-clock time nowUs, extrapolating from the last sample
// using the current disciplined rate.
func (s *Smoother) Estimate(nowUs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasBase {
		return 0
	}
	elapsed := nowUs - s.baseUs
	return s.baseIdx + int64(s.lastFreqPPB*float64(elapsed)/1e6)
}

// RateBytesPerSecond returns the smoother's current disciplined rate
// estimate, used only for diagnostics/logging.
func (s *Smoother) RateBytesPerSecond() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFreqPPB
}
