// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package jitterqueue implements the bounded, rewindable byte buffer that
// absorbs network jitter and clock drift between an RTP ingest path and a
// host audio sink (component D).
package jitterqueue

import (
	"errors"
	"sync"
)

// ErrEmpty is returned by Peek/Drop when the queue has no buffered bytes.
var ErrEmpty = errors.New("jitterqueue: empty")

// DefaultMaxCapacity is the hard cap on buffered bytes (40 MiB per the
// data model).
const DefaultMaxCapacity = 40 * 1024 * 1024

// Config configures a new Queue.
type Config struct {
	// MaxCapacity bounds how many bytes the queue will ever hold.
	MaxCapacity int
	// FrameSize is the number of bytes per audio frame, from the
	// session's sample spec; used only by callers converting byte
	// offsets to frame-aligned ones, the queue itself is byte-granular.
	FrameSize int
	// PrefillSilence is the number of zero bytes to seed the buffer
	// with at construction, so playback begins at the target fill
	// level (intended_latency - sink_latency).
	PrefillSilence int
}

// Queue is a single-producer/single-consumer (by contract, not by lock
// elision: both sides are serialized through the same mutex because the
// spec's only genuinely cross-thread field is the session's
// last-activity timestamp, not the queue itself) bounded byte ring.
type Queue struct {
	mu sync.Mutex

	buf  []byte
	head int // read offset within buf
	tail int // write offset within buf
	size int // bytes currently buffered

	maxCapacity int
	maxRewind   int

	writeIndex int64 // logical, persists across seeks
	readIndex  int64

	overruns int
}

// New creates a Queue pre-filled with cfg.PrefillSilence zero bytes.
func New(cfg Config) *Queue {
	maxCap := cfg.MaxCapacity
	if maxCap <= 0 {
		maxCap = DefaultMaxCapacity
	}
	q := &Queue{
		buf:         make([]byte, maxCap),
		maxCapacity: maxCap,
	}
	if cfg.PrefillSilence > 0 {
		q.pushLocked(make([]byte, cfg.PrefillSilence))
	}
	return q
}

// Push appends chunk to the queue. If it would overflow the capacity,
// the queue first drops just enough of the oldest buffered data to make
// room, seeking its write position forward by the dropped amount, so the
// queue ends up exactly full, and reports overrun=true.
func (q *Queue) Push(chunk []byte) (overrun bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size+len(chunk) > q.maxCapacity {
		q.overruns++
		q.dropOldestLocked(q.size + len(chunk) - q.maxCapacity)
		overrun = true
	}
	q.pushLocked(chunk)
	return overrun
}

func (q *Queue) pushLocked(chunk []byte) {
	total := len(chunk)
	for len(chunk) > 0 {
		n := copy(q.buf[q.tail:], chunk)
		if n == 0 {
			// wrapped: copy did not advance because tail==len(buf)
			q.tail = 0
			continue
		}
		q.tail = (q.tail + n) % len(q.buf)
		chunk = chunk[n:]
		q.size += n
	}
	q.writeIndex += int64(total)
}

// dropOldestLocked advances head by n bytes (or the whole buffered
// content if smaller), keeping size/head consistent, and moves the write
// index forward by n to reflect the dropped span per the overrun law.
func (q *Queue) dropOldestLocked(n int) {
	if n > q.size {
		n = q.size
	}
	q.head = (q.head + n) % len(q.buf)
	q.size -= n
	q.readIndex += int64(n)
	q.writeIndex += int64(n)
}

// Peek returns up to len(b) unread bytes without advancing the read
// index, and the number of bytes copied. ErrEmpty is returned only when
// zero bytes are currently buffered.
func (q *Queue) Peek(b []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return 0, ErrEmpty
	}
	n := min(len(b), q.size)
	for i := 0; i < n; i++ {
		b[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return n, nil
}

// Drop advances the read index by n bytes (not more than currently
// buffered) and returns how many bytes were actually dropped.
func (q *Queue) Drop(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > q.size {
		n = q.size
	}
	q.head = (q.head + n) % len(q.buf)
	q.size -= n
	q.readIndex += int64(n)
	return n
}

// Pop is Peek followed by Drop of the bytes actually copied.
func (q *Queue) Pop(b []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return 0, ErrEmpty
	}
	n := min(len(b), q.size)
	for i := 0; i < n; i++ {
		b[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.head = (q.head + n) % len(q.buf)
	q.size -= n
	q.readIndex += int64(n)
	return n, nil
}

// Seek moves the write index by delta bytes. When relative is true this
// only adjusts the logical WriteIndex() counter used for drift
// estimation (timestamp jumps do not themselves move buffered content -
// the next Push still appends at the current tail); when relative is
// false the write index is set to delta outright.
//
// This mirrors the RTP ingest path's use: a timestamp discontinuity
// changes what the sender *believes* it has produced so far, which the
// drift estimator must see, without retroactively rewriting bytes
// already buffered.
func (q *Queue) Seek(delta int64, relative bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if relative {
		q.writeIndex += delta
	} else {
		q.writeIndex = delta
	}
}

// Rewind moves the read index backward by n bytes, re-exposing already
// consumed content for the host mixer to re-render after an underrun.
// It refuses to rewind past history bounded by maxRewind.
func (q *Queue) Rewind(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	available := q.maxRewind
	room := len(q.buf) - q.size
	if available > room {
		available = room
	}
	if n > available {
		n = available
	}
	if n <= 0 {
		return 0
	}
	q.head = (q.head - n + len(q.buf)) % len(q.buf)
	q.size += n
	q.readIndex -= int64(n)
	return n
}

// SetMaxRewind hints the queue about the largest rewind it must retain
// history for.
func (q *Queue) SetMaxRewind(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxRewind = n
}

// WriteIndex returns the signed logical write-index byte counter.
func (q *Queue) WriteIndex() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.writeIndex
}

// ReadIndex returns the signed logical read-index byte counter.
func (q *Queue) ReadIndex() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readIndex
}

// Len returns the number of bytes currently buffered (0 <= Len() <= cap).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the configured maximum capacity.
func (q *Queue) Cap() int {
	return q.maxCapacity
}

// Overruns returns the number of Push calls that had to drop data.
func (q *Queue) Overruns() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overruns
}
