// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package registry implements the session registry (component G): an
// origin-keyed map plus an intrusive ordered list, capped at
// MAX_SESSIONS, owned exclusively by the main context.
package registry

import (
	"container/list"
	"errors"
)

// MaxSessions is the hard cap on concurrently live sessions.
const MaxSessions = 16

// ErrCapacity is returned by Create when MaxSessions is already reached.
var ErrCapacity = errors.New("registry: max sessions reached")

// ErrNotFound is returned when an origin has no live session.
var ErrNotFound = errors.New("registry: origin not found")

// Entry is anything the registry can own; Session implements this with
// itself, letting the registry stay decoupled from the session package
// (it only needs the origin key and an Element handle).
type Entry interface {
	Origin() string
}

// Registry maps origin -> Entry and keeps an ordered list for the
// reaper's iteration. Not safe for concurrent use: it is owned entirely
// by the main context per the concurrency model.
type Registry[T Entry] struct {
	byOrigin map[string]*list.Element
	order    *list.List // list.Element.Value is T
}

// New constructs an empty registry.
func New[T Entry]() *Registry[T] {
	return &Registry[T]{
		byOrigin: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Len reports how many sessions are currently registered.
func (r *Registry[T]) Len() int {
	return len(r.byOrigin)
}

// Get looks up the live session for origin, if any.
func (r *Registry[T]) Get(origin string) (T, bool) {
	if el, ok := r.byOrigin[origin]; ok {
		return el.Value.(T), true
	}
	var zero T
	return zero, false
}

// Create inserts a new entry, refusing it with ErrCapacity if the
// registry is already at MaxSessions. Callers must have already checked
// Get to avoid double-creating an origin's session.
func (r *Registry[T]) Create(entry T) error {
	if len(r.byOrigin) >= MaxSessions {
		return ErrCapacity
	}
	el := r.order.PushBack(entry)
	r.byOrigin[entry.Origin()] = el
	return nil
}

// Remove unlinks origin's session from the registry. It is a no-op if
// the origin is not present (goodbye for an unknown origin, per the
// "goodbye cancels create" law, never reaches here because the module's
// Destroy checks Get first).
func (r *Registry[T]) Remove(origin string) {
	el, ok := r.byOrigin[origin]
	if !ok {
		return
	}
	r.order.Remove(el)
	delete(r.byOrigin, origin)
}

// All returns every live entry in creation order, for the reaper sweep.
func (r *Registry[T]) All() []T {
	out := make([]T, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(T))
	}
	return out
}
