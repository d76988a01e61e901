/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// Event names emitted by PeerState and LocalTracks.
const (
	EventStream       = "stream"
	EventStreamGone   = "streamgone"
	EventClosed       = "closed"
	EventTrackChanged = "trackchanged"
)

// TrackChange is the payload of a trackchanged event. Listeners observe
// the swap before the old track is released.
type TrackChange struct {
	Kind webrtc.RTPCodecType
	Old  webrtc.TrackLocal
	New  webrtc.TrackLocal
}

type eventListener struct {
	name string
	fn   func(interface{})
}

// emitter is a minimal first class pub-sub used instead of extending any
// platform event target.
type emitter struct {
	mutex     sync.Mutex
	listeners map[*eventListener]bool
}

// on registers a listener for the named event and returns a function
// which removes it again.
func (e *emitter) on(name string, fn func(interface{})) func() {
	listener := &eventListener{name: name, fn: fn}

	e.mutex.Lock()
	if e.listeners == nil {
		e.listeners = make(map[*eventListener]bool)
	}
	e.listeners[listener] = true
	e.mutex.Unlock()

	return func() {
		e.mutex.Lock()
		delete(e.listeners, listener)
		e.mutex.Unlock()
	}
}

// emit dispatches the named event synchronously to all registered
// listeners in unspecified order.
func (e *emitter) emit(name string, data interface{}) {
	e.mutex.Lock()
	listeners := make([]*eventListener, 0, len(e.listeners))
	for listener := range e.listeners {
		if listener.name == name {
			listeners = append(listeners, listener)
		}
	}
	e.mutex.Unlock()

	for _, listener := range listeners {
		listener.fn(data)
	}
}
