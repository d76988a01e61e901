/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"sync/atomic"
)

// A ConnectionCounter yields strictly increasing connection instance
// numbers. Each peer connection attempt draws a fresh value so stale
// signaling for superseded connections can be told apart from current
// traffic.
type ConnectionCounter struct {
	count uint64
}

// Next increments the counter and returns its new value. The first
// value returned is 1.
func (counter *ConnectionCounter) Next() uint64 {
	return atomic.AddUint64(&counter.count, 1)
}

// Current returns the most recently issued value without advancing.
func (counter *ConnectionCounter) Current() uint64 {
	return atomic.LoadUint64(&counter.count)
}
