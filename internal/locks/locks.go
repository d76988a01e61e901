/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package locks

import (
	"context"
)

// Mutex is a context aware mutual exclusion lock. Lock blocks until any
// prior holder has unlocked or the provided context is done. There is no
// fairness guarantee beyond channel receive order and no timeout of its
// own; a holder which never unlocks blocks all subsequent lockers.
type Mutex struct {
	ch chan struct{}
}

// NewMutex creates a new unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{
		ch: make(chan struct{}, 1),
	}
	m.ch <- struct{}{}
	return m
}

// Lock acquires the mutex, blocking until it is available or ctx is done.
func (m *Mutex) Lock(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the mutex without blocking and reports whether it
// succeeded.
func (m *Mutex) TryLock() bool {
	select {
	case <-m.ch:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking a mutex which is not locked panics.
func (m *Mutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("locks: unlock of unlocked mutex")
	}
}
