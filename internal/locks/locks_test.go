/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package locks

import (
	"context"
	"testing"
	"time"
)

func TestMutexLockUnlock(t *testing.T) {
	ctx := context.Background()

	m := NewMutex()
	if err := m.Lock(ctx); err != nil {
		t.Fatal(err)
	}

	locked := make(chan struct{})
	go func() {
		if err := m.Lock(ctx); err != nil {
			t.Error(err)
		}
		close(locked)
	}()

	select {
	case <-locked:
		t.Fatal("second lock succeeded while mutex was held")
	case <-time.After(50 * time.Millisecond):
	}

	m.Unlock()

	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("second lock did not succeed after unlock")
	}
}

func TestMutexLockContextCancel(t *testing.T) {
	m := NewMutex()
	if err := m.Lock(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Lock(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMutexTryLock(t *testing.T) {
	m := NewMutex()
	if !m.TryLock() {
		t.Fatal("try lock of unlocked mutex failed")
	}
	if m.TryLock() {
		t.Fatal("try lock of locked mutex succeeded")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatal("try lock after unlock failed")
	}
}

func TestMutexUnlockPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("unlock of unlocked mutex did not panic")
		}
	}()

	NewMutex().Unlock()
}
