/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"testing"
)

func TestComputeCaller(t *testing.T) {
	cases := []struct {
		source string
		target string
		caller bool
	}{
		{"a", "b", true},
		{"b", "a", false},
		{"a", "a", false},
		{"", "b", false},
		{"a1", "a2", true},
	}
	for _, c := range cases {
		if caller := ComputeCaller(c.source, c.target); caller != c.caller {
			t.Errorf("ComputeCaller(%q, %q) = %v, want %v", c.source, c.target, caller, c.caller)
		}
	}
}

func TestComputeCallerSymmetry(t *testing.T) {
	if ComputeCaller("alice", "bob") == ComputeCaller("bob", "alice") {
		t.Error("both sides compute the same caller role")
	}
}

func TestConnectionCounter(t *testing.T) {
	var counter ConnectionCounter
	if current := counter.Current(); current != 0 {
		t.Errorf("fresh counter Current() = %d, want 0", current)
	}
	for i := uint64(1); i <= 5; i++ {
		if next := counter.Next(); next != i {
			t.Errorf("Next() = %d, want %d", next, i)
		}
	}
	if current := counter.Current(); current != 5 {
		t.Errorf("Current() = %d, want 5", current)
	}
}
