/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"github.com/rogpeppe/fastuuid"
)

var guidGenerator = fastuuid.MustNewGenerator()

// ComputeCaller returns true when the source participant takes the caller
// role towards the target. The determination is deterministic and
// symmetric, both sides agree without coordination: whichever identity
// sorts first is the caller.
func ComputeCaller(source, target string) bool {
	if source == "" {
		return false
	}

	return source < target
}

func newRandomGUID() string {
	return guidGenerator.Hex128()
}
