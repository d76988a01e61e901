/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package version

// Version is the software version. It gets overwritten on build time with
// the current version from the build environment.
var Version = "0.0.0-unreleased"

// Build is the build information. It gets overwritten on build time with
// the current build data from the build environment.
var Build = "unknown"
