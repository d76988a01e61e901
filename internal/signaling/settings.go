/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package signaling

import (
	"fmt"
)

// Disabled is the three state media toggle of a pad. Soft means the media
// kind starts muted but can be enabled by the user, hard means the media
// kind is not available at all.
type Disabled string

const (
	DisabledNone Disabled = "none"
	DisabledSoft Disabled = "soft"
	DisabledHard Disabled = "hard"
)

// Validate returns an error when the value is not a recognized setting.
// The empty value is accepted and means none.
func (d Disabled) Validate() error {
	switch d {
	case "", DisabledNone, DisabledSoft, DisabledHard:
		return nil
	default:
		return fmt.Errorf("invalid disabled value: %q", string(d))
	}
}

// PadSettings is the per pad call configuration as served to clients when
// they connect.
type PadSettings struct {
	Enabled bool `json:"enabled"`

	Audio MediaSettings `json:"audio"`
	Video VideoSettings `json:"video"`

	ICEServers []ICEServer `json:"iceServers,omitempty"`

	ListenClass string `json:"listenClass,omitempty"`
}

// Validate checks all enum values of the settings.
func (settings *PadSettings) Validate() error {
	if err := settings.Audio.Disabled.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := settings.Video.Disabled.Validate(); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	return nil
}

// MediaSettings holds the settings of one media kind.
type MediaSettings struct {
	Disabled Disabled `json:"disabled,omitempty"`
}

// VideoSettings holds the video settings including the UI size presets.
type VideoSettings struct {
	Disabled Disabled    `json:"disabled,omitempty"`
	Sizes    *VideoSizes `json:"sizes,omitempty"`
}

// VideoSizes are the pixel dimensions of the large and small video tile
// presets.
type VideoSizes struct {
	Large *VideoSize `json:"large,omitempty"`
	Small *VideoSize `json:"small,omitempty"`
}

// VideoSize is a pixel dimension pair.
type VideoSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ICEServer describes a STUN or TURN server passed through to clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
