/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"context"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/padcall/padcall/internal/signaling"
)

// A MediaProvider hands out local tracks on demand. Implementations
// decide where the media actually comes from, for example a capture
// pipeline or a static sample source.
type MediaProvider interface {
	// AcquireTrack returns a local track of the given kind. The returned
	// track is owned by the caller and gets closed when it is replaced
	// or no longer needed, if it implements io.Closer.
	AcquireTrack(ctx context.Context, kind webrtc.RTPCodecType) (webrtc.TrackLocal, error)
}

// Options bundle the dependencies and tuning knobs of a Controller.
type Options struct {
	Logger logrus.FieldLogger

	// Settings control which media kinds may be acquired and which ICE
	// servers peer connections use. Required.
	Settings *signaling.PadSettings

	// Media provides local tracks when the controller activates. When
	// nil, the controller joins receive only.
	Media MediaProvider

	// OnStream is invoked whenever remote media from a peer becomes
	// available. OnStreamGone is invoked when it goes away again.
	OnStream     func(peerID string, stream *RemoteStream)
	OnStreamGone func(peerID string)

	ICEInterfaces            []string
	ICENetworkTypes          []string
	ICEEphemeralUDPPortRange [2]uint16
}
