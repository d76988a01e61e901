/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"context"
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/sasha-s/go-deadlock"

	"github.com/padcall/padcall/internal/locks"
)

// LocalTracks holds at most one outgoing audio and one outgoing video
// track and notifies listeners whenever a slot changes. Replacement of
// a slot is serialized per kind so a slow swap cannot interleave with
// another. When both kinds are replaced together, the audio slot is
// always taken first.
type LocalTracks struct {
	emitter

	audioLock *locks.Mutex
	videoLock *locks.Mutex

	mutex deadlock.RWMutex
	audio webrtc.TrackLocal
	video webrtc.TrackLocal
}

func NewLocalTracks() *LocalTracks {
	return &LocalTracks{
		audioLock: locks.NewMutex(),
		videoLock: locks.NewMutex(),
	}
}

// Audio returns the current audio track, or nil when unset.
func (tracks *LocalTracks) Audio() webrtc.TrackLocal {
	tracks.mutex.RLock()
	defer tracks.mutex.RUnlock()
	return tracks.audio
}

// Video returns the current video track, or nil when unset.
func (tracks *LocalTracks) Video() webrtc.TrackLocal {
	tracks.mutex.RLock()
	defer tracks.mutex.RUnlock()
	return tracks.video
}

// Get returns the track of the given kind, or nil when unset.
func (tracks *LocalTracks) Get(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return tracks.Audio()
	case webrtc.RTPCodecTypeVideo:
		return tracks.Video()
	}
	return nil
}

// SetAudio replaces the audio slot with track, which may be nil to
// clear it. Listeners are notified before the previous track is
// released. Setting the track which is already current is a no-op.
func (tracks *LocalTracks) SetAudio(ctx context.Context, track webrtc.TrackLocal) error {
	return tracks.set(ctx, webrtc.RTPCodecTypeAudio, track)
}

// SetVideo is SetAudio for the video slot.
func (tracks *LocalTracks) SetVideo(ctx context.Context, track webrtc.TrackLocal) error {
	return tracks.set(ctx, webrtc.RTPCodecTypeVideo, track)
}

func (tracks *LocalTracks) set(ctx context.Context, kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	var lock *locks.Mutex
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		lock = tracks.audioLock
	case webrtc.RTPCodecTypeVideo:
		lock = tracks.videoLock
	default:
		return fmt.Errorf("unknown track kind: %v", kind)
	}

	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	tracks.mutex.Lock()
	var old webrtc.TrackLocal
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		old = tracks.audio
		tracks.audio = track
	case webrtc.RTPCodecTypeVideo:
		old = tracks.video
		tracks.video = track
	}
	tracks.mutex.Unlock()

	if old == track {
		return nil
	}

	tracks.emit(EventTrackChanged, &TrackChange{
		Kind: kind,
		Old:  old,
		New:  track,
	})
	closeTrack(old)

	return nil
}

// WriteRTP feeds a raw RTP packet into the track of the given kind.
// Media pipelines which produce RTP directly, for example a forwarder
// fed from another connection, write through here so replacement of the
// underlying track is transparent to them. Writing with no track set is
// a no-op.
func (tracks *LocalTracks) WriteRTP(kind webrtc.RTPCodecType, packet *rtp.Packet) error {
	track := tracks.Get(kind)
	if track == nil {
		return nil
	}

	writer, ok := track.(interface {
		WriteRTP(packet *rtp.Packet) error
	})
	if !ok {
		return fmt.Errorf("%s track does not accept raw RTP", kind)
	}
	return writer.WriteRTP(packet)
}

// HandleTrackEnded clears the slot holding track. A slot which holds a
// different track already is left alone, so a late ended signal from a
// track replaced earlier cannot clobber its replacement.
func (tracks *LocalTracks) HandleTrackEnded(ctx context.Context, track webrtc.TrackLocal) error {
	if track == nil {
		return nil
	}

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
	for _, kind := range kinds {
		if tracks.Get(kind) == track {
			return tracks.set(ctx, kind, nil)
		}
	}
	return nil
}

// OnTrackChanged registers fn for slot changes and returns a function
// which removes the registration again.
func (tracks *LocalTracks) OnTrackChanged(fn func(*TrackChange)) func() {
	return tracks.on(EventTrackChanged, func(data interface{}) {
		fn(data.(*TrackChange))
	})
}

// Close clears both slots, releasing the held tracks. Both kinds are
// taken in audio first order, the same order replacement uses.
func (tracks *LocalTracks) Close(ctx context.Context) error {
	if err := tracks.SetAudio(ctx, nil); err != nil {
		return err
	}
	return tracks.SetVideo(ctx, nil)
}

func closeTrack(track webrtc.TrackLocal) {
	if closer, ok := track.(io.Closer); ok {
		closer.Close()
	}
}
