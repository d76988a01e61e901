/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v3"
)

type fakeTrack struct {
	id     string
	kind   webrtc.RTPCodecType
	closed bool
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}

func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error {
	return nil
}

func (t *fakeTrack) ID() string {
	return t.id
}

func (t *fakeTrack) RID() string {
	return ""
}

func (t *fakeTrack) StreamID() string {
	return "test"
}

func (t *fakeTrack) Kind() webrtc.RTPCodecType {
	return t.kind
}

func (t *fakeTrack) Close() error {
	t.closed = true
	return nil
}

func TestLocalTracksSetAndReplace(t *testing.T) {
	ctx := context.Background()
	tracks := NewLocalTracks()

	first := &fakeTrack{id: "a1", kind: webrtc.RTPCodecTypeAudio}
	second := &fakeTrack{id: "a2", kind: webrtc.RTPCodecTypeAudio}

	var changes []*TrackChange
	off := tracks.OnTrackChanged(func(change *TrackChange) {
		if change.Old != nil && change.Old.(*fakeTrack).closed {
			t.Error("old track was closed before listeners were notified")
		}
		changes = append(changes, change)
	})
	defer off()

	if err := tracks.SetAudio(ctx, first); err != nil {
		t.Fatalf("SetAudio failed: %v", err)
	}
	if tracks.Audio() != first {
		t.Fatal("audio slot does not hold the set track")
	}

	if err := tracks.SetAudio(ctx, second); err != nil {
		t.Fatalf("SetAudio replacement failed: %v", err)
	}
	if tracks.Audio() != second {
		t.Fatal("audio slot does not hold the replacement track")
	}
	if !first.closed {
		t.Error("replaced track was not closed")
	}
	if second.closed {
		t.Error("current track was closed")
	}

	if len(changes) != 2 {
		t.Fatalf("got %d change events, want 2", len(changes))
	}
	if changes[1].Old != first || changes[1].New != second {
		t.Error("replacement change event carries wrong tracks")
	}
	if changes[1].Kind != webrtc.RTPCodecTypeAudio {
		t.Errorf("change kind = %v, want audio", changes[1].Kind)
	}
}

func TestLocalTracksSetSameTrackIsNoop(t *testing.T) {
	ctx := context.Background()
	tracks := NewLocalTracks()
	track := &fakeTrack{id: "v1", kind: webrtc.RTPCodecTypeVideo}

	changes := 0
	off := tracks.OnTrackChanged(func(*TrackChange) {
		changes++
	})
	defer off()

	if err := tracks.SetVideo(ctx, track); err != nil {
		t.Fatalf("SetVideo failed: %v", err)
	}
	if err := tracks.SetVideo(ctx, track); err != nil {
		t.Fatalf("repeated SetVideo failed: %v", err)
	}

	if changes != 1 {
		t.Errorf("got %d change events, want 1", changes)
	}
	if track.closed {
		t.Error("track was closed by setting it again")
	}
}

func TestLocalTracksHandleTrackEnded(t *testing.T) {
	ctx := context.Background()
	tracks := NewLocalTracks()

	first := &fakeTrack{id: "a1", kind: webrtc.RTPCodecTypeAudio}
	second := &fakeTrack{id: "a2", kind: webrtc.RTPCodecTypeAudio}

	if err := tracks.SetAudio(ctx, first); err != nil {
		t.Fatalf("SetAudio failed: %v", err)
	}
	if err := tracks.SetAudio(ctx, second); err != nil {
		t.Fatalf("SetAudio replacement failed: %v", err)
	}

	// A late ended signal from the replaced track must not clear the
	// replacement.
	if err := tracks.HandleTrackEnded(ctx, first); err != nil {
		t.Fatalf("HandleTrackEnded failed: %v", err)
	}
	if tracks.Audio() != second {
		t.Fatal("ended signal of replaced track cleared the current one")
	}

	if err := tracks.HandleTrackEnded(ctx, second); err != nil {
		t.Fatalf("HandleTrackEnded failed: %v", err)
	}
	if tracks.Audio() != nil {
		t.Fatal("ended current track was not cleared")
	}
	if !second.closed {
		t.Error("ended track was not closed")
	}
}

func TestLocalTracksClose(t *testing.T) {
	ctx := context.Background()
	tracks := NewLocalTracks()

	audio := &fakeTrack{id: "a", kind: webrtc.RTPCodecTypeAudio}
	video := &fakeTrack{id: "v", kind: webrtc.RTPCodecTypeVideo}
	if err := tracks.SetAudio(ctx, audio); err != nil {
		t.Fatalf("SetAudio failed: %v", err)
	}
	if err := tracks.SetVideo(ctx, video); err != nil {
		t.Fatalf("SetVideo failed: %v", err)
	}

	if err := tracks.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if tracks.Audio() != nil || tracks.Video() != nil {
		t.Error("slots not cleared by Close")
	}
	if !audio.closed || !video.closed {
		t.Error("tracks not released by Close")
	}
}
