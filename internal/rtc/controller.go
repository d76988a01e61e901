/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pion/webrtc/v3"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/padcall/padcall/internal/signaling"
)

// Re-invite delay after a peer connection closed down. The random part
// keeps both sides from re-inviting each other at the same instant.
const (
	peerRetryDelay       = 500 * time.Millisecond
	peerRetryDelayJitter = 500 * time.Millisecond
)

// A Controller manages the calls of one local participant in one pad.
// It owns the local media tracks, keeps one PeerState per remote
// participant, and routes signaling between them and the transport.
type Controller struct {
	deadlock.Mutex

	logger logrus.FieldLogger

	ownID    string
	send     func(peerID string, signal *signaling.Signal) error
	settings *signaling.PadSettings
	media    MediaProvider

	onStream     func(peerID string, stream *RemoteStream)
	onStreamGone func(peerID string)

	api           *webrtc.API
	configuration webrtc.Configuration

	tracks  *LocalTracks
	counter ConnectionCounter
	session int64

	peers cmap.ConcurrentMap[string, *PeerState]

	activated  bool
	activation chan struct{}
	generation uint64
	closed     bool
}

// NewController creates a controller for the participant ownID. Signals
// for remote participants are passed to send together with the
// participant they are addressed to.
func NewController(ownID string, send func(peerID string, signal *signaling.Signal) error, options *Options) (*Controller, error) {
	if ownID == "" {
		return nil, fmt.Errorf("controller requires an own participant id")
	}
	if options.Settings == nil {
		return nil, fmt.Errorf("controller requires pad settings")
	}
	if err := options.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pad settings: %w", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = logrus.New()
	}
	logger = logger.WithField("participant", ownID)

	api, err := newWebRTCAPI(logger, options)
	if err != nil {
		return nil, err
	}

	controller := &Controller{
		logger: logger,

		ownID:    ownID,
		send:     send,
		settings: options.Settings,
		media:    options.Media,

		onStream:     options.OnStream,
		onStreamGone: options.OnStreamGone,

		api:           api,
		configuration: newWebRTCConfiguration(options.Settings),

		tracks:  NewLocalTracks(),
		session: time.Now().UnixMilli(),

		peers: cmap.New[*PeerState](),
	}
	return controller, nil
}

// Tracks exposes the controller's local tracks, allowing the
// application to swap outgoing media at runtime.
func (c *Controller) Tracks() *LocalTracks {
	return c.tracks
}

// Activate acquires local media and starts accepting and making calls.
// It is idempotent and safe to call concurrently, a second call while
// activation is in flight waits for the first.
func (c *Controller) Activate(ctx context.Context) error {
	var generation uint64
	for {
		c.Lock()
		if c.closed {
			c.Unlock()
			return fmt.Errorf("controller is closed")
		}
		if c.activated {
			c.Unlock()
			return nil
		}
		if ch := c.activation; ch != nil {
			c.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		c.activation = make(chan struct{})
		generation = c.generation
		c.Unlock()
		break
	}

	err := c.acquireMedia(ctx)

	c.Lock()
	close(c.activation)
	c.activation = nil
	// A Deactivate or Close which ran while media was being acquired
	// wins, the activation must not resurrect the controller.
	superseded := c.closed || c.generation != generation
	if err == nil && !superseded {
		c.activated = true
	}
	c.Unlock()

	if err != nil {
		return err
	}
	if superseded {
		c.tracks.Close(context.Background())
		return fmt.Errorf("controller deactivated during activation")
	}

	c.logger.Debugln("controller activated")
	return nil
}

// acquireMedia pulls local tracks from the media provider, audio before
// video. Kinds which the pad disables hard are never acquired.
func (c *Controller) acquireMedia(ctx context.Context) error {
	if c.media == nil {
		return nil
	}

	if c.settings.Audio.Disabled != signaling.DisabledHard {
		track, err := c.media.AcquireTrack(ctx, webrtc.RTPCodecTypeAudio)
		if err != nil {
			return fmt.Errorf("failed to acquire audio track: %w", err)
		}
		if err = c.tracks.SetAudio(ctx, track); err != nil {
			closeTrack(track)
			return err
		}
	}

	if c.settings.Video.Disabled != signaling.DisabledHard {
		track, err := c.media.AcquireTrack(ctx, webrtc.RTPCodecTypeVideo)
		if err != nil {
			return fmt.Errorf("failed to acquire video track: %w", err)
		}
		if err = c.tracks.SetVideo(ctx, track); err != nil {
			closeTrack(track)
			return err
		}
	}

	return nil
}

// Deactivate hangs up all calls and releases the local media. The
// controller can be activated again later.
func (c *Controller) Deactivate(ctx context.Context) error {
	c.Lock()
	c.activated = false
	c.generation++
	c.Unlock()

	c.closeAllPeers()
	return c.tracks.Close(ctx)
}

// Close shuts the controller down for good.
func (c *Controller) Close() error {
	c.Lock()
	if c.closed {
		c.Unlock()
		return nil
	}
	c.closed = true
	c.activated = false
	c.generation++
	c.Unlock()

	c.closeAllPeers()
	return c.tracks.Close(context.Background())
}

func (c *Controller) closeAllPeers() {
	for entry := range c.peers.IterBuffered() {
		c.peers.Remove(entry.Key)
		if err := entry.Val.Close(); err != nil {
			c.logger.WithError(err).WithField("peer", entry.Key).Warnln("failed to close peer")
		}
	}
}

func (c *Controller) isActivated() bool {
	c.Lock()
	defer c.Unlock()
	return c.activated && !c.closed
}

// HandleJoin is called when a remote participant joined the pad. When
// activated, the controller starts a call with them.
func (c *Controller) HandleJoin(ctx context.Context, peerID string) error {
	if !c.isActivated() {
		return nil
	}
	return c.InvitePeer(ctx, peerID)
}

// HandleLeave is called when a remote participant left the pad. Their
// call is torn down, without scheduling a new one.
func (c *Controller) HandleLeave(peerID string) error {
	peer, ok := c.peers.Pop(peerID)
	if !ok {
		return nil
	}
	return peer.Close()
}

// InvitePeer starts a call with peerID, creating the peer state on
// demand. Inviting a peer the controller already calls is a no-op.
func (c *Controller) InvitePeer(ctx context.Context, peerID string) error {
	peer, err := c.getOrCreatePeer(peerID)
	if err != nil {
		return err
	}
	return peer.Start(ctx)
}

// HandleMessage processes an incoming signal sent by the participant
// from. Signals from unknown participants are discarded unless the
// controller is activated and the signal starts a call.
func (c *Controller) HandleMessage(ctx context.Context, from string, signal *signaling.Signal) error {
	if from == c.ownID {
		return fmt.Errorf("received own signal, duplicate participant id: %s", from)
	}

	peer, ok := c.peers.Get(from)
	if !ok {
		if !c.isActivated() {
			return nil
		}
		if signal.Invite == "" && signal.Description == nil {
			// Stray candidate or hangup for a call which no longer
			// exists.
			c.logger.WithField("peer", from).Debugln("discarding signal from unknown peer")
			return nil
		}
		var err error
		peer, err = c.getOrCreatePeer(from)
		if err != nil {
			return err
		}
	}

	return peer.ReceiveMessage(ctx, signal)
}

func (c *Controller) getOrCreatePeer(peerID string) (*PeerState, error) {
	if peerID == "" {
		return nil, fmt.Errorf("empty peer id")
	}
	if peerID == c.ownID {
		return nil, fmt.Errorf("cannot call own participant id: %s", peerID)
	}

	if peer, ok := c.peers.Get(peerID); ok {
		return peer, nil
	}

	peer := newPeerState(&peerStateOptions{
		logger: c.logger,
		ownID:  c.ownID,
		peerID: peerID,
		send: func(signal *signaling.Signal) error {
			return c.send(peerID, signal)
		},
		tracks:        c.tracks,
		api:           c.api,
		configuration: c.configuration,
		counter:       &c.counter,
		session:       c.session,
	})
	if !c.peers.SetIfAbsent(peerID, peer) {
		// Raced with another creation, use the winner.
		peer, _ = c.peers.Get(peerID)
		return peer, nil
	}

	peer.OnClosed(func() {
		c.handlePeerClosed(peerID, peer)
	})
	if c.onStream != nil {
		peer.OnStream(func(stream *RemoteStream) {
			c.onStream(peerID, stream)
		})
	}
	if c.onStreamGone != nil {
		peer.OnStreamGone(func() {
			c.onStreamGone(peerID)
		})
	}

	return peer, nil
}

// handlePeerClosed removes a peer whose connection closed down and,
// while the controller stays activated, schedules a fresh invite after
// a randomized delay.
func (c *Controller) handlePeerClosed(peerID string, peer *PeerState) {
	removed := c.peers.RemoveCb(peerID, func(key string, current *PeerState, exists bool) bool {
		return exists && current == peer
	})
	if !removed || !c.isActivated() {
		return
	}

	delay := peerRetryDelay + time.Duration(rand.Int63n(int64(peerRetryDelayJitter)))
	c.logger.WithFields(logrus.Fields{
		"peer":  peerID,
		"delay": delay,
	}).Debugln("scheduling peer re-invite")

	time.AfterFunc(delay, func() {
		if !c.isActivated() {
			return
		}
		if _, exists := c.peers.Get(peerID); exists {
			return
		}
		if err := c.InvitePeer(context.Background(), peerID); err != nil {
			c.logger.WithError(err).WithField("peer", peerID).Warnln("failed to re-invite peer")
		}
	})
}
