/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package rtc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/padcall/padcall/internal/signaling"
)

// maxNegotiationFailures is the number of consecutive connection
// attempt failures tolerated for a single peer before giving up and
// surfacing the error.
const maxNegotiationFailures = 10

// A RemoteStream bundles the remote tracks received from a peer.
type RemoteStream struct {
	ID    string
	Audio *webrtc.TrackRemote
	Video *webrtc.TrackRemote
}

type queuedEvent struct {
	name string
	data interface{}
}

// PeerState drives the WebRTC connection to a single remote
// participant. It consumes the peer's signaling, owns the underlying
// peer connection including all its callbacks, and keeps outgoing
// media attached across track replacement and renegotiation.
//
// All exported methods are safe for concurrent use. Events are always
// emitted outside of the state lock.
type PeerState struct {
	emitter
	deadlock.Mutex

	logger logrus.FieldLogger

	ownID  string
	peerID string
	caller bool

	send          func(signal *signaling.Signal) error
	tracks        *LocalTracks
	api           *webrtc.API
	configuration webrtc.Configuration
	counter       *ConnectionCounter
	session       int64

	pc                *webrtc.PeerConnection
	instance          uint64
	remoteID          *signaling.ConnectionID
	transceivers      map[webrtc.RTPCodecType]*webrtc.RTPTransceiver
	pendingCandidates []webrtc.ICECandidateInit

	remoteStream *RemoteStream
	lastStream   *RemoteStream

	negotiationFailures int
	closed              bool

	offTrackChanged func()

	pending []queuedEvent
}

type peerStateOptions struct {
	logger        logrus.FieldLogger
	ownID         string
	peerID        string
	send          func(signal *signaling.Signal) error
	tracks        *LocalTracks
	api           *webrtc.API
	configuration webrtc.Configuration
	counter       *ConnectionCounter
	session       int64
}

func newPeerState(options *peerStateOptions) *PeerState {
	peer := &PeerState{
		logger: options.logger.WithField("peer", options.peerID),

		ownID:  options.ownID,
		peerID: options.peerID,
		caller: ComputeCaller(options.ownID, options.peerID),

		send:          options.send,
		tracks:        options.tracks,
		api:           options.api,
		configuration: options.configuration,
		counter:       options.counter,
		session:       options.session,
	}
	return peer
}

// PeerID returns the remote participant this peer state belongs to.
func (peer *PeerState) PeerID() string {
	return peer.peerID
}

// Caller reports whether the local side creates the offer for this
// pairing.
func (peer *PeerState) Caller() bool {
	return peer.caller
}

// OnStream registers fn to run when remote media becomes available.
func (peer *PeerState) OnStream(fn func(*RemoteStream)) func() {
	return peer.on(EventStream, func(data interface{}) {
		fn(data.(*RemoteStream))
	})
}

// OnStreamGone registers fn to run when remote media went away.
func (peer *PeerState) OnStreamGone(fn func()) func() {
	return peer.on(EventStreamGone, func(interface{}) {
		fn()
	})
}

// OnClosed registers fn to run when the peer state closed down on its
// own, for example after exhausting its connection attempts. It does
// not fire for an explicit Close.
func (peer *PeerState) OnClosed(fn func()) func() {
	return peer.on(EventClosed, func(interface{}) {
		fn()
	})
}

// dispatchAndUnlock releases the state lock and then delivers the
// events queued while it was held. Listeners can call back into the
// peer state without deadlocking.
func (peer *PeerState) dispatchAndUnlock() {
	events := peer.pending
	peer.pending = nil
	peer.Unlock()

	for _, event := range events {
		peer.emit(event.name, event.data)
	}
}

func (peer *PeerState) queueEvent(name string, data interface{}) {
	peer.pending = append(peer.pending, queuedEvent{name, data})
}

// Start begins connection establishment. The caller side creates the
// peer connection and lets negotiation produce the offer, the answerer
// side invites the caller to do so and repeats the invite when started
// again. Starting a connected or closed peer state is a no-op.
func (peer *PeerState) Start(ctx context.Context) error {
	peer.Lock()
	defer peer.dispatchAndUnlock()

	if peer.closed || peer.pc != nil {
		return nil
	}
	return peer.startLocked(ctx)
}

func (peer *PeerState) startLocked(ctx context.Context) error {
	if peer.caller {
		return peer.createConnectionLocked(ctx)
	}

	peer.beginAttemptLocked()
	return peer.sendSignalLocked(&signaling.Signal{
		Invite: signaling.SignalValueInvite,
	})
}

// beginAttemptLocked draws a fresh connection instance number for a new
// connection attempt. The number stays fixed for the whole attempt so
// the first signaling of an attempt and the signaling of its eventual
// peer connection carry the same identity.
func (peer *PeerState) beginAttemptLocked() {
	if peer.instance == 0 {
		peer.instance = peer.counter.Next()
	}
}

func (peer *PeerState) ownConnectionIDLocked() *signaling.ConnectionID {
	return &signaling.ConnectionID{
		Session:  peer.session,
		Instance: peer.instance,
	}
}

func (peer *PeerState) sendSignalLocked(signal *signaling.Signal) error {
	signal.IDs = &signaling.ConnectionIDs{
		From: peer.ownConnectionIDLocked(),
		To:   peer.remoteID,
	}
	if err := peer.send(signal); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}

// ReceiveMessage processes an incoming signal from the remote side.
// Signaling which belongs to a superseded connection on either end is
// dropped silently. Errors while applying descriptions or candidates
// count as a failed connection attempt and trigger a restart, until
// the attempt limit is reached.
func (peer *PeerState) ReceiveMessage(ctx context.Context, signal *signaling.Signal) error {
	peer.Lock()
	defer peer.dispatchAndUnlock()

	if peer.closed {
		return nil
	}

	if signal.Hangup != "" {
		peer.closeLocked(false, true)
		return nil
	}

	if cont := peer.checkIDsLocked(ctx, signal.IDs); !cont {
		return nil
	}

	if signal.Invite != "" {
		if !peer.caller {
			peer.logger.Debugln("ignoring invite on answerer side")
			return nil
		}
		if peer.pc != nil {
			// Already connecting, the pending offer covers the invite.
			return nil
		}
		return peer.createConnectionLocked(ctx)
	}

	if signal.Description != nil {
		if err := peer.handleDescriptionLocked(ctx, signal.Description); err != nil {
			return peer.failLocked(ctx, err)
		}
	}

	if len(signal.Candidate) > 0 {
		if err := peer.handleCandidateLocked(signal.Candidate); err != nil {
			return peer.failLocked(ctx, err)
		}
	}

	return nil
}

// checkIDsLocked validates the connection identifiers of an incoming
// signal. It returns false when the signal is stale or superseding and
// must not be processed further.
func (peer *PeerState) checkIDsLocked(ctx context.Context, ids *signaling.ConnectionIDs) bool {
	if ids == nil {
		return true
	}

	if to := ids.To; to != nil {
		if own := peer.ownConnectionIDLocked(); !to.Equal(*own) {
			peer.logger.WithFields(logrus.Fields{
				"to":  fmt.Sprintf("%d.%d", to.Session, to.Instance),
				"own": fmt.Sprintf("%d.%d", own.Session, own.Instance),
			}).Debugln("dropping signal for superseded own connection")
			return false
		}
	}

	from := ids.From
	if from == nil {
		return true
	}
	switch {
	case peer.remoteID == nil:
		peer.remoteID = from
	case peer.remoteID.Equal(*from):
		// Current remote connection.
	case from.Session == peer.remoteID.Session && from.Instance < peer.remoteID.Instance:
		peer.logger.Debugln("dropping signal from superseded remote connection")
		return false
	default:
		// The remote side started over. Drop the local connection,
		// adopt the new identity and start fresh. The current signal
		// is not processed further, the restart produces new ones.
		peer.logger.Debugln("remote connection superseded, resetting")
		peer.resetLocked()
		peer.remoteID = from
		if err := peer.startLocked(ctx); err != nil {
			peer.logger.WithError(err).Warnln("failed to restart after remote reset")
		}
		return false
	}
	return true
}

func (peer *PeerState) handleDescriptionLocked(ctx context.Context, description *signaling.SessionDescription) error {
	if peer.pc == nil {
		// An offer arriving before any local connection exists creates
		// it lazily on the answerer side.
		if err := peer.createConnectionLocked(ctx); err != nil {
			return err
		}
	}
	pc := peer.pc

	sd := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(description.Type),
		SDP:  description.SDP,
	}
	if err := pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	for _, candidate := range peer.pendingCandidates {
		if err := pc.AddICECandidate(candidate); err != nil {
			peer.logger.WithError(err).Warnln("failed to add queued ICE candidate")
		}
	}
	peer.pendingCandidates = nil

	switch sd.Type {
	case webrtc.SDPTypeOffer:
		if err := peer.attachLocalTracksLocked(pc); err != nil {
			return err
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		if err = pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local description: %w", err)
		}
		peer.adoptTransceiversLocked(pc)
		return peer.sendSignalLocked(&signaling.Signal{
			Description: &signaling.SessionDescription{
				Type: answer.Type.String(),
				SDP:  answer.SDP,
			},
		})

	case webrtc.SDPTypeAnswer:
		peer.negotiationFailures = 0
		return nil

	default:
		return fmt.Errorf("unexpected description type: %s", description.Type)
	}
}

// attachLocalTracksLocked adds the current local tracks to pc before an
// answer is created, so the answer advertises sending them.
func (peer *PeerState) attachLocalTracksLocked(pc *webrtc.PeerConnection) error {
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
	for _, kind := range kinds {
		track := peer.tracks.Get(kind)
		if track == nil {
			continue
		}
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("failed to add %s track: %w", kind, err)
		}
	}
	return nil
}

// adoptTransceiversLocked records the transceivers negotiation created,
// so later track replacement can address their senders directly.
func (peer *PeerState) adoptTransceiversLocked(pc *webrtc.PeerConnection) {
	for _, transceiver := range pc.GetTransceivers() {
		kind := transceiver.Kind()
		if _, have := peer.transceivers[kind]; have {
			continue
		}
		peer.transceivers[kind] = transceiver
		if sender := transceiver.Sender(); sender != nil {
			go peer.drainSenderRTCP(sender)
		}
	}
}

func (peer *PeerState) handleCandidateLocked(raw json.RawMessage) error {
	if string(raw) == "null" {
		return nil
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("failed to parse candidate: %w", err)
	}
	if candidate.Candidate == "" {
		// End of candidates marker.
		return nil
	}

	if peer.pc == nil || peer.pc.RemoteDescription() == nil {
		// Candidates can arrive before the description which they
		// belong to. Queue them until it is applied.
		peer.pendingCandidates = append(peer.pendingCandidates, candidate)
		return nil
	}
	if err := peer.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (peer *PeerState) createConnectionLocked(ctx context.Context) error {
	peer.beginAttemptLocked()

	pc, err := peer.api.NewPeerConnection(peer.configuration)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	peer.pc = pc
	peer.transceivers = make(map[webrtc.RTPCodecType]*webrtc.RTPTransceiver)
	peer.pendingCandidates = nil

	// All callbacks capture their pc and bail out when the peer state
	// has moved on to a replacement connection in the meantime.
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		peer.logger.WithField("state", state).Debugln("peer connection signaling state changed")
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		peer.handleICECandidate(pc, candidate)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		peer.handleConnectionStateChange(pc, state)
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		peer.handleRemoteTrack(pc, remote)
	})

	if peer.caller {
		// Registered before any transceiver is added. Adding one
		// already queues the negotiationneeded event and a handler
		// registered afterwards can miss it.
		pc.OnNegotiationNeeded(func() {
			peer.handleNegotiationNeeded(ctx, pc)
		})

		kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
		for _, kind := range kinds {
			transceiver, transceiverErr := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionSendrecv,
			})
			if transceiverErr != nil {
				peer.resetLocked()
				return fmt.Errorf("failed to add %s transceiver: %w", kind, transceiverErr)
			}
			peer.transceivers[kind] = transceiver
			if track := peer.tracks.Get(kind); track != nil {
				if replaceErr := transceiver.Sender().ReplaceTrack(track); replaceErr != nil {
					peer.logger.WithError(replaceErr).WithField("kind", kind).Warnln("failed to attach local track")
				}
			}
			go peer.drainSenderRTCP(transceiver.Sender())
		}
	}

	if peer.offTrackChanged == nil {
		peer.offTrackChanged = peer.tracks.OnTrackChanged(peer.handleTrackChanged)
	}

	return nil
}

func (peer *PeerState) handleNegotiationNeeded(ctx context.Context, pc *webrtc.PeerConnection) {
	peer.Lock()
	defer peer.dispatchAndUnlock()
	if peer.pc != pc {
		return
	}

	if err := peer.negotiateLocked(); err != nil {
		if failErr := peer.failLocked(ctx, err); failErr != nil {
			peer.logger.WithError(failErr).Errorln("negotiation failed, giving up")
		}
	}
}

func (peer *PeerState) negotiateLocked() error {
	pc := peer.pc
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return peer.sendSignalLocked(&signaling.Signal{
		Description: &signaling.SessionDescription{
			Type: offer.Type.String(),
			SDP:  offer.SDP,
		},
	})
}

func (peer *PeerState) handleICECandidate(pc *webrtc.PeerConnection, candidate *webrtc.ICECandidate) {
	peer.Lock()
	defer peer.dispatchAndUnlock()
	if peer.pc != pc || candidate == nil {
		return
	}

	raw, err := json.Marshal(candidate.ToJSON())
	if err != nil {
		peer.logger.WithError(err).Errorln("failed to encode ICE candidate")
		return
	}
	if err = peer.sendSignalLocked(&signaling.Signal{Candidate: raw}); err != nil {
		peer.logger.WithError(err).Warnln("failed to send ICE candidate")
	}
}

func (peer *PeerState) handleConnectionStateChange(pc *webrtc.PeerConnection, state webrtc.PeerConnectionState) {
	peer.Lock()
	defer peer.dispatchAndUnlock()
	if peer.pc != pc {
		return
	}
	peer.logger.WithField("state", state).Debugln("peer connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		peer.negotiationFailures = 0
		if peer.remoteStream == nil && peer.lastStream != nil {
			// Reconnected without new tracks, the old stream is live
			// again.
			peer.remoteStream = peer.lastStream
			peer.lastStream = nil
			peer.queueEvent(EventStream, peer.remoteStream)
		}

	case webrtc.PeerConnectionStateDisconnected:
		if peer.remoteStream != nil {
			// Stash the stream, a reconnect restores it without
			// renegotiation.
			peer.lastStream = peer.remoteStream
			peer.remoteStream = nil
			peer.queueEvent(EventStreamGone, nil)
		}

	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if err := peer.failLocked(context.Background(), fmt.Errorf("connection entered %s state", state)); err != nil {
			peer.logger.WithError(err).Errorln("connection failed, giving up")
		}
	}
}

func (peer *PeerState) handleRemoteTrack(pc *webrtc.PeerConnection, remote *webrtc.TrackRemote) {
	peer.Lock()
	defer peer.dispatchAndUnlock()
	if peer.pc != pc {
		return
	}

	stream := peer.remoteStream
	if stream == nil {
		streamID := remote.StreamID()
		if streamID == "" {
			streamID = newRandomGUID()
		}
		stream = &RemoteStream{
			ID: streamID,
		}
		peer.remoteStream = stream
		peer.lastStream = nil
	}
	switch remote.Kind() {
	case webrtc.RTPCodecTypeAudio:
		stream.Audio = remote
	case webrtc.RTPCodecTypeVideo:
		stream.Video = remote
	default:
		return
	}

	peer.queueEvent(EventStream, stream)
}

// handleTrackChanged swaps the outgoing track on the matching sender
// without renegotiating.
func (peer *PeerState) handleTrackChanged(change *TrackChange) {
	peer.Lock()
	defer peer.dispatchAndUnlock()
	if peer.pc == nil {
		return
	}

	transceiver := peer.transceivers[change.Kind]
	if transceiver == nil || transceiver.Sender() == nil {
		return
	}
	if err := transceiver.Sender().ReplaceTrack(change.New); err != nil {
		// Replacement failures are fatal for this connection, a fresh
		// one picks the new track up on creation.
		peer.logger.WithError(err).WithField("kind", change.Kind).Warnln("failed to replace outgoing track")
		if failErr := peer.failLocked(context.Background(), err); failErr != nil {
			peer.logger.WithError(failErr).Errorln("track replacement failed, giving up")
		}
	}
}

// drainSenderRTCP reads RTCP reports for a sender until it closes.
// Reading is required for the sender's interceptors to run.
func (peer *PeerState) drainSenderRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				peer.logger.Debugln("received PLI for outgoing track")
			}
		}
	}
}

// failLocked records a failed connection attempt. The connection is
// torn down and restarted, unless the attempt limit is exhausted, in
// which case the peer state closes down and err surfaces to the
// caller.
func (peer *PeerState) failLocked(ctx context.Context, err error) error {
	peer.negotiationFailures++
	peer.logger.WithError(err).WithField("failures", peer.negotiationFailures).Warnln("peer connection attempt failed")

	if peer.negotiationFailures > maxNegotiationFailures {
		peer.closeLocked(true, true)
		return err
	}

	peer.resetLocked()
	if startErr := peer.startLocked(ctx); startErr != nil {
		return startErr
	}
	return nil
}

// resetLocked discards the current peer connection and all state bound
// to it, keeping the peer state itself usable for another attempt.
func (peer *PeerState) resetLocked() {
	pc := peer.pc
	peer.pc = nil
	peer.instance = 0
	peer.transceivers = nil
	peer.pendingCandidates = nil
	peer.lastStream = nil

	if peer.remoteStream != nil {
		peer.remoteStream = nil
		peer.queueEvent(EventStreamGone, nil)
	}

	if pc != nil {
		if err := pc.Close(); err != nil {
			peer.logger.WithError(err).Warnln("failed to close peer connection")
		}
	}
}

// Close shuts the peer state down, telling the remote side to hang up.
// Closing an already closed peer state is a no-op.
func (peer *PeerState) Close() error {
	peer.Lock()
	defer peer.dispatchAndUnlock()

	peer.closeLocked(true, false)
	return nil
}

func (peer *PeerState) closeLocked(sendHangup bool, emitEvent bool) {
	if peer.closed {
		return
	}
	peer.closed = true

	if peer.offTrackChanged != nil {
		peer.offTrackChanged()
		peer.offTrackChanged = nil
	}

	if sendHangup {
		if err := peer.sendSignalLocked(&signaling.Signal{Hangup: signaling.SignalValueHangup}); err != nil {
			peer.logger.WithError(err).Debugln("failed to send hangup")
		}
	}

	peer.resetLocked()

	if emitEvent {
		peer.queueEvent(EventClosed, nil)
	}
}
