/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package signaling

import (
	"encoding/json"
)

// Message type names as exchanged with the relay transport.
const (
	MessageTypeNameSignal   = "signal"
	MessageTypeNameJoin     = "join"
	MessageTypeNameLeave    = "leave"
	MessageTypeNameSettings = "settings"
	MessageTypeNameError    = "error"
)

// Error codes surfaced to clients. Details stay in the server log.
const (
	ErrorCodeConfiguration = "configuration"
)

// Fixed values carried by invite and hangup signals. The wire format
// defines the literal strings, both messages address their target via
// the envelope.
const (
	SignalValueInvite = "invite"
	SignalValueHangup = "hangup"
)

// Message is the container for all messages exchanged between pad
// participants and the relay. Signal payloads are carried opaque in Data,
// the relay never looks inside.
type Message struct {
	Type string `json:"type"`

	// From is the sending participant, stamped by the relay on inbound
	// signal messages. To addresses the target participant on outbound
	// signal messages, empty means broadcast to the whole pad.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Data     json.RawMessage `json:"data,omitempty"`
	Settings *PadSettings    `json:"settings,omitempty"`
	Code     string          `json:"code,omitempty"`
}

// Signal is the application level signaling payload carried inside a
// signal Message between two participants.
type Signal struct {
	IDs *ConnectionIDs `json:"ids,omitempty"`

	Invite string `json:"invite,omitempty"`
	Hangup string `json:"hangup,omitempty"`

	Description *SessionDescription `json:"description,omitempty"`
	Candidate   json.RawMessage     `json:"candidate,omitempty"`
}

// ConnectionID addresses one underlying peer connection. Session is a per
// page load timestamp, Instance increases on every new connection so that
// stale messages from before a reload or reset can be detected.
type ConnectionID struct {
	Session  int64  `json:"session"`
	Instance uint64 `json:"instance"`
}

// Equal reports whether both identifiers address the same connection.
func (id ConnectionID) Equal(other ConnectionID) bool {
	return id.Session == other.Session && id.Instance == other.Instance
}

// ConnectionIDs carries the source and optional destination connection
// addresses of a signal.
type ConnectionIDs struct {
	From *ConnectionID `json:"from,omitempty"`
	To   *ConnectionID `json:"to,omitempty"`
}

// SessionDescription is a WebRTC session description as exchanged on the
// wire, with Type being one of offer, answer, pranswer or rollback.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}
