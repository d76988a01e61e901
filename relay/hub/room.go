/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/padcall/padcall/internal/signaling"
)

// A Room holds the connected participants of one pad.
type Room struct {
	id     string
	logger logrus.FieldLogger
	hub    *Hub

	connections cmap.ConcurrentMap[string, *connection]
}

func newRoom(hub *Hub, padID string) *Room {
	return &Room{
		id:     padID,
		logger: hub.logger.WithField("pad", padID),
		hub:    hub,

		connections: cmap.New[*connection](),
	}
}

// ID returns the pad this room belongs to.
func (r *Room) ID() string {
	return r.id
}

// RoomResource is the wire representation of a room in the admin API.
type RoomResource struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

// Resource returns the admin API representation of the room.
func (r *Room) Resource() *RoomResource {
	return &RoomResource{
		ID:           r.id,
		Participants: r.Participants(),
	}
}

// Count returns the number of connected participants.
func (r *Room) Count() int {
	return r.connections.Count()
}

// Participants returns the IDs of the connected participants.
func (r *Room) Participants() []string {
	return r.connections.Keys()
}

// add registers c with the room. A lingering connection of the same
// participant is superseded and closed.
func (r *Room) add(c *connection) {
	var superseded *connection
	r.connections.Upsert(c.participant, c, func(exists bool, current, incoming *connection) *connection {
		if exists {
			superseded = current
		}
		return incoming
	})
	if superseded != nil {
		r.logger.WithField("participant", c.participant).Debugln("superseding lingering connection")
		superseded.close(websocket.StatusPolicyViolation, "superseded")
	}
}

// remove unregisters c, unless the participant reconnected already.
func (r *Room) remove(c *connection) bool {
	return r.connections.RemoveCb(c.participant, func(key string, current *connection, exists bool) bool {
		return exists && current == c
	})
}

// broadcast delivers message to every participant except the one named
// by exclude.
func (r *Room) broadcast(ctx context.Context, exclude string, message *signaling.Message) {
	for entry := range r.connections.IterBuffered() {
		if entry.Key == exclude {
			continue
		}
		if err := entry.Val.send(ctx, message); err != nil {
			r.logger.WithError(err).WithField("participant", entry.Key).Debugln("failed to deliver broadcast")
		}
	}
}

// forward delivers message to the participant it is addressed to.
// Messages for participants who are not connected are dropped, the
// sender retries on its own schedule anyway.
func (r *Room) forward(ctx context.Context, message *signaling.Message) {
	target, ok := r.connections.Get(message.To)
	if !ok {
		r.hub.droppedCounter.Inc()
		r.logger.WithFields(logrus.Fields{
			"from": message.From,
			"to":   message.To,
		}).Debugln("dropping message for absent participant")
		return
	}
	if err := target.send(ctx, message); err != nil {
		r.logger.WithError(err).WithField("participant", message.To).Debugln("failed to deliver message")
	}
}
