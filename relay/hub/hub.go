/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"context"
	"errors"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	cfg "github.com/padcall/padcall/config"
	"github.com/padcall/padcall/internal/signaling"
)

// Hub relays call signaling between the participants of pads. Each pad
// maps to a room, participants connect to their pad's room over a
// websocket and the hub passes their signals along without looking at
// the payload.
type Hub struct {
	logger logrus.FieldLogger
	ctx    context.Context
	config *cfg.Config

	settings  *signaling.PadSettings
	jwtSecret []byte
	presence  presenceStore

	rooms cmap.ConcurrentMap[string, *Room]
	count uint64

	connectionsGauge prometheus.Gauge
	messagesCounter  *prometheus.CounterVec
	droppedCounter   prometheus.Counter
}

func NewHub(ctx context.Context, config *cfg.Config) (*Hub, error) {
	if config.Pad == nil {
		return nil, errors.New("hub requires pad settings")
	}
	if err := config.Pad.Validate(); err != nil {
		return nil, err
	}

	h := &Hub{
		logger: config.Logger.WithField("service", "hub"),
		ctx:    ctx,
		config: config,

		settings:  config.Pad,
		jwtSecret: config.JWTSecret,

		rooms: cmap.New[*Room](),

		connectionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Number of currently connected relay websocket connections.",
		}),
		messagesCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of relay messages processed.",
		}, []string{"type"}),
		droppedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Total number of relay messages dropped because their recipient was not connected.",
		}),
	}

	if config.RedisURL != "" {
		presence, err := NewPresence(config.RedisURL, h.logger)
		if err != nil {
			return nil, err
		}
		h.presence = presence
	}

	if config.Metrics != nil {
		config.Metrics.MustRegister(h.connectionsGauge, h.messagesCounter, h.droppedCounter)
	}

	return h, nil
}

// NumActive returns the number of currently connected participants.
func (h *Hub) NumActive() uint64 {
	return atomic.LoadUint64(&h.count)
}

// Rooms returns all rooms which currently have participants.
func (h *Hub) Rooms() []*Room {
	rooms := make([]*Room, 0, h.rooms.Count())
	for entry := range h.rooms.IterBuffered() {
		rooms = append(rooms, entry.Val)
	}
	return rooms
}

// GetRoom returns the room of the pad padID, when it has participants.
func (h *Hub) GetRoom(padID string) (*Room, bool) {
	return h.rooms.Get(padID)
}

func (h *Hub) getOrCreateRoom(padID string) *Room {
	if room, ok := h.rooms.Get(padID); ok {
		return room
	}

	room := newRoom(h, padID)
	if !h.rooms.SetIfAbsent(padID, room) {
		room, _ = h.rooms.Get(padID)
	}
	return room
}

// removeRoomWhenEmpty drops a room which lost its last participant. A
// new participant for the same pad gets a fresh room.
func (h *Hub) removeRoomWhenEmpty(room *Room) {
	h.rooms.RemoveCb(room.id, func(key string, current *Room, exists bool) bool {
		return exists && current == room && current.Count() == 0
	})
}

// Close releases the hub's external resources.
func (h *Hub) Close() error {
	if h.presence != nil {
		return h.presence.Close()
	}
	return nil
}
