/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/padcall/padcall/internal/signaling"
	api "github.com/padcall/padcall/relay/api-v0"
)

// ServeWebsocket upgrades the request to a websocket and runs the
// relay connection for the requested pad until it ends.
func (h *Hub) ServeWebsocket(rw http.ResponseWriter, req *http.Request) {
	padID, _ := api.GetRequestVar(req, "padID")
	if padID == "" {
		http.Error(rw, "missing pad", http.StatusBadRequest)
		return
	}

	participant, err := h.authenticate(req, padID)
	if err != nil {
		h.logger.WithError(err).WithField("pad", padID).Debugln("rejecting relay connection")
		http.Error(rw, "authentication failed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(rw, req, &websocket.AcceptOptions{
		Subprotocols: []string{"padcall-protocol"},
	})
	if err != nil {
		h.logger.WithError(err).Debugln("failed to accept relay websocket")
		return
	}
	ws.SetReadLimit(websocketMaxMessageSize)

	if !h.settings.Enabled {
		// Calls are switched off for this instance, tell the client
		// and go away.
		if b, marshalErr := json.Marshal(&signaling.Message{
			Type: signaling.MessageTypeNameError,
			Code: signaling.ErrorCodeConfiguration,
		}); marshalErr == nil {
			ws.Write(req.Context(), websocket.MessageText, b)
		}
		ws.Close(websocket.StatusPolicyViolation, "disabled")
		return
	}

	room := h.getOrCreateRoom(padID)
	c := newConnection(h.ctx, room, participant, ws)
	room.add(c)

	atomic.AddUint64(&h.count, 1)
	h.connectionsGauge.Inc()
	if h.presence != nil {
		h.presence.Join(h.ctx, padID, participant)
	}
	c.logger.Debugln("relay connection established")

	// The client configures itself from the settings pushed here,
	// before any signaling flows.
	if err = c.send(c.ctx, &signaling.Message{
		Type:     signaling.MessageTypeNameSettings,
		Settings: h.settings,
	}); err != nil {
		c.logger.WithError(err).Debugln("failed to push settings")
	}
	room.broadcast(c.ctx, participant, &signaling.Message{
		Type: signaling.MessageTypeNameJoin,
		From: participant,
	})

	err = c.readPump()
	if err != nil {
		c.logger.WithError(err).Errorln("relay connection read error")
	}

	if room.remove(c) {
		room.broadcast(h.ctx, participant, &signaling.Message{
			Type: signaling.MessageTypeNameLeave,
			From: participant,
		})
		if h.presence != nil {
			h.presence.Leave(h.ctx, padID, participant)
		}
	}
	h.removeRoomWhenEmpty(room)

	atomic.AddUint64(&h.count, ^uint64(0))
	h.connectionsGauge.Dec()
	c.close(websocket.StatusNormalClosure, "")
	c.logger.Debugln("relay connection ended")
}

func (h *Hub) HTTPPadsHandler(rw http.ResponseWriter, req *http.Request) {
	padID, _ := api.GetRequestVar(req, "padID")

	var resource interface{}
	if padID == "" {
		var pads []interface{}
		for _, room := range h.Rooms() {
			pads = append(pads, room.Resource())
		}
		resource = api.NewCollectionResource(pads, req)
	} else {
		room := h.getRoomResourceOrWriteError(padID, rw)
		if room == nil {
			return
		}
		resource = api.NewItemResource(room, req)
	}

	if writeErr := api.WriteResourceAsJSON(rw, resource); writeErr != nil {
		h.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

func (h *Hub) getRoomResourceOrWriteError(padID string, rw http.ResponseWriter) *RoomResource {
	room, ok := h.GetRoom(padID)
	if !ok {
		if writeErr := api.WriteErrorAsJSON(rw, api.NewErrorWithCodeAndMessage(
			"ErrorMessagePadNotFound",
			"The specified pad has no active call",
			api.ErrNotFound,
		)); writeErr != nil {
			h.logger.WithError(writeErr).Errorln("failed to write json error")
		}
		return nil
	}
	return room.Resource()
}

func (h *Hub) HTTPPadsParticipantsHandler(rw http.ResponseWriter, req *http.Request) {
	padID, _ := api.GetRequestVar(req, "padID")

	room := h.getRoomResourceOrWriteError(padID, rw)
	if room == nil {
		return
	}

	participantID, _ := api.GetRequestVar(req, "participantID")

	var resource interface{}
	if participantID == "" {
		ids := room.Participants
		if h.presence != nil {
			// The shared store also knows participants connected to
			// other relay instances.
			stored, err := h.presence.Participants(req.Context(), padID)
			if err != nil {
				h.logger.WithError(err).WithField("pad", padID).Warnln("failed to list stored presence")
			} else {
				ids = stored
			}
		}
		var participants []interface{}
		for _, participant := range ids {
			participants = append(participants, participant)
		}
		resource = api.NewCollectionResource(participants, req)
	} else {
		found := false
		for _, participant := range room.Participants {
			if participant == participantID {
				found = true
				break
			}
		}
		if !found {
			if writeErr := api.WriteErrorAsJSON(rw, api.NewErrorWithCodeAndMessage(
				"ErrorMessageParticipantNotFound",
				"The specified participant is not connected",
				api.ErrNotFound,
			)); writeErr != nil {
				h.logger.WithError(writeErr).Errorln("failed to write json error")
			}
			return
		}
		resource = api.NewItemResource(map[string]string{"id": participantID}, req)
	}

	if writeErr := api.WriteResourceAsJSON(rw, resource); writeErr != nil {
		h.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}
