/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/padcall/padcall/internal/bpool"
	"github.com/padcall/padcall/internal/signaling"
)

const (
	websocketMaxMessageSize = 1048576
	websocketWriteTimeout   = 10 * time.Second
)

// connection is a single participant's websocket in a room. The id
// tells apart successive connections of the same participant in logs.
type connection struct {
	id     string
	logger logrus.FieldLogger

	room        *Room
	participant string

	ctx    context.Context
	cancel context.CancelFunc
	ws     *websocket.Conn

	sendMutex sync.Mutex
}

func newConnection(ctx context.Context, room *Room, participant string, ws *websocket.Conn) *connection {
	id := uuid.NewString()
	c := &connection{
		id: id,
		logger: room.logger.WithFields(logrus.Fields{
			"participant": participant,
			"connection":  id,
		}),

		room:        room,
		participant: participant,

		ws: ws,
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	return c
}

// send delivers message over the websocket. Writes are serialized, the
// websocket allows only one writer at a time.
func (c *connection) send(ctx context.Context, message *signaling.Message) error {
	b, err := json.Marshal(message)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, websocketWriteTimeout)
	defer cancel()

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, b)
}

// readPump reads and dispatches messages until the connection ends.
func (c *connection) readPump() error {
	var mt websocket.MessageType
	var reader io.Reader
	var b *bytes.Buffer
	var err error
	for {
		mt, reader, err = c.ws.Reader(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.logger.WithField("status_code", websocket.CloseStatus(err)).Debugln("relay connection close")
				return nil
			}
			if websocket.CloseStatus(err) != -1 {
				c.logger.WithField("status_code", websocket.CloseStatus(err)).Debugln("relay connection closed unexpectedly")
				return nil
			}
			return err
		}

		b = bpool.Get()
		if _, err = b.ReadFrom(reader); err != nil {
			bpool.Put(b)
			return err
		}

		switch mt {
		case websocket.MessageText:
		default:
			c.logger.WithField("message_type", mt).Warnln("relay connection received unknown websocket message type")
			bpool.Put(b)
			continue
		}

		message := &signaling.Message{}
		err = json.Unmarshal(b.Bytes(), message)
		bpool.Put(b)
		if err != nil {
			c.logger.WithError(err).Debugln("relay connection websocket message parse error")
			continue
		}

		c.handleMessage(message)
	}
}

func (c *connection) handleMessage(message *signaling.Message) {
	switch message.Type {
	case signaling.MessageTypeNameSignal:
		c.room.hub.messagesCounter.WithLabelValues(message.Type).Inc()
		// The relay stamps the sender, clients cannot impersonate each
		// other.
		message.From = c.participant
		if message.To == "" {
			c.room.broadcast(c.ctx, c.participant, message)
		} else {
			c.room.forward(c.ctx, message)
		}

	default:
		// The label must stay low cardinality, the type string is
		// client controlled.
		c.room.hub.messagesCounter.WithLabelValues("unknown").Inc()
		c.logger.WithField("type", message.Type).Warnln("relay connection received unknown message type")
	}
}

func (c *connection) close(code websocket.StatusCode, reason string) {
	c.cancel()
	c.ws.Close(code, reason)
}
