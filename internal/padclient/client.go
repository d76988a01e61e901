/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package padclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	cfg "github.com/padcall/padcall/config"
	"github.com/padcall/padcall/internal/bpool"
	"github.com/padcall/padcall/internal/rtc"
	"github.com/padcall/padcall/internal/signaling"
)

const (
	websocketMaxMessageSize = 1048576
	websocketWriteTimeout   = 10 * time.Second
	settingsTimeout         = 30 * time.Second
)

// Config bundles the dependencies of a Client.
type Config struct {
	Config *cfg.Config

	Logger     logrus.FieldLogger
	HTTPClient *http.Client

	// Token authenticates with the relay when it requires one.
	Token string

	Media        rtc.MediaProvider
	OnStream     func(peerID string, stream *rtc.RemoteStream)
	OnStreamGone func(peerID string)
}

// Client joins a pad's call through a relay. Each Start builds a fresh
// call controller from the settings the relay pushes, runs it until
// the connection ends and tears it down again.
type Client struct {
	uri         *url.URL
	padID       string
	participant string

	config *Config
	logger logrus.FieldLogger

	wsCtx    context.Context
	wsCancel context.CancelFunc
	ws       *websocket.Conn

	sendMutex sync.Mutex

	controller *rtc.Controller
}

func NewClient(uri *url.URL, padID, participant string, config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	switch uri.Scheme {
	case "https":
	case "http":
	default:
		return nil, errors.New("unknown URI scheme")
	}
	if padID == "" || participant == "" {
		return nil, errors.New("pad and participant are required")
	}

	c := &Client{
		uri:         uri,
		padID:       padID,
		participant: participant,

		config: config,
		logger: config.Logger.WithFields(logrus.Fields{
			"pad":         padID,
			"participant": participant,
		}),
	}
	return c, nil
}

// Start connects to the relay and joins the call. It blocks until the
// connection ends or ctx is done.
func (c *Client) Start(ctx context.Context) error {
	baseURI, err := asWebsocketURL(c.uri.String())
	if err != nil {
		return fmt.Errorf("failed to parse relay base URL: %w", err)
	}
	uri := baseURI + "/padcall/ws/" + url.PathEscape(c.padID)
	if c.config.Token != "" {
		uri += "?token=" + url.QueryEscape(c.config.Token)
	} else {
		uri += "?participant=" + url.QueryEscape(c.participant)
	}

	c.wsCtx, c.wsCancel = context.WithCancel(ctx)
	defer c.wsCancel()

	options := &websocket.DialOptions{
		HTTPClient:   c.config.HTTPClient,
		Subprotocols: []string{"padcall-protocol"},
	}
	ws, _, err := websocket.Dial(c.wsCtx, uri, options)
	if err != nil {
		return fmt.Errorf("failed to connect relay websocket: %w", err)
	}
	ws.SetReadLimit(websocketMaxMessageSize)
	c.ws = ws
	defer ws.Close(websocket.StatusNormalClosure, "")

	// The first message carries the pad settings which configure the
	// call controller.
	settings, err := c.readSettings()
	if err != nil {
		return err
	}

	controller, err := rtc.NewController(c.participant, c.sendSignal, &rtc.Options{
		Logger:   c.logger,
		Settings: settings,
		Media:    c.config.Media,

		OnStream:     c.config.OnStream,
		OnStreamGone: c.config.OnStreamGone,

		ICEInterfaces:            c.config.Config.ICEInterfaces,
		ICENetworkTypes:          c.config.Config.ICENetworkTypes,
		ICEEphemeralUDPPortRange: c.config.Config.ICEEphemeralUDPPortRange,
	})
	if err != nil {
		return fmt.Errorf("failed to create call controller: %w", err)
	}
	c.controller = controller
	defer func() {
		c.controller = nil
		controller.Close()
	}()

	if settings.Enabled {
		if err = controller.Activate(c.wsCtx); err != nil {
			return fmt.Errorf("failed to activate call controller: %w", err)
		}
	} else {
		c.logger.Infoln("calls are disabled for this pad, staying passive")
	}

	c.logger.Infoln("relay connection established")
	return c.readPump()
}

// readSettings consumes the initial settings push.
func (c *Client) readSettings() (*signaling.PadSettings, error) {
	ctx, cancel := context.WithTimeout(c.wsCtx, settingsTimeout)
	defer cancel()

	_, b, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings from relay: %w", err)
	}

	message := &signaling.Message{}
	if err = json.Unmarshal(b, message); err != nil {
		return nil, fmt.Errorf("failed to parse settings from relay: %w", err)
	}

	switch message.Type {
	case signaling.MessageTypeNameSettings:
		if message.Settings == nil {
			return nil, errors.New("relay settings push without settings")
		}
		if err = message.Settings.Validate(); err != nil {
			return nil, fmt.Errorf("relay pushed invalid settings: %w", err)
		}
		return message.Settings, nil

	case signaling.MessageTypeNameError:
		return nil, fmt.Errorf("relay refused connection: %s", message.Code)

	default:
		return nil, fmt.Errorf("expected settings from relay, got %s", message.Type)
	}
}

func (c *Client) readPump() error {
	var mt websocket.MessageType
	var reader io.Reader
	var b *bytes.Buffer
	var err error
	for {
		mt, reader, err = c.ws.Reader(c.wsCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.logger.WithField("status_code", websocket.CloseStatus(err)).Debugln("relay connection close")
				return nil
			}
			c.logger.WithError(err).Errorln("relay connection failed to get reader")
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
			c.logger.WithError(err).Errorln("relay connection websocket message parse error")
			continue
		}

		if err = c.handleMessage(message); err != nil {
			c.logger.WithError(err).Errorln("error while processing relay message")
			return err
		}
	}
}

func (c *Client) handleMessage(message *signaling.Message) error {
	switch message.Type {
	case signaling.MessageTypeNameSignal:
		signal := &signaling.Signal{}
		if err := json.Unmarshal(message.Data, signal); err != nil {
			c.logger.WithError(err).Debugln("ignoring malformed signal")
			return nil
		}
		if err := c.controller.HandleMessage(c.wsCtx, message.From, signal); err != nil {
			c.logger.WithError(err).WithField("peer", message.From).Warnln("failed to handle signal")
		}

	case signaling.MessageTypeNameJoin:
		if err := c.controller.HandleJoin(c.wsCtx, message.From); err != nil {
			c.logger.WithError(err).WithField("peer", message.From).Warnln("failed to handle join")
		}

	case signaling.MessageTypeNameLeave:
		if err := c.controller.HandleLeave(message.From); err != nil {
			c.logger.WithError(err).WithField("peer", message.From).Warnln("failed to handle leave")
		}

	case signaling.MessageTypeNameSettings:
		// Settings are applied on connect. A changed push takes effect
		// with the next reconnect.
		c.logger.Debugln("ignoring settings update on established connection")

	case signaling.MessageTypeNameError:
		return fmt.Errorf("relay error: %s", message.Code)

	default:
		c.logger.WithField("type", message.Type).Warnln("relay connection received unknown message type")
	}

	return nil
}

// sendSignal wraps a call signal for peerID and sends it to the relay.
func (c *Client) sendSignal(peerID string, signal *signaling.Signal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return err
	}

	b, err := json.Marshal(&signaling.Message{
		Type: signaling.MessageTypeNameSignal,
		To:   peerID,
		Data: data,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.wsCtx, websocketWriteTimeout)
	defer cancel()

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, b)
}

// Close ends the relay connection.
func (c *Client) Close() error {
	if c.wsCancel != nil {
		c.wsCancel()
	}
	return nil
}
