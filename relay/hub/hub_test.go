/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	cfg "github.com/padcall/padcall/config"
	"github.com/padcall/padcall/internal/signaling"
)

func newTestHub(t *testing.T, config *cfg.Config) (*Hub, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if config == nil {
		config = &cfg.Config{}
	}
	if config.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		config.Logger = logger
	}
	if config.Pad == nil {
		config.Pad = &signaling.PadSettings{
			Enabled: true,
		}
	}

	h, err := NewHub(ctx, config)
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	t.Cleanup(func() {
		h.Close()
	})

	router := mux.NewRouter()
	router.HandleFunc("/padcall/ws/{padID}", h.ServeWebsocket)
	router.HandleFunc("/api/padcall/v0/relay/pads/{padID}/participants", h.HTTPPadsParticipantsHandler)
	httpServer := httptest.NewServer(router)
	t.Cleanup(httpServer.Close)

	return h, httpServer
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialTestClient(t *testing.T, httpServer *httptest.Server, padID, participant string) *testClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/padcall/ws/" + padID + "?participant=" + participant
	ws, _, err := websocket.Dial(ctx, uri, &websocket.DialOptions{
		Subprotocols: []string{"padcall-protocol"},
	})
	if err != nil {
		t.Fatalf("failed to dial as %s: %v", participant, err)
	}
	t.Cleanup(func() {
		ws.Close(websocket.StatusNormalClosure, "")
	})

	return &testClient{t: t, ws: ws}
}

func (c *testClient) read() *signaling.Message {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	message := &signaling.Message{}
	if err := wsjson.Read(ctx, c.ws, message); err != nil {
		c.t.Fatalf("failed to read message: %v", err)
	}
	return message
}

func (c *testClient) write(message *signaling.Message) {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, c.ws, message); err != nil {
		c.t.Fatalf("failed to write message: %v", err)
	}
}

func (c *testClient) expect(messageType string) *signaling.Message {
	c.t.Helper()

	message := c.read()
	if message.Type != messageType {
		c.t.Fatalf("got message type %q, want %q", message.Type, messageType)
	}
	return message
}

func TestHubRelaysSignals(t *testing.T) {
	h, httpServer := newTestHub(t, nil)

	alice := dialTestClient(t, httpServer, "pad1", "alice")
	alice.expect(signaling.MessageTypeNameSettings)

	bob := dialTestClient(t, httpServer, "pad1", "bob")
	bob.expect(signaling.MessageTypeNameSettings)
	if join := alice.expect(signaling.MessageTypeNameJoin); join.From != "bob" {
		t.Fatalf("join from = %q, want bob", join.From)
	}

	carol := dialTestClient(t, httpServer, "pad1", "carol")
	carol.expect(signaling.MessageTypeNameSettings)
	alice.expect(signaling.MessageTypeNameJoin)
	bob.expect(signaling.MessageTypeNameJoin)

	if active := h.NumActive(); active != 3 {
		t.Errorf("NumActive = %d, want 3", active)
	}

	// A targeted signal reaches exactly its recipient, stamped with
	// the real sender.
	alice.write(&signaling.Message{
		Type: signaling.MessageTypeNameSignal,
		From: "mallory", // Must be overwritten by the relay.
		To:   "bob",
		Data: json.RawMessage(`{"invite":"invite"}`),
	})
	targeted := bob.expect(signaling.MessageTypeNameSignal)
	if targeted.From != "alice" {
		t.Errorf("signal from = %q, want alice", targeted.From)
	}
	var targetedSignal signaling.Signal
	if err := json.Unmarshal(targeted.Data, &targetedSignal); err != nil {
		t.Fatalf("failed to parse signal data: %v", err)
	}
	if targetedSignal.Invite != signaling.SignalValueInvite {
		t.Errorf("signal invite = %q, want %q", targetedSignal.Invite, signaling.SignalValueInvite)
	}

	// A broadcast reaches everybody but the sender. Since message
	// delivery per connection is ordered, carol seeing the broadcast
	// as her next message proves she never got the targeted signal.
	alice.write(&signaling.Message{
		Type: signaling.MessageTypeNameSignal,
		Data: json.RawMessage(`{"hangup":"hangup"}`),
	})
	bob.expect(signaling.MessageTypeNameSignal)
	broadcast := carol.expect(signaling.MessageTypeNameSignal)
	if broadcast.From != "alice" {
		t.Errorf("broadcast from = %q, want alice", broadcast.From)
	}
	var broadcastSignal signaling.Signal
	if err := json.Unmarshal(broadcast.Data, &broadcastSignal); err != nil {
		t.Fatalf("failed to parse broadcast data: %v", err)
	}
	if broadcastSignal.Hangup == "" {
		t.Error("broadcast did not carry the hangup")
	}

	// Messages for absent participants are dropped silently, nobody
	// else sees them.
	alice.write(&signaling.Message{
		Type: signaling.MessageTypeNameSignal,
		To:   "nobody",
		Data: json.RawMessage(`{"invite":"invite"}`),
	})

	// Leaving broadcasts to the remaining participants.
	bob.ws.Close(websocket.StatusNormalClosure, "")
	if leave := alice.expect(signaling.MessageTypeNameLeave); leave.From != "bob" {
		t.Errorf("leave from = %q, want bob", leave.From)
	}
	carol.expect(signaling.MessageTypeNameLeave)
}

func TestHubRoomsAreIsolated(t *testing.T) {
	_, httpServer := newTestHub(t, nil)

	alice := dialTestClient(t, httpServer, "pad1", "alice")
	alice.expect(signaling.MessageTypeNameSettings)
	bob := dialTestClient(t, httpServer, "pad2", "bob")
	bob.expect(signaling.MessageTypeNameSettings)

	// bob is in another pad, alice must not see a join for him. Make
	// carol join alice's pad, her join has to be the next message.
	carol := dialTestClient(t, httpServer, "pad1", "carol")
	carol.expect(signaling.MessageTypeNameSettings)
	if join := alice.expect(signaling.MessageTypeNameJoin); join.From != "carol" {
		t.Fatalf("join from = %q, want carol", join.From)
	}
}

func TestHubRejectsAnonymous(t *testing.T) {
	_, httpServer := newTestHub(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/padcall/ws/pad1"
	_, _, err := websocket.Dial(ctx, uri, nil) //nolint:bodyclose
	if err == nil {
		t.Fatal("expected handshake to fail without participant")
	}
}

func TestHubCountsUnknownMessageTypes(t *testing.T) {
	h, httpServer := newTestHub(t, nil)

	alice := dialTestClient(t, httpServer, "pad1", "alice")
	alice.expect(signaling.MessageTypeNameSettings)
	bob := dialTestClient(t, httpServer, "pad1", "bob")
	bob.expect(signaling.MessageTypeNameSettings)
	alice.expect(signaling.MessageTypeNameJoin)

	// Clients pick the type string, it must not become a metric label.
	alice.write(&signaling.Message{
		Type: "bogus-client-chosen-type",
	})
	// Messages per connection are handled in order, bob receiving this
	// signal proves the bogus message was counted already.
	alice.write(&signaling.Message{
		Type: signaling.MessageTypeNameSignal,
		To:   "bob",
		Data: json.RawMessage(`{"invite":"invite"}`),
	})
	bob.expect(signaling.MessageTypeNameSignal)

	if count := testutil.ToFloat64(h.messagesCounter.WithLabelValues("unknown")); count != 1 {
		t.Errorf("unknown message counter = %v, want 1", count)
	}
	if count := testutil.ToFloat64(h.messagesCounter.WithLabelValues("bogus-client-chosen-type")); count != 0 {
		t.Errorf("client chosen label counter = %v, want 0", count)
	}
}

type fakePresence struct {
	mutex        sync.Mutex
	participants map[string][]string
}

func (p *fakePresence) Join(ctx context.Context, padID, participant string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.participants == nil {
		p.participants = make(map[string][]string)
	}
	p.participants[padID] = append(p.participants[padID], participant)
}

func (p *fakePresence) Leave(ctx context.Context, padID, participant string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	remaining := p.participants[padID][:0]
	for _, current := range p.participants[padID] {
		if current != participant {
			remaining = append(remaining, current)
		}
	}
	p.participants[padID] = remaining
}

func (p *fakePresence) Participants(ctx context.Context, padID string) ([]string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.participants[padID]...), nil
}

func (p *fakePresence) Close() error {
	return nil
}

func TestHubParticipantsFromPresenceStore(t *testing.T) {
	h, httpServer := newTestHub(t, nil)
	presence := &fakePresence{}
	h.presence = presence

	alice := dialTestClient(t, httpServer, "pad1", "alice")
	alice.expect(signaling.MessageTypeNameSettings)

	// Another relay instance sharing the store knows bob.
	presence.Join(context.Background(), "pad1", "bob")

	res, err := httpServer.Client().Get(httpServer.URL + "/api/padcall/v0/relay/pads/pad1/participants")
	if err != nil {
		t.Fatalf("failed to fetch participants: %v", err)
	}
	defer res.Body.Close()

	var payload struct {
		Values []string `json:"values"`
	}
	if err = json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode participants: %v", err)
	}

	got := make(map[string]bool, len(payload.Values))
	for _, participant := range payload.Values {
		got[participant] = true
	}
	if !got["alice"] || !got["bob"] {
		t.Errorf("participants = %v, want alice and bob", payload.Values)
	}
}

func TestHubDisabledRefusesCalls(t *testing.T) {
	config := &cfg.Config{
		Pad: &signaling.PadSettings{
			Enabled: false,
		},
	}
	_, httpServer := newTestHub(t, config)

	alice := dialTestClient(t, httpServer, "pad1", "alice")
	message := alice.expect(signaling.MessageTypeNameError)
	if message.Code != signaling.ErrorCodeConfiguration {
		t.Errorf("error code = %q, want %q", message.Code, signaling.ErrorCodeConfiguration)
	}
}
