/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	cfg "github.com/padcall/padcall/config"
	"github.com/padcall/padcall/internal/signaling"
)

func newAuthTestHub(t *testing.T, secret []byte) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h, err := NewHub(ctx, &cfg.Config{
		Logger: logger,
		Pad: &signaling.PadSettings{
			Enabled: true,
		},
		JWTSecret: secret,
	})
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	return h
}

func signTestToken(t *testing.T, secret []byte, pad, participant string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Pad:         pad,
		Participant: participant,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAuthenticateWithToken(t *testing.T) {
	secret := []byte("test-secret")
	h := newAuthTestHub(t, secret)

	token := signTestToken(t, secret, "pad1", "alice")
	req := httptest.NewRequest("GET", "/padcall/ws/pad1?token="+token, nil)

	participant, err := h.authenticate(req, "pad1")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if participant != "alice" {
		t.Errorf("participant = %q, want alice", participant)
	}
}

func TestAuthenticateRejectsWrongPad(t *testing.T) {
	secret := []byte("test-secret")
	h := newAuthTestHub(t, secret)

	token := signTestToken(t, secret, "pad1", "alice")
	req := httptest.NewRequest("GET", "/padcall/ws/pad2?token="+token, nil)

	if _, err := h.authenticate(req, "pad2"); err == nil {
		t.Fatal("expected token for another pad to be rejected")
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	h := newAuthTestHub(t, []byte("test-secret"))

	token := signTestToken(t, []byte("other-secret"), "pad1", "alice")
	req := httptest.NewRequest("GET", "/padcall/ws/pad1?token="+token, nil)

	if _, err := h.authenticate(req, "pad1"); err == nil {
		t.Fatal("expected token with wrong signature to be rejected")
	}
}

func TestAuthenticateWithoutSecretUsesQuery(t *testing.T) {
	h := newAuthTestHub(t, nil)

	req := httptest.NewRequest("GET", "/padcall/ws/pad1?participant=alice", nil)
	participant, err := h.authenticate(req, "pad1")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if participant != "alice" {
		t.Errorf("participant = %q, want alice", participant)
	}

	req = httptest.NewRequest("GET", "/padcall/ws/pad1", nil)
	if _, err = h.authenticate(req, "pad1"); err == nil {
		t.Fatal("expected anonymous request to be rejected")
	}
}
