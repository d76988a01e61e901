/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims accepted by the relay. The pad claim
// binds a token to a single pad.
type Claims struct {
	jwt.RegisteredClaims

	Pad         string `json:"pad"`
	Participant string `json:"participant"`
}

// authenticate resolves the participant identity of a websocket
// request. With a configured secret, a signed token is required and
// must match the requested pad. Without one, the participant names
// itself via query parameter.
func (h *Hub) authenticate(req *http.Request, padID string) (string, error) {
	query := req.URL.Query()

	if len(h.jwtSecret) == 0 {
		participant := query.Get("participant")
		if participant == "" {
			return "", errors.New("missing participant parameter")
		}
		return participant, nil
	}

	tokenString := query.Get("token")
	if tokenString == "" {
		return "", errors.New("missing token parameter")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	if claims.Pad != padID {
		return "", errors.New("token not valid for this pad")
	}
	if claims.Participant == "" {
		return "", errors.New("token carries no participant")
	}
	return claims.Participant, nil
}
