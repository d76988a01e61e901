/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package service

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	"github.com/padcall/padcall/relay"
	"github.com/padcall/padcall/relay/hub"
)

const (
	URIPrefix = "/api/padcall/v0"
)

// HTTPService binds the HTTP router with handlers for the padcall
// admin API v0.
type HTTPService struct {
	logger   logrus.FieldLogger
	services *relay.Services
}

// NewHTTPService creates a new HTTPService with the provided options.
func NewHTTPService(ctx context.Context, logger logrus.FieldLogger, services *relay.Services) *HTTPService {
	return &HTTPService{
		logger:   logger,
		services: services,
	}
}

// AddRoutes configures the services HTTP end point routing on the
// provided context and router.
func (h *HTTPService) AddRoutes(ctx context.Context, router *mux.Router, chain alice.Chain) http.Handler {
	v0 := router.PathPrefix(URIPrefix).Subrouter()

	if relayHub, ok := h.services.Hub.(*hub.Hub); ok {
		r := v0.PathPrefix("/relay").Subrouter()

		// /api/padcall/v0/relay/pads
		// /api/padcall/v0/relay/pads/:pad
		// /api/padcall/v0/relay/pads/:pad/participants
		// /api/padcall/v0/relay/pads/:pad/participants/:participant
		r.Handle("/pads", chain.ThenFunc(relayHub.HTTPPadsHandler))
		r.Handle("/pads/{padID}", chain.ThenFunc(relayHub.HTTPPadsHandler))
		r.Handle("/pads/{padID}/participants", chain.ThenFunc(relayHub.HTTPPadsParticipantsHandler))
		r.Handle("/pads/{padID}/participants/{participantID}", chain.ThenFunc(relayHub.HTTPPadsParticipantsHandler))
	}

	return router
}

// NumActive returns the number of the currently active connections at
// the accociated HTTPService.
func (h *HTTPService) NumActive() (active uint64) {
	for _, service := range h.services.Services() {
		active += service.NumActive()
	}

	return active
}
