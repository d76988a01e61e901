/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package config

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/padcall/padcall/internal/signaling"
)

// Config defines a Server's configuration settings.
type Config struct {
	ListenAddr string

	WithMetrics       bool
	MetricsListenAddr string

	HTTPClient *http.Client

	Logger logrus.FieldLogger

	Metrics prometheus.Registerer

	// Pad holds the call settings served to clients on connect. Invalid
	// enum values are rejected on startup, clients only ever see a generic
	// configuration error flag.
	Pad *signaling.PadSettings

	// JWTSecret enables bearer token authentication of signaling
	// connections when set.
	JWTSecret []byte

	// RedisURL enables the optional presence store when set.
	RedisURL string

	ICEInterfaces            []string
	ICENetworkTypes          []string
	ICEEphemeralUDPPortRange [2]uint16
}
