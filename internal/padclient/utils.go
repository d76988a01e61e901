/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package padclient

import (
	"net/url"
)

func asWebsocketURL(uriString string) (string, error) {
	uri, err := url.Parse(uriString)
	if err != nil {
		return "", err
	}

	switch uri.Scheme {
	case "https":
		uri.Scheme = "wss"
	case "http":
		uri.Scheme = "ws"
	}

	return uri.String(), nil
}
