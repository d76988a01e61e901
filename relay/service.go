/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package relay

// Service is an interface for services providing information about activity.
type Service interface {
	NumActive() uint64
}

// Services is a defined collection of services which handle activity.
type Services struct {
	Hub Service
}

// Services returns all active services of the accociated Services as iterable.
func (services *Services) Services() []Service {
	s := make([]Service, 0)

	if services.Hub != nil {
		s = append(s, services.Hub)
	}

	return s
}
