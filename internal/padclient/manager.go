/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package padclient

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const reconnectDelay = 1 * time.Second

// Manager keeps a Client connected, reconnecting with a delay whenever
// its relay connection drops.
type Manager struct {
	logger logrus.FieldLogger
	ctx    context.Context

	wg     sync.WaitGroup
	client *Client
}

func NewManager(ctx context.Context, uri *url.URL, padID, participant string, config *Config) (*Manager, error) {
	m := &Manager{
		logger: config.Logger.WithField("manager", "padclient"),
		ctx:    ctx,
	}

	client, err := NewClient(uri, padID, participant, config)
	if err != nil {
		return nil, err
	}
	m.client = client

	logger := m.logger
	m.wg.Add(1)
	go func() {
		defer func() {
			logger.Debugln("relay connector stopped")
			m.wg.Done()
		}()
		for {
			logger.WithField("url", uri).Infoln("connecting to relay")
			err := client.Start(ctx) // Connect and run, this blocks.
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Warnln("relay connection stopped with error, restart scheduled")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
				logger.Infoln("reconnecting to relay")
				// breaks and continues.
			}
		}
	}()

	return m, nil
}

// Client returns the managed client.
func (m *Manager) Client() *Client {
	return m.client
}

// Wait blocks until the manager's connector ended.
func (m *Manager) Wait() {
	m.wg.Wait()
}
