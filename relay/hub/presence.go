/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const presenceTTL = 24 * time.Hour

// presenceStore tracks which participants are on a call in which pad,
// across all relay instances sharing the store.
type presenceStore interface {
	Join(ctx context.Context, padID, participant string)
	Leave(ctx context.Context, padID, participant string)
	Participants(ctx context.Context, padID string) ([]string, error)
	Close() error
}

// Presence mirrors the connected participants of each pad into Redis,
// so other instances and the pad frontend can see who is on a call
// without asking this relay.
type Presence struct {
	logger logrus.FieldLogger
	client *redis.Client
}

func NewPresence(redisURL string, logger logrus.FieldLogger) (*Presence, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Presence{
		logger: logger.WithField("service", "presence"),
		client: redis.NewClient(opt),
	}, nil
}

func presenceKey(padID string) string {
	return "padcall:pad:" + padID + ":participants"
}

// Join records participant as present in padID.
func (p *Presence) Join(ctx context.Context, padID, participant string) {
	key := presenceKey(padID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, participant)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.WithError(err).WithField("pad", padID).Warnln("failed to record presence join")
	}
}

// Leave removes participant from padID.
func (p *Presence) Leave(ctx context.Context, padID, participant string) {
	if err := p.client.SRem(ctx, presenceKey(padID), participant).Err(); err != nil {
		p.logger.WithError(err).WithField("pad", padID).Warnln("failed to record presence leave")
	}
}

// Participants lists the recorded participants of padID.
func (p *Presence) Participants(ctx context.Context, padID string) ([]string, error) {
	return p.client.SMembers(ctx, presenceKey(padID)).Result()
}

func (p *Presence) Close() error {
	return p.client.Close()
}
