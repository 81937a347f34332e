// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the session history store injected into the orchestrator.
//
// Implementations must serialize read-modify-write per session: two
// concurrent appends for the same session may not corrupt the MaxEntries
// cap or the entry order. Operations on different sessions are independent.
type Store interface {
	// History returns the normalized history for a session, oldest first.
	// An unknown session yields an empty history, not an error.
	History(ctx context.Context, sessionID string) ([]Entry, error)

	// Append adds entries to a session's history and applies the
	// MaxEntries cap, discarding the oldest entries first.
	Append(ctx context.Context, sessionID string, entries ...Entry) error

	// Clear removes all history for a session.
	Clear(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}

// StoreType selects the backing driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Configuration errors.
var (
	ErrInvalidStoreType = errors.New("invalid session store type")
	ErrInvalidConfig    = errors.New("invalid session store configuration")
)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
}

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

// WithRedisClient supplies the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithTTL sets the key TTL for the redis driver. Zero keeps the default.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// NewStore creates a session store of the given type. The memory driver
// needs no options; the redis driver requires WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(), nil
	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(config.redisClient, config.redisTTL), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
