// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "relay:session:"

	// defaultTTL keeps histories for the lifetime of a typical frontend
	// session; reads and writes refresh it.
	defaultTTL = 24 * time.Hour

	// appendRetries bounds optimistic-lock retries on contended appends.
	appendRetries = 5
)

// redisStore keeps histories in Redis so multiple relay instances can share
// session state. Appends use WATCH/MULTI so concurrent read-modify-write
// for one session cannot corrupt the cap or the entry order.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(client *redis.Client, ttl time.Duration) *redisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) key(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// History implements Store. Stored blobs may hold legacy-shaped entries;
// they are normalized here and never reach the caller unconverted.
func (s *redisStore) History(ctx context.Context, sessionID string) ([]Entry, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	entries, err := decodeHistory([]byte(val))
	if err != nil {
		return nil, fmt.Errorf("failed to decode session history: %w", err)
	}

	// Refresh TTL on read; a failure here is not worth failing the request.
	_ = s.client.Expire(ctx, s.key(sessionID), s.ttl).Err()

	return entries, nil
}

// Append implements Store.
func (s *redisStore) Append(ctx context.Context, sessionID string, entries ...Entry) error {
	key := s.key(sessionID)
	entries = Normalize(entries)

	txn := func(tx *redis.Tx) error {
		var current []Entry
		val, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// first append for this session
		case err != nil:
			return err
		default:
			if current, err = decodeHistory([]byte(val)); err != nil {
				return err
			}
		}

		updated := capEntries(append(current, entries...))
		blob, err := json.Marshal(updated)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < appendRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to append session history: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *redisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session history: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *redisStore) Close() error { return s.client.Close() }
