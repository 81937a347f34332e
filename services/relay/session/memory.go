// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package session

import (
	"context"
	"sync"
)

// memoryStore keeps histories in process memory. Each session has its own
// mutex so appends for one session serialize without blocking the rest.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

type memorySession struct {
	mu      sync.Mutex
	entries []Entry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*memorySession)}
}

func (s *memoryStore) session(id string, create bool) *memorySession {
	s.mu.RLock()
	ms := s.sessions[id]
	s.mu.RUnlock()
	if ms != nil || !create {
		return ms
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ms = s.sessions[id]; ms == nil {
		ms = &memorySession{}
		s.sessions[id] = ms
	}
	return ms
}

// History implements Store.
func (s *memoryStore) History(ctx context.Context, sessionID string) ([]Entry, error) {
	ms := s.session(sessionID, false)
	if ms == nil {
		return nil, nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Entry, len(ms.entries))
	copy(out, ms.entries)
	return Normalize(out), nil
}

// Append implements Store.
func (s *memoryStore) Append(ctx context.Context, sessionID string, entries ...Entry) error {
	ms := s.session(sessionID, true)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries = capEntries(append(ms.entries, Normalize(entries)...))
	return nil
}

// Clear implements Store.
func (s *memoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close implements Store.
func (s *memoryStore) Close() error { return nil }
