// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ratelimit implements per-session fixed-window request limiting.
//
// Each session gets an independent window. The first request after a window
// expires starts a fresh one; counts never carry over, so a burst of
// MaxRequests at the end of one window followed by MaxRequests at the start
// of the next is allowed.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// Window is the fixed rate-limit window.
	Window = 60 * time.Second

	// MaxRequests is the number of admitted requests per session per window.
	MaxRequests = 10

	// pruneEvery bounds how often expired windows are swept. Sweeping is
	// opportunistic, piggybacked on Admit, so an idle limiter holds stale
	// state until the next request.
	pruneEvery = 5 * time.Minute
)

type windowState struct {
	start time.Time
	count int
}

// Limiter tracks request counts per session. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*windowState

	lastPrune time.Time

	// now is swapped in tests.
	now func() time.Time
}

// NewLimiter creates a limiter with empty state.
func NewLimiter() *Limiter {
	return &Limiter{
		windows:   make(map[string]*windowState),
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// Admit records a request for the session and reports whether it is within
// the window's budget. Denied requests still count toward nothing: a denial
// does not extend or reset the window.
func (l *Limiter) Admit(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybePrune(now)

	w, ok := l.windows[sessionID]
	if !ok || now.Sub(w.start) > Window {
		l.windows[sessionID] = &windowState{start: now, count: 1}
		return true
	}

	if w.count >= MaxRequests {
		return false
	}
	w.count++
	return true
}

// Remaining reports how many requests the session may still make in its
// current window. A session with no live window has the full budget.
func (l *Limiter) Remaining(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[sessionID]
	if !ok || l.now().Sub(w.start) > Window {
		return MaxRequests
	}
	if w.count >= MaxRequests {
		return 0
	}
	return MaxRequests - w.count
}

// maybePrune drops expired windows. Caller holds l.mu.
func (l *Limiter) maybePrune(now time.Time) {
	if now.Sub(l.lastPrune) < pruneEvery {
		return
	}
	l.lastPrune = now
	for id, w := range l.windows {
		if now.Sub(w.start) > Window {
			delete(l.windows, id)
		}
	}
}
