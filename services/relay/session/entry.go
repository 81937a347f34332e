// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package session provides the per-session conversation history store.
//
// History is a bounded, ordered log of role-tagged entries. Two wire shapes
// exist in stored data: the canonical {role, content} shape and a legacy
// {sender, text} shape written by earlier versions of the widget. The store
// normalizes everything to the canonical shape on read; the ambiguous shape
// never reaches the orchestrator.
package session

import "encoding/json"

// Roles allowed in canonical entries.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxEntries bounds the stored history. After every append the log is
// trimmed to the most recent MaxEntries entries, oldest first.
const MaxEntries = 20

// Entry is one canonical conversation turn.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireEntry is the tagged union of shapes found in stored history. Content
// and Text are decoded loosely so that entries with non-string content can
// be dropped instead of failing the whole read.
type wireEntry struct {
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Text    any    `json:"text,omitempty"`
}

// canonical converts a wire entry to the canonical shape. The second return
// is false for entries that match neither shape, carry a role or sender
// outside the allowed set, or hold non-string content; those are dropped.
func (w wireEntry) canonical() (Entry, bool) {
	if content, ok := w.Content.(string); ok {
		switch w.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			return Entry{Role: w.Role, Content: content}, true
		}
	}
	if text, ok := w.Text.(string); ok {
		switch w.Sender {
		case RoleUser:
			return Entry{Role: RoleUser, Content: text}, true
		case "bot", RoleAssistant:
			return Entry{Role: RoleAssistant, Content: text}, true
		}
	}
	return Entry{}, false
}

// normalizeWire filters and rewrites stored entries into canonical form.
// Normalizing already-normalized history is a no-op.
func normalizeWire(entries []wireEntry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, w := range entries {
		if e, ok := w.canonical(); ok {
			out = append(out, e)
		}
	}
	return out
}

// Normalize drops canonical entries whose role fell outside the allowed
// set. It is idempotent and preserves order.
func Normalize(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			out = append(out, e)
		}
	}
	return out
}

// decodeHistory parses a stored history blob, tolerating the legacy shape.
func decodeHistory(raw []byte) ([]Entry, error) {
	var wire []wireEntry
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	return normalizeWire(wire), nil
}

// cap trims entries to the most recent MaxEntries, preserving order.
func capEntries(entries []Entry) []Entry {
	if len(entries) > MaxEntries {
		return entries[len(entries)-MaxEntries:]
	}
	return entries
}
