// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package sanitize prepares model responses for rendering in a browser.
//
// The pipeline has two tiers. Every response is length-capped and
// HTML-escaped. Responses that additionally match an unsafe pattern (script
// tags, javascript: URIs, inline handlers) stay fully escaped; everything
// else gets a small allowlist of formatting tags re-enabled after escaping.
//
// Sanitize is idempotent: running an already-sanitized response through it
// again returns it unchanged.
package sanitize

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// MaxResponseChars caps the response length before the marker is added.
	MaxResponseChars = 16384

	// TruncationMarker is appended to capped responses.
	TruncationMarker = "\n\n[Respuesta truncada por ser demasiado larga]"
)

// Rule is one unsafe-content pattern loaded from the embedded rule set.
type Rule struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

type ruleFile struct {
	Patterns []Rule `yaml:"patterns"`
}

// Sanitizer applies the two-tier pipeline. Safe for concurrent use.
type Sanitizer struct {
	rules  []Rule
	logger *slog.Logger
}

// New compiles the embedded rule set. A nil logger uses slog.Default.
func New(logger *slog.Logger) (*Sanitizer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var file ruleFile
	if err := yaml.Unmarshal(UnsafePatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to parse unsafe pattern rules: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("unsafe pattern rule set is empty")
	}
	for i := range file.Patterns {
		re, err := regexp.Compile(file.Patterns[i].Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", file.Patterns[i].ID, err)
		}
		file.Patterns[i].compiled = re
	}

	return &Sanitizer{rules: file.Patterns, logger: logger}, nil
}

// Outcome reports what the pipeline did to a response.
type Outcome struct {
	Truncated bool

	// FlaggedRule is the ID of the rule that forced full escaping,
	// empty for clean responses.
	FlaggedRule string
}

// Sanitize caps, classifies and escapes a model response.
func (s *Sanitizer) Sanitize(text string) string {
	out, _ := s.Process(text)
	return out
}

// Process is Sanitize plus an Outcome for callers that record metrics.
func (s *Sanitizer) Process(text string) (string, Outcome) {
	var outcome Outcome

	capped := s.truncate(text)
	outcome.Truncated = capped != text
	text = capped

	if ruleID, flagged := s.flaggedRule(text); flagged {
		s.logger.Warn("unsafe content in model response, rendering fully escaped",
			"rule", ruleID)
		outcome.FlaggedRule = ruleID
		return escapeEntityAware(text), outcome
	}

	return enableFormattingTags(escapeEntityAware(text)), outcome
}

// truncate caps text at MaxResponseChars runes and appends the marker.
// A marker-suffixed body is measured on its entity-decoded form: escaping a
// capped response can grow it past the cap, and cutting the escaped form
// again would stack markers. A suffixed body whose decoded form still
// exceeds the cap was never capped and is cut like any other text.
func (s *Sanitizer) truncate(text string) string {
	body := strings.TrimSuffix(text, TruncationMarker)
	if body != text && len([]rune(html.UnescapeString(body))) <= MaxResponseChars {
		return text
	}
	runes := []rune(body)
	if len(runes) <= MaxResponseChars {
		return text
	}
	return string(runes[:MaxResponseChars]) + TruncationMarker
}

// flaggedRule scans the entity-decoded form of the text so that payloads
// hidden behind HTML entities are still detected.
func (s *Sanitizer) flaggedRule(text string) (string, bool) {
	decoded := html.UnescapeString(text)
	for _, rule := range s.rules {
		if rule.compiled.MatchString(decoded) {
			return rule.ID, true
		}
	}
	return "", false
}

// entityPattern matches a well-formed HTML entity reference.
var entityPattern = regexp.MustCompile(`^&(?:[a-zA-Z][a-zA-Z0-9]{1,31}|#[0-9]{1,7}|#x[0-9a-fA-F]{1,6});`)

// escapeEntityAware HTML-escapes text without double-escaping entity
// references that are already present, so the escape is idempotent.
func escapeEntityAware(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '&':
			if m := entityPattern.FindString(text[i:]); m != "" {
				b.WriteString(m)
				i += len(m) - 1
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&#34;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteByte(text[i])
		}
	}
	return b.String()
}

// tagReplacer restores the small allowlist of formatting tags after
// escaping. Only exact, attribute-free forms are restored.
var tagReplacer = strings.NewReplacer(
	"&lt;br&gt;", "<br>",
	"&lt;br/&gt;", "<br/>",
	"&lt;br /&gt;", "<br />",
	"&lt;b&gt;", "<b>",
	"&lt;/b&gt;", "</b>",
	"&lt;i&gt;", "<i>",
	"&lt;/i&gt;", "</i>",
	"&lt;code&gt;", "<code>",
	"&lt;/code&gt;", "</code>",
)

func enableFormattingTags(text string) string {
	return tagReplacer.Replace(text)
}
