// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package datatypes provides request and response types for the relay
// service, along with the validation rules the chat boundary enforces.
package datatypes

import (
	"errors"
	"html"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Limits enforced on caller-supplied fields.
const (
	// MaxMessageChars is the hard cap applied to the user message after
	// HTML escaping. Longer messages are truncated, not rejected.
	MaxMessageChars = 4000

	// MaxRequestBodyBytes caps the request body before JSON parsing.
	MaxRequestBodyBytes = 1 << 20 // 1 MiB
)

// Model allow-list. Anything else silently falls back to DefaultModel.
var allowedModels = map[string]bool{
	"gpt-3.5-turbo": true,
	"gpt-4":         true,
	"gpt-4o":        true,
	"gpt-4-turbo":   true,
}

// Defaults applied when optional parameters are missing or out of range.
const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 800
	MaxTokensCeiling   = 4000

	// DefaultSystemPrompt keeps the assistant scoped to the monitoring
	// domain when the caller does not supply its own prompt.
	DefaultSystemPrompt = "Eres un asistente para el sistema de monitorización Zabbix. " +
		"Mantén el contexto de la conversación basada en intercambios previos."
)

// apiKeyPattern is the accepted credential shape. The credential itself is
// never logged or echoed back.
var apiKeyPattern = regexp.MustCompile(`^sk-[a-zA-Z0-9_\-]{10,}$`)

// chatValidate is the shared validator instance for relay datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("openaikey", func(fl validator.FieldLevel) bool {
		return apiKeyPattern.MatchString(fl.Field().String())
	})
}

// ChatRequest is the body of POST /v1/chat. A request carries either a free
// text message or a host id; when both are present the host id wins and the
// lookup flow runs instead of the relay flow.
//
// Temperature and MaxTokens are pointers so that "absent" and "zero" stay
// distinguishable; invalid values fall back to defaults rather than
// rejecting the request.
type ChatRequest struct {
	Message        string   `json:"message" validate:"required_without=HostID"`
	HostID         int64    `json:"host_id" validate:"omitempty,gt=0"`
	ConversationID string   `json:"conversation_id"`
	APIKey         string   `json:"api_key" validate:"required,openaikey"`
	Model          string   `json:"model"`
	Temperature    *float64 `json:"temperature"`
	MaxTokens      *int     `json:"max_tokens"`
	SystemPrompt   string   `json:"system_prompt"`
	Clear          bool     `json:"clear"`
}

// EnsureDefaults normalizes the optional fields in place: unknown models and
// out-of-range numeric parameters fall back to defaults, the message and
// system prompt are HTML-escaped, and the message is capped at
// MaxMessageChars. Call before Validate.
func (r *ChatRequest) EnsureDefaults() {
	if !allowedModels[r.Model] {
		r.Model = DefaultModel
	}

	if r.Temperature == nil || *r.Temperature < 0 || *r.Temperature > 1 {
		t := DefaultTemperature
		r.Temperature = &t
	}

	if r.MaxTokens == nil || *r.MaxTokens <= 0 || *r.MaxTokens > MaxTokensCeiling {
		m := DefaultMaxTokens
		r.MaxTokens = &m
	}

	if r.SystemPrompt == "" {
		r.SystemPrompt = DefaultSystemPrompt
	} else {
		r.SystemPrompt = html.EscapeString(r.SystemPrompt)
	}

	r.Message = truncateRunes(html.EscapeString(r.Message), MaxMessageChars)
	r.ConversationID = html.EscapeString(r.ConversationID)
}

// Validate checks the request after EnsureDefaults has run. Rejections are
// reported as *RelayError with kind InvalidInput; the credential value is
// never included in the error detail.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		for _, fe := range extractFieldErrors(err) {
			switch fe.Field() {
			case "APIKey":
				return NewRelayError(ErrInvalidInput,
					"API Key no proporcionada o con formato inválido")
			case "Message":
				return NewRelayError(ErrInvalidInput, "El mensaje no puede estar vacío")
			case "HostID":
				return NewRelayError(ErrInvalidInput, "ID de host inválido")
			}
		}
		return WrapRelayError(ErrInvalidInput, "validación fallida", err)
	}
	return nil
}

func extractFieldErrors(err error) validator.ValidationErrors {
	if ve, ok := err.(validator.ValidationErrors); ok {
		return ve
	}
	return nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ChatResponse is the caller-facing result for both the relay and the host
// lookup flows. Failures keep OK false and carry the error kind plus a
// stable human-readable message; the boundary never returns a bare HTTP
// error body.
type ChatResponse struct {
	ResponseID     string    `json:"response_id"`
	Timestamp      int64     `json:"timestamp"`
	OK             bool      `json:"ok"`
	Text           string    `json:"text"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	Message        string    `json:"message,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// NewChatResponse builds a successful response with a fresh id.
func NewChatResponse(text string) *ChatResponse {
	return &ChatResponse{
		ResponseID: uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		OK:         true,
		Text:       text,
	}
}

// NewErrorResponse converts any error into the structured failure shape.
// RelayError kinds map to their stable user message; everything else is
// reported as a generic upstream service failure. Provider-reported
// failures (ErrUpstreamService) carry the provider's own message so the
// user can tell an exhausted quota from a bad key.
func NewErrorResponse(err error) *ChatResponse {
	kind := ErrUpstreamService
	message := ""
	var re *RelayError
	if errors.As(err, &re) {
		kind = re.Kind
		if kind == ErrUpstreamService && re.Detail != "" {
			message = kind.UserMessage() + " " + re.Detail
		}
	}
	if message == "" {
		message = kind.UserMessage()
	}
	return &ChatResponse{
		ResponseID: uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		OK:         false,
		ErrorKind:  kind,
		Message:    message,
		Text:       message,
	}
}
