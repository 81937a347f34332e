// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package datatypes

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRequest() *ChatRequest {
	return &ChatRequest{
		Message: "hola",
		APIKey:  "sk-test_key_0123456789",
	}
}

func TestEnsureDefaultsModelFallback(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected string
	}{
		{"empty model", "", DefaultModel},
		{"unknown model", "gpt-5-ultra", DefaultModel},
		{"allowed model", "gpt-4o", "gpt-4o"},
		{"allowed turbo", "gpt-4-turbo", "gpt-4-turbo"},
		{"case sensitive", "GPT-4", DefaultModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.Model = tt.model
			req.EnsureDefaults()
			assert.Equal(t, tt.expected, req.Model)
		})
	}
}

func TestEnsureDefaultsTemperature(t *testing.T) {
	tests := []struct {
		name     string
		temp     *float64
		expected float64
	}{
		{"absent", nil, DefaultTemperature},
		{"negative", ptr(-0.1), DefaultTemperature},
		{"above one", ptr(1.5), DefaultTemperature},
		{"zero is valid", ptr(0.0), 0.0},
		{"one is valid", ptr(1.0), 1.0},
		{"in range", ptr(0.3), 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.Temperature = tt.temp
			req.EnsureDefaults()
			require.NotNil(t, req.Temperature)
			assert.Equal(t, tt.expected, *req.Temperature)
		})
	}
}

func TestEnsureDefaultsMaxTokens(t *testing.T) {
	tests := []struct {
		name     string
		tokens   *int
		expected int
	}{
		{"absent", nil, DefaultMaxTokens},
		{"zero", ptrInt(0), DefaultMaxTokens},
		{"negative", ptrInt(-5), DefaultMaxTokens},
		{"over ceiling", ptrInt(MaxTokensCeiling + 1), DefaultMaxTokens},
		{"at ceiling", ptrInt(MaxTokensCeiling), MaxTokensCeiling},
		{"in range", ptrInt(100), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.MaxTokens = tt.tokens
			req.EnsureDefaults()
			require.NotNil(t, req.MaxTokens)
			assert.Equal(t, tt.expected, *req.MaxTokens)
		})
	}
}

func TestEnsureDefaultsEscapesAndTruncates(t *testing.T) {
	req := baseRequest()
	req.Message = `<b>hola</b> & "adiós"`
	req.SystemPrompt = "<system>"
	req.ConversationID = `c"1`
	req.EnsureDefaults()

	assert.NotContains(t, req.Message, "<b>")
	assert.Contains(t, req.Message, "&lt;b&gt;")
	assert.NotContains(t, req.SystemPrompt, "<system>")
	assert.NotContains(t, req.ConversationID, `"`)

	long := baseRequest()
	long.Message = strings.Repeat("a", MaxMessageChars+100)
	long.EnsureDefaults()
	assert.Len(t, []rune(long.Message), MaxMessageChars)
}

func TestEnsureDefaultsSystemPrompt(t *testing.T) {
	req := baseRequest()
	req.EnsureDefaults()
	assert.Equal(t, DefaultSystemPrompt, req.SystemPrompt)
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"valid key", "sk-abcdefghij", true},
		{"valid with underscore and dash", "sk-abc_def-ghij", true},
		{"valid long", "sk-" + strings.Repeat("a", 48), true},
		{"missing prefix", "abcdefghij0123", false},
		{"too short suffix", "sk-short", false},
		{"empty", "", false},
		{"illegal characters", "sk-abc def ghij!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.APIKey = tt.key
			req.EnsureDefaults()
			err := req.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				var re *RelayError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, ErrInvalidInput, re.Kind)
				if tt.key != "" {
					assert.NotContains(t, re.Detail, tt.key)
				}
			}
		})
	}
}

func TestValidateMessageOrHostID(t *testing.T) {
	req := &ChatRequest{APIKey: "sk-test_key_0123456789"}
	req.EnsureDefaults()
	var re *RelayError
	require.ErrorAs(t, req.Validate(), &re)
	assert.Equal(t, ErrInvalidInput, re.Kind)

	// a host id alone is a valid request
	req = &ChatRequest{APIKey: "sk-test_key_0123456789", HostID: 10084}
	req.EnsureDefaults()
	assert.NoError(t, req.Validate())

	// a negative host id is not
	req = &ChatRequest{APIKey: "sk-test_key_0123456789", HostID: -1}
	req.EnsureDefaults()
	require.ErrorAs(t, req.Validate(), &re)
	assert.Equal(t, ErrInvalidInput, re.Kind)
}

func TestNewChatResponse(t *testing.T) {
	resp := NewChatResponse("hola")
	assert.True(t, resp.OK)
	assert.Equal(t, "hola", resp.Text)
	assert.NotEmpty(t, resp.ResponseID)
	assert.NotZero(t, resp.Timestamp)
	assert.Empty(t, resp.ErrorKind)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(NewRelayError(ErrRateLimited, "ventana agotada"))
	assert.False(t, resp.OK)
	assert.Equal(t, ErrRateLimited, resp.ErrorKind)
	assert.Equal(t, "Demasiadas peticiones. Por favor, espera un minuto e intenta de nuevo.", resp.Message)
	assert.NotContains(t, resp.Message, "ventana agotada")
}

func TestNewErrorResponseServiceDetail(t *testing.T) {
	resp := NewErrorResponse(NewRelayError(ErrUpstreamService, "You exceeded your current quota"))
	assert.Contains(t, resp.Message, "You exceeded your current quota")
}

func TestNewErrorResponseUnknownError(t *testing.T) {
	resp := NewErrorResponse(errors.New("boom"))
	assert.False(t, resp.OK)
	assert.Equal(t, ErrUpstreamService, resp.ErrorKind)
}

func TestUserMessageFallback(t *testing.T) {
	assert.Equal(t, "Error del servidor. Por favor, intenta de nuevo más tarde.",
		ErrorKind("SomethingNew").UserMessage())
}

func ptr(f float64) *float64 { return &f }
func ptrInt(i int) *int      { return &i }
