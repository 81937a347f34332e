// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package services holds the relay's business logic, kept out of the HTTP
// handlers so it can be tested against mocked backends.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deimisq/ia-chat/services/llm"
	"github.com/deimisq/ia-chat/services/relay/datatypes"
	"github.com/deimisq/ia-chat/services/relay/observability"
	"github.com/deimisq/ia-chat/services/relay/sanitize"
	"github.com/deimisq/ia-chat/services/relay/session"
)

// chatTracer is the OpenTelemetry tracer for ChatService operations.
var chatTracer = otel.Tracer("iachat.relay.services.chat")

// ClearConfirmation is returned when the caller wipes the conversation.
const ClearConfirmation = "Historial eliminado"

// ChatService orchestrates one chat turn: history retrieval, the upstream
// completion call, sanitization and the history append. It only appends to
// history after the upstream call succeeded, so a failing turn leaves the
// conversation exactly as it was.
type ChatService struct {
	store       session.Store
	completions llm.CompletionClient
	sanitizer   *sanitize.Sanitizer
	hostInfo    *HostInfoService
	metrics     *observability.RelayMetrics
	logger      *slog.Logger
}

// NewChatService wires the chat orchestrator. hostInfo may be nil when no
// Zabbix backend is configured; host lookup requests then fail with a
// backend lookup error.
func NewChatService(
	store session.Store,
	completions llm.CompletionClient,
	sanitizer *sanitize.Sanitizer,
	hostInfo *HostInfoService,
	metrics *observability.RelayMetrics,
	logger *slog.Logger,
) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:       store,
		completions: completions,
		sanitizer:   sanitizer,
		hostInfo:    hostInfo,
		metrics:     metrics,
		logger:      logger,
	}
}

// Process handles one request for a session. The returned error is always
// a *datatypes.RelayError; the handler maps its kind to a status code.
func (s *ChatService) Process(ctx context.Context, sessionID string, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.Process")
	defer span.End()

	if req.Clear {
		if err := s.store.Clear(ctx, sessionID); err != nil {
			s.logger.Error("failed to clear history", "error", err)
			return nil, datatypes.WrapRelayError(datatypes.ErrHistoryStore,
				"no se pudo eliminar el historial", err)
		}
		resp := datatypes.NewChatResponse(ClearConfirmation)
		resp.ConversationID = req.ConversationID
		return resp, nil
	}

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	// A host id takes precedence over free text.
	if req.HostID > 0 {
		if s.hostInfo == nil {
			return nil, datatypes.NewRelayError(datatypes.ErrBackendLookup,
				"backend de monitorización no configurado")
		}
		return s.hostInfo.Lookup(ctx, req)
	}

	history, err := s.store.History(ctx, sessionID)
	if err != nil {
		// degrade to a memoryless turn instead of failing the request
		s.logger.Warn("failed to load history, continuing without context", "error", err)
		history = nil
	}

	span.SetAttributes(
		attribute.String("chat.model", req.Model),
		attribute.Int("chat.history_entries", len(history)),
	)

	text, err := s.complete(ctx, req, history)
	if err != nil {
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}

	sanitized, outcome := s.sanitizer.Process(text)
	if s.metrics != nil {
		if outcome.Truncated {
			s.metrics.SanitizerTruncationsTotal.Inc()
		}
		if outcome.FlaggedRule != "" {
			s.metrics.SanitizerFlagsTotal.WithLabelValues(outcome.FlaggedRule).Inc()
		}
	}

	if err := s.store.Append(ctx, sessionID,
		session.Entry{Role: session.RoleUser, Content: req.Message},
		session.Entry{Role: session.RoleAssistant, Content: sanitized},
	); err != nil {
		// the user already has their answer; losing one history turn is
		// preferable to failing the request
		s.logger.Error("failed to append history", "error", err)
	} else if s.metrics != nil {
		s.metrics.HistoryEntries.Observe(float64(len(history) + 2))
	}

	resp := datatypes.NewChatResponse(sanitized)
	resp.ConversationID = req.ConversationID
	return resp, nil
}

// complete builds the upstream message list and performs the completion
// call. History goes between the system prompt and the new user message,
// oldest first.
func (s *ChatService) complete(ctx context.Context, req *datatypes.ChatRequest, history []session.Entry) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: session.RoleSystem, Content: req.SystemPrompt})
	for _, e := range history {
		messages = append(messages, llm.Message{Role: e.Role, Content: e.Content})
	}
	messages = append(messages, llm.Message{Role: session.RoleUser, Content: req.Message})

	start := time.Now()
	text, err := s.completions.Complete(ctx, llm.CompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: *req.Temperature,
		MaxTokens:   *req.MaxTokens,
		APIKey:      req.APIKey,
	})

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.UpstreamDurationSeconds.
			WithLabelValues("openai", status).
			Observe(time.Since(start).Seconds())
	}

	if err != nil {
		return "", s.mapCompletionError(err)
	}
	return text, nil
}

// mapCompletionError translates llm failure kinds into the relay taxonomy.
// Only service-level failures propagate the provider's own message.
func (s *ChatService) mapCompletionError(err error) *datatypes.RelayError {
	kind := datatypes.ErrUpstreamService
	detail := "fallo del proveedor"

	var cerr *llm.Error
	if errors.As(err, &cerr) {
		switch cerr.Kind {
		case llm.FailureTransport:
			kind = datatypes.ErrUpstreamTransport
			detail = "fallo de transporte"
		case llm.FailureHTTP:
			kind = datatypes.ErrUpstreamHTTP
			detail = "respuesta HTTP de error"
		case llm.FailureMalformed:
			kind = datatypes.ErrUpstreamMalformed
			detail = "respuesta ilegible"
		case llm.FailureService:
			kind = datatypes.ErrUpstreamService
			if cerr.Message != "" {
				detail = cerr.Message
			}
		}
		if s.metrics != nil {
			s.metrics.UpstreamErrorsTotal.WithLabelValues("openai", string(cerr.Kind)).Inc()
		}
	}

	return datatypes.WrapRelayError(kind, detail, err)
}
