// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package handlers contains the gin handlers for the relay's HTTP boundary.
//
// The boundary has one contract: rate-limit and input rejections answer
// with 4xx, but upstream and backend failures answer 200 with ok set to
// false, so the widget can always parse a structured body.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deimisq/ia-chat/services/relay/datatypes"
	"github.com/deimisq/ia-chat/services/relay/middleware"
	"github.com/deimisq/ia-chat/services/relay/observability"
	"github.com/deimisq/ia-chat/services/relay/ratelimit"
	"github.com/deimisq/ia-chat/services/relay/services"
)

// HandleChat handles POST /v1/chat.
func HandleChat(svc *services.ChatService, limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		sessionID := middleware.GetSessionID(c)

		if !limiter.Admit(sessionID) {
			countOutcome(string(datatypes.ErrRateLimited))
			if m := observability.DefaultMetrics; m != nil {
				m.RateLimitedTotal.Inc()
			}
			err := datatypes.NewRelayError(datatypes.ErrRateLimited, "ventana agotada")
			c.JSON(http.StatusTooManyRequests, datatypes.NewErrorResponse(err))
			return
		}

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			relayErr := bindError(err)
			countOutcome(string(relayErr.Kind))
			c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(relayErr))
			return
		}

		resp, err := svc.Process(c.Request.Context(), sessionID, &req)
		if err != nil {
			var re *datatypes.RelayError
			if !errors.As(err, &re) {
				re = datatypes.WrapRelayError(datatypes.ErrUpstreamService, "error inesperado", err)
			}
			logger.Error("chat request failed",
				"kind", string(re.Kind),
				"session_id", sessionID,
				"error", err)
			countOutcome(string(re.Kind))
			errResp := datatypes.NewErrorResponse(re)
			errResp.ConversationID = req.ConversationID
			c.JSON(statusForKind(re.Kind), errResp)
			return
		}

		countOutcome("ok")
		c.JSON(http.StatusOK, resp)
	}
}

// bindError classifies a JSON bind failure. A body cut off by the size cap
// surfaces as http.MaxBytesError; everything else is malformed input.
func bindError(err error) *datatypes.RelayError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return datatypes.WrapRelayError(datatypes.ErrPayloadTooLarge, "cuerpo demasiado grande", err)
	}
	return datatypes.WrapRelayError(datatypes.ErrInvalidInput, "cuerpo JSON inválido", err)
}

// statusForKind maps the error taxonomy onto HTTP status codes. Upstream
// and backend failures stay 200 so the widget always renders the body.
func statusForKind(kind datatypes.ErrorKind) int {
	switch kind {
	case datatypes.ErrInvalidInput, datatypes.ErrPayloadTooLarge:
		return http.StatusBadRequest
	case datatypes.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

func countOutcome(outcome string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RequestsTotal.WithLabelValues(outcome).Inc()
	}
}
