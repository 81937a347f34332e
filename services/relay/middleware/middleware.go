// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package middleware provides the gin middleware the relay mounts in front
// of its chat boundary: security headers, a request body cap and session
// identification.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deimisq/ia-chat/services/relay/datatypes"
)

const (
	// SessionCookieName carries the relay session id between requests.
	SessionCookieName = "relay_session"

	// SessionHeaderName lets non-browser clients pin a session without
	// cookie support.
	SessionHeaderName = "X-Relay-Session"

	// sessionIDKey is the gin context key holding the resolved session id.
	sessionIDKey = "relay_session_id"

	sessionCookieMaxAge = 24 * 60 * 60
)

// SecurityHeaders sets the response headers every relay endpoint carries.
// Responses hold conversation fragments, so caching is disabled outright.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; connect-src 'self'; img-src 'self'; style-src 'self';")
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		h.Set("Pragma", "no-cache")
		c.Next()
	}
}

// BodyLimit rejects request bodies over the configured cap. A declared
// Content-Length over the cap is rejected before reading; chunked bodies
// are capped while reading via MaxBytesReader, which surfaces as a bind
// error in the handler.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			resp := datatypes.NewErrorResponse(
				datatypes.NewRelayError(datatypes.ErrPayloadTooLarge, "cuerpo demasiado grande"))
			c.AbortWithStatusJSON(http.StatusBadRequest, resp)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SessionID resolves the caller's session id. The X-Relay-Session header
// wins over the cookie; a caller with neither gets a fresh id set as a
// cookie on the response.
func SessionID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeaderName)
		if id == "" {
			if cookie, err := c.Cookie(SessionCookieName); err == nil {
				id = cookie
			}
		}
		if id == "" || uuid.Validate(id) != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteStrictMode)
			c.SetCookie(SessionCookieName, id, sessionCookieMaxAge, "/", "", false, true)
		}
		c.Set(sessionIDKey, id)
		c.Next()
	}
}

// GetSessionID returns the session id resolved by SessionID.
func GetSessionID(c *gin.Context) string {
	if id, ok := c.Get(sessionIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
