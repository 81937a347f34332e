// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	h := w.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", h.Get("X-XSS-Protection"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", h.Get("Cache-Control"))
	assert.Equal(t, "no-cache", h.Get("Pragma"))
}

func TestBodyLimitRejectsDeclaredLength(t *testing.T) {
	router := gin.New()
	router.Use(BodyLimit(64))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 128)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "PayloadTooLarge")
}

func TestBodyLimitPassesSmallBody(t *testing.T) {
	router := gin.New()
	router.Use(BodyLimit(64))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest(http.MethodPost, "/", strings.NewReader("tiny"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func sessionRouter() *gin.Engine {
	router := gin.New()
	router.Use(SessionID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetSessionID(c))
	})
	return router
}

func TestSessionIDFromHeader(t *testing.T) {
	router := sessionRouter()
	id := uuid.NewString()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, id)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, id, w.Body.String())
	assert.Empty(t, w.Result().Cookies())
}

func TestSessionIDFromCookie(t *testing.T) {
	router := sessionRouter()
	id := uuid.NewString()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, id, w.Body.String())
}

func TestSessionIDHeaderWinsOverCookie(t *testing.T) {
	router := sessionRouter()
	headerID := uuid.NewString()
	cookieID := uuid.NewString()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, headerID)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookieID})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, headerID, w.Body.String())
}

func TestSessionIDAssignsFreshID(t *testing.T) {
	router := sessionRouter()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assigned := w.Body.String()
	require.NoError(t, uuid.Validate(assigned))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, assigned, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSessionIDRejectsMalformedID(t *testing.T) {
	router := sessionRouter()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "../../etc/passwd")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// a forged id is replaced, never used as a storage key
	assert.NoError(t, uuid.Validate(w.Body.String()))
	assert.NotEqual(t, "../../etc/passwd", w.Body.String())
}
