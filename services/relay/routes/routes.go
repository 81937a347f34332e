// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deimisq/ia-chat/services/relay/datatypes"
	"github.com/deimisq/ia-chat/services/relay/handlers"
	"github.com/deimisq/ia-chat/services/relay/middleware"
	"github.com/deimisq/ia-chat/services/relay/ratelimit"
	"github.com/deimisq/ia-chat/services/relay/services"
)

// SetupRoutes mounts the relay's endpoints. Security headers go on every
// route; the body cap and session resolution only guard the chat boundary.
func SetupRoutes(router *gin.Engine, chatService *services.ChatService, limiter *ratelimit.Limiter, logger *slog.Logger) {
	router.Use(middleware.SecurityHeaders())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(
		middleware.BodyLimit(datatypes.MaxRequestBodyBytes),
		middleware.SessionID(),
	)
	{
		v1.POST("/chat", handlers.HandleChat(chatService, limiter, logger))
	}
}
