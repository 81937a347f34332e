// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/deimisq/ia-chat/services/llm"
	"github.com/deimisq/ia-chat/services/relay/observability"
	"github.com/deimisq/ia-chat/services/relay/ratelimit"
	"github.com/deimisq/ia-chat/services/relay/routes"
	"github.com/deimisq/ia-chat/services/relay/sanitize"
	"github.com/deimisq/ia-chat/services/relay/services"
	"github.com/deimisq/ia-chat/services/relay/session"
	"github.com/deimisq/ia-chat/services/zabbix"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "iachat-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("relay-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newSessionStore picks the history backend from SESSION_STORE. Unset or
// "memory" runs standalone; "redis" shares history between relay instances.
func newSessionStore() (session.Store, error) {
	storeType := strings.ToLower(os.Getenv("SESSION_STORE"))
	if storeType == "" || storeType == string(session.StoreTypeMemory) {
		slog.Info("Using in-memory session store")
		return session.NewStore(session.StoreTypeMemory)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	slog.Info("Using Redis session store", "addr", redisAddr)
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return session.NewStore(session.StoreTypeRedis, session.WithRedisClient(client))
}

// newHostBackend configures the Zabbix lookup client, or returns nil when
// no endpoint is set. The relay then still serves plain chat.
func newHostBackend() *zabbix.Client {
	apiURL := strings.Trim(os.Getenv("ZABBIX_API_URL"), "\"' ")
	if apiURL == "" {
		slog.Info("ZABBIX_API_URL not set, host lookups disabled")
		return nil
	}

	client := zabbix.NewClient(apiURL)
	token := os.Getenv("ZABBIX_API_TOKEN")
	if token == "" {
		slog.Warn("ZABBIX_API_TOKEN not set, host lookups will fail until a login is performed")
		return client
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.SetAuthToken(ctx, token); err != nil {
		// keep the client; the token may become valid once Zabbix is up
		slog.Warn("Zabbix token verification failed", "error", err)
	}
	return client
}

func main() {
	port := os.Getenv("RELAY_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	store, err := newSessionStore()
	if err != nil {
		log.Fatalf("failed to create session store: %v", err)
	}
	defer store.Close()

	sanitizer, err := sanitize.New(logger)
	if err != nil {
		log.Fatalf("failed to initialize sanitizer: %v", err)
	}

	completions, err := llm.NewOpenAIClient(os.Getenv("OPENAI_API_URL"), llm.WithLogger(logger))
	if err != nil {
		log.Fatalf("failed to initialize completion client: %v", err)
	}

	var hostInfo *services.HostInfoService
	if backend := newHostBackend(); backend != nil {
		hostInfo = services.NewHostInfoService(backend, metrics, logger)
	}

	chatService := services.NewChatService(store, completions, sanitizer, hostInfo, metrics, logger)
	limiter := ratelimit.NewLimiter()

	router := gin.Default()
	router.Use(otelgin.Middleware("relay-service"))

	routes.SetupRoutes(router, chatService, limiter, logger)

	log.Println("Starting the relay server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
