// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/chatgateway/pkg/logging"
	"github.com/AleutianAI/chatgateway/services/gateway/handlers"
	"github.com/AleutianAI/chatgateway/services/gateway/observability"
	"github.com/AleutianAI/chatgateway/services/gateway/routes"
	"github.com/AleutianAI/chatgateway/services/gateway/services"
	"github.com/AleutianAI/chatgateway/services/gateway/store"
	"github.com/AleutianAI/chatgateway/services/gateway/thread"
	"github.com/AleutianAI/chatgateway/services/llm"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

const serviceName = "chat-gateway"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
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

func main() {
	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "12310"
	}
	dbPath := os.Getenv("GATEWAY_DB_PATH")
	if dbPath == "" {
		dbPath = "/data/chatgateway.db"
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: serviceName,
	})
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		log.Fatalf("FATAL: Could not open the thread store at %s: %v", dbPath, err)
	}
	defer db.Close()

	log.Println("Configuring the LLM clients")
	openaiClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("Failed to initialize the OpenAI client: %v", err)
	}
	perplexityClient, err := llm.NewPerplexityClient()
	if err != nil {
		log.Fatalf("Failed to initialize the Perplexity client: %v", err)
	}
	factory := llm.NewClientFactory(openaiClient, perplexityClient)

	metrics := observability.InitMetrics()
	engine := thread.NewEngine(db.Threads(), thread.NewSystemClock())
	chatService := services.NewChatService(factory, engine, db.Threads(), db.History(), metrics)
	adminService := services.NewAdminChatService(chatService)
	defer chatService.Drain()

	chatHandler := handlers.NewChatHandler(chatService, metrics)
	historyHandler := handlers.NewHistoryHandler(chatService, adminService)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(router, chatHandler, historyHandler)

	log.Println("Starting the gateway server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
