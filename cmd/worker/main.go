package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/perfumeshop/internal/config"
	"github.com/joao-fontenele/perfumeshop/internal/logger"
	"github.com/joao-fontenele/perfumeshop/internal/messaging"
	"github.com/joao-fontenele/perfumeshop/internal/telemetry"
	"github.com/joao-fontenele/perfumeshop/internal/worker"
)

func main() {
	log := logger.New("notification-worker")

	if err := config.LoadDotEnv(); err != nil {
		log.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	brokers := config.List("KAFKA_BROKERS")
	if len(brokers) == 0 {
		log.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	emailServiceURL, err := config.Required("EMAIL_SERVICE_URL")
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    "notification-worker",
		ServiceVersion: config.String("SERVICE_VERSION", "0.1.0"),
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		log.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	consumer := messaging.NewConsumer(brokers, messaging.TopicOrderPlaced, "notification-worker")
	defer func() { _ = consumer.Close() }()

	emailClient := worker.NewEmailClient(emailServiceURL, telemetry.NewHTTPClient(10*time.Second), log)
	notificationHandler := worker.NewNotificationHandler(emailClient, log)

	log.Info("starting notification worker", "brokers", brokers, "topic", messaging.TopicOrderPlaced)

	// A handler error leaves the offset uncommitted; the message is redelivered on restart.
	if err := consumer.Consume(ctx, notificationHandler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("consumer stopped")
			return
		}
		log.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
