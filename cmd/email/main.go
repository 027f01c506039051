package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/perfumeshop/internal/config"
	"github.com/joao-fontenele/perfumeshop/internal/email"
	"github.com/joao-fontenele/perfumeshop/internal/logger"
	"github.com/joao-fontenele/perfumeshop/internal/telemetry"
)

func main() {
	log := logger.New("email")

	if err := config.LoadDotEnv(); err != nil {
		log.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    "email",
		ServiceVersion: config.String("SERVICE_VERSION", "0.1.0"),
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		log.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	handler := email.NewHandler(log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", telemetry.WithHTTPRoute(handler.HandleSend))
	mux.HandleFunc("GET /messages", telemetry.WithHTTPRoute(handler.HandleList))

	port := config.String("PORT", "8084")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.NewHTTPHandler(mux, "email"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting email service", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
