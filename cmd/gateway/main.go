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
	"github.com/joao-fontenele/perfumeshop/internal/gateway"
	"github.com/joao-fontenele/perfumeshop/internal/logger"
	"github.com/joao-fontenele/perfumeshop/internal/telemetry"
)

func main() {
	log := logger.New("gateway")

	if err := config.LoadDotEnv(); err != nil {
		log.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    "gateway",
		ServiceVersion: config.String("SERVICE_VERSION", "0.1.0"),
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		log.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	port := config.String("PORT", "8080")

	shopServiceURL, err := config.Required("SHOP_SERVICE_URL")
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	emailServiceURL, err := config.Required("EMAIL_SERVICE_URL")
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	httpClient := telemetry.NewHTTPClient(15 * time.Second)

	shopProxy := gateway.NewServiceProxy(shopServiceURL, httpClient)
	mailProxy := gateway.NewServiceProxy(emailServiceURL, httpClient)
	handler := gateway.NewHandler(shopProxy, mailProxy, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /mail/messages", telemetry.WithHTTPRoute(handler.HandleMail))
	mux.HandleFunc("/", telemetry.WithHTTPRoute(handler.HandleShop))

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      gateway.SecureHeaders(telemetry.NewHTTPHandler(mux, "gateway")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("starting gateway service", "port", port)
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
