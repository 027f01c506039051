package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/perfumeshop/internal/checkout"
	"github.com/joao-fontenele/perfumeshop/internal/config"
	"github.com/joao-fontenele/perfumeshop/internal/inventory"
	"github.com/joao-fontenele/perfumeshop/internal/logger"
	"github.com/joao-fontenele/perfumeshop/internal/messaging"
	"github.com/joao-fontenele/perfumeshop/internal/notify"
	"github.com/joao-fontenele/perfumeshop/internal/orders"
	"github.com/joao-fontenele/perfumeshop/internal/session"
	"github.com/joao-fontenele/perfumeshop/internal/shop"
	"github.com/joao-fontenele/perfumeshop/internal/telemetry"
	"github.com/joao-fontenele/perfumeshop/internal/wallet"
)

func main() {
	log := logger.New("shop")

	if err := config.LoadDotEnv(); err != nil {
		log.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadShop()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "shop",
		ServiceVersion: cfg.ServiceVersion,
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		log.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	var publisher notify.Publisher = notify.LogPublisher{Logger: log}
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicOrderPlaced)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		log.Warn("KAFKA_BROKERS not set, order events will only be logged")
	}

	dispatcher := notify.NewDispatcher(publisher, cfg.NotifyBuffer, log)

	ledger := wallet.NewLedger(db)
	store := orders.NewStore(db)
	catalog := inventory.NewRepository(db)
	sessions := session.NewStore(rdb, cfg.SessionTTL)

	service := checkout.NewService(
		ledger,
		store,
		dispatcher,
		checkout.NewRedisLocker(rdb, checkout.LockTTLFor(cfg.DBTimeout)),
		checkout.Config{DBTimeout: cfg.DBTimeout, LockTimeout: cfg.LockTimeout},
		log,
	)

	shopHandler := shop.NewHandler(catalog, ledger, service, sessions, log)
	ordersHandler := orders.NewHandler(store, log)
	inventoryHandler := inventory.NewHandler(catalog, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", telemetry.WithHTTPRoute(shopHandler.HandleLogin))
	mux.HandleFunc("POST /logout", telemetry.WithHTTPRoute(shopHandler.HandleLogout))
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(shopHandler.HandleGetCart))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(shopHandler.HandleAddItem))
	mux.HandleFunc("PATCH /cart/items/{productId}", telemetry.WithHTTPRoute(shopHandler.HandleUpdateItem))
	mux.HandleFunc("DELETE /cart/items/{productId}", telemetry.WithHTTPRoute(shopHandler.HandleRemoveItem))
	mux.HandleFunc("GET /wishlist", telemetry.WithHTTPRoute(shopHandler.HandleGetWishlist))
	mux.HandleFunc("POST /wishlist/items/{productId}", telemetry.WithHTTPRoute(shopHandler.HandleAddWishlist))
	mux.HandleFunc("DELETE /wishlist/items/{productId}", telemetry.WithHTTPRoute(shopHandler.HandleRemoveWishlist))
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(shopHandler.HandleCheckout))
	mux.HandleFunc("GET /wallet", telemetry.WithHTTPRoute(shopHandler.HandleGetWallet))
	mux.HandleFunc("POST /wallet/deposit", telemetry.WithHTTPRoute(shopHandler.HandleDeposit))
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(inventoryHandler.HandleListProducts))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(inventoryHandler.HandleGetProduct))
	mux.HandleFunc("POST /products/{id}/restock", telemetry.WithHTTPRoute(inventoryHandler.HandleRestock))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(ordersHandler.HandleList))
	mux.HandleFunc("GET /orders/stats", telemetry.WithHTTPRoute(ordersHandler.HandleStats))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(ordersHandler.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/complete", telemetry.WithHTTPRoute(ordersHandler.HandleComplete))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHTTPHandler(mux, "shop"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting shop service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		for err := range dispatcher.Errors() {
			log.Warn("order event not delivered", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		dispatcher.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("shop service stopped with error", "error", err)
		os.Exit(1)
	}
}
