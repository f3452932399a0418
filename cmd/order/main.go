package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"food_order/api"
	"food_order/application/notification"
	appqueue "food_order/application/queue"
	appsaga "food_order/application/saga"
	"food_order/application/usecases"
	"food_order/config"
	"food_order/infrastructure/idempotency"
	"food_order/infrastructure/messaging"
	"food_order/infrastructure/outbox"
	"food_order/infrastructure/postgres"
	"food_order/infrastructure/redislock"
	"food_order/infrastructure/redisq"
	"food_order/infrastructure/repository"
	"food_order/infrastructure/storeclient"
	"food_order/pkg/logging"
	"food_order/pkg/resilience"
)

func main() {
	cfg := config.LoadOrder()
	logging.Init(logging.Config{Level: logging.Level(cfg.LogLevel), JSONOutput: true})
	log := logging.WithComponent("main")
	log.Info().Str("service", cfg.ServiceName).Msg("starting")

	db, err := postgres.Connect(cfg.DatabaseURL, 10)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()
	runner := postgres.NewRunner(db)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	bus, err := messaging.NewBus(cfg.BrokerKind, cfg.RabbitURL, cfg.KafkaBrokers, 10)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connection failed")
	}
	defer bus.Close()

	// infrastructure
	leader := redislock.NewScheduledLock(rdb)
	admissionQueue := redisq.NewQueue(rdb)
	requestKeys := redisq.NewRequestKeys(rdb)
	limiter := redisq.NewRateLimiter(rdb, redisq.RateLimiterConfig{
		Capacity:        int(cfg.RateLimitCapacity),
		RefillPerSecond: float64(cfg.RateLimitPerSecond),
	})
	outboxStore := outbox.NewStore()
	ledger := idempotency.NewLedger()
	orderRepo := repository.NewOrderRepository()
	sagaRepo := repository.NewSagaRepository()

	// application
	hub := notification.NewHub()
	defer hub.Close()
	orchestrator := appsaga.NewOrchestrator(runner, sagaRepo, orderRepo, outboxStore, ledger, admissionQueue, hub)
	admission := appqueue.NewService(admissionQueue, appqueue.Config{
		InflightThreshold: cfg.InflightThreshold,
		DrainInterval:     cfg.DrainInterval,
	})
	storeEnvelope := resilience.New("store-service", resilience.DefaultConfig())
	stores := storeclient.New(cfg.StoreServiceURL, storeEnvelope)
	orders := usecases.NewOrderService(
		db, runner, orderRepo, sagaRepo, orchestrator, stores,
		admission, requestKeys, outboxStore, hub, admissionQueue,
	)

	// background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := outbox.NewRelay(outbox.DefaultRelayConfig("order-outbox-relay"), db, outboxStore, bus, leader)
	cleanup := outbox.NewCleanup(outbox.DefaultCleanupConfig("order-outbox-cleanup"), db, outboxStore, ledger, leader)
	dequeuer := appqueue.NewDequeuer(admissionQueue, leader, orchestrator, cfg.DrainInterval, logging.Logger)

	if err := orchestrator.Start(ctx, bus, cfg.ConsumerGroup); err != nil {
		log.Fatal().Err(err).Msg("orchestrator subscription failed")
	}
	go func() {
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox relay stopped")
		}
	}()
	go func() {
		if err := cleanup.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox cleanup stopped")
		}
	}()
	go dequeuer.Start(ctx)

	// HTTP server
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.OrderRouter(api.NewOrderHandler(orders), api.NewStreamHandler(hub), limiter),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	cancel()
}
