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
	apppayment "food_order/application/payment"
	"food_order/config"
	"food_order/infrastructure/idempotency"
	"food_order/infrastructure/messaging"
	"food_order/infrastructure/outbox"
	"food_order/infrastructure/paymentgw"
	"food_order/infrastructure/postgres"
	"food_order/infrastructure/redislock"
	"food_order/infrastructure/repository"
	"food_order/pkg/logging"
	"food_order/pkg/resilience"
)

func main() {
	cfg := config.LoadPayment()
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

	leader := redislock.NewScheduledLock(rdb)
	outboxStore := outbox.NewStore()
	ledger := idempotency.NewLedger()
	paymentRepo := repository.NewPaymentRepository()

	gateway := paymentgw.New(cfg.GatewayURL, cfg.GatewayAPIKey)
	envelope := resilience.New("payment-gateway", resilience.DefaultConfig())
	handler := apppayment.NewHandler(runner, paymentRepo, ledger, outboxStore, gateway, envelope)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := outbox.NewRelay(outbox.DefaultRelayConfig("payment-outbox-relay"), db, outboxStore, bus, leader)
	cleanup := outbox.NewCleanup(outbox.DefaultCleanupConfig("payment-outbox-cleanup"), db, outboxStore, ledger, leader)

	if err := handler.Start(ctx, bus, cfg.ConsumerGroup); err != nil {
		log.Fatal().Err(err).Msg("command subscription failed")
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

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: api.WorkerRouter()}
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
