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
	appstore "food_order/application/store"
	"food_order/config"
	"food_order/infrastructure/cache"
	"food_order/infrastructure/postgres"
	"food_order/infrastructure/redislock"
	"food_order/infrastructure/repository"
	"food_order/pkg/logging"
	"food_order/pkg/resilience"
)

func main() {
	cfg := config.LoadStore()
	logging.Init(logging.Config{Level: logging.Level(cfg.LogLevel), JSONOutput: true})
	log := logging.WithComponent("main")
	log.Info().Str("service", cfg.ServiceName).Msg("starting")

	db, err := postgres.Connect(cfg.DatabaseURL, 10)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	leader := redislock.NewScheduledLock(rdb)
	storeRepo := repository.NewStoreRepository()
	storeCache := cache.NewStoreCache(rdb)

	envelope := resilience.New("store-db", resilience.DefaultConfig())
	reader := appstore.NewReader(db, storeRepo, storeCache, envelope)

	warmerCfg := appstore.DefaultWarmerConfig()
	warmerCfg.Interval = cfg.WarmInterval
	warmer := appstore.NewWarmer(warmerCfg, db, storeRepo, storeCache, leader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := warmer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("cache warmer stopped")
		}
	}()

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.StoreRouter(api.NewStoreHandler(reader)),
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
