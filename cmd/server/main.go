package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/dmflow/internal/api"
	"github.com/ignite/dmflow/internal/channels"
	"github.com/ignite/dmflow/internal/config"
	"github.com/ignite/dmflow/internal/dedup"
	"github.com/ignite/dmflow/internal/engine"
	"github.com/ignite/dmflow/internal/logs"
	"github.com/ignite/dmflow/internal/pkg/distlock"
	"github.com/ignite/dmflow/internal/pkg/logger"
	"github.com/ignite/dmflow/internal/ratelimit"
	"github.com/ignite/dmflow/internal/rules"
	"github.com/ignite/dmflow/internal/transport"
	"github.com/ignite/dmflow/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("config load failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Error("redis ping failed", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	ruleStore := rules.NewStore(db)
	logStore := logs.NewStore(db)
	channelStore := channels.NewStore(db)
	queueStore := engine.NewQueueStore(db)
	ledger := dedup.NewLedger(redisClient)
	limiter := ratelimit.NewDailyLimiter(redisClient)
	deduper := engine.NewEventDeduper(redisClient,
		time.Duration(cfg.Engine.EventDedupeTTLHours)*time.Hour)
	sender := transport.NewGraphSender(cfg.Platform.BaseURL, cfg.Platform.Timeout())

	lockFactory := func(key string) distlock.DistLock {
		return distlock.New(redisClient, db, key, 30*time.Second)
	}

	dispatcher := engine.NewDispatcher(ruleStore, logStore, channelStore,
		ledger, limiter, queueStore, sender, deduper, lockFactory,
		engine.Options{
			Workers:   cfg.Engine.Workers,
			QueueTick: cfg.Engine.QueueTick(),
			Retry: engine.RetryPolicy{
				MaxAttempts: cfg.Engine.MaxSendAttempts,
				BaseDelay:   cfg.Engine.RetryBaseDelay(),
				MaxDelay:    cfg.Engine.RetryMaxDelay(),
			},
		})
	dispatcher.Start()
	defer dispatcher.Stop()

	var maintenance *worker.Maintenance
	if cfg.Maintenance.Enabled {
		maintenance = worker.NewMaintenance(ledger, queueStore, logStore)
		if err := maintenance.Start(cfg.Maintenance.DedupPruneSchedule, cfg.Maintenance.QueueSweepSchedule); err != nil {
			logger.Error("maintenance scheduler failed to start", "error", err)
			os.Exit(1)
		}
		defer maintenance.Stop()
	}

	handlers := api.NewHandlers(ruleStore, logStore, limiter, dispatcher)
	router := api.SetupRoutes(handlers, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
}
