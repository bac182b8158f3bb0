package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/resolver"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/stats"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/transport"
	"github.com/ignite/campaign-engine/internal/worker"
)

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err.Error())
		os.Exit(1)
	}
	if cfg.LogLevel == "debug" {
		logger.SetLevel(logger.DEBUG)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDB(cfg.Database.URL)
	if err != nil {
		logger.Error("database connect failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	records := postgres.NewDeliveryRecordStore(db)
	events := postgres.NewEngagementEventLog(db)
	directory := postgres.NewDirectory(db)
	campaignRepo := postgres.NewCampaignRepo(db)

	statsSvc := stats.NewService(records)
	campaignSvc := campaign.NewService(campaignRepo, statsSvc)
	supSvc := suppression.NewService(postgres.NewSuppressionRepo(db), cfg.Tracking.HardBounceThreshold)
	trackSvc := tracking.NewService(records, events, supSvc, directory)
	codec := tracking.NewCodec(cfg.Tracking.SigningKey, cfg.Tracking.BaseURL)

	tp, err := transport.NewSESTransport(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	if err != nil {
		logger.Error("ses transport init failed", "error", err.Error())
		os.Exit(1)
	}

	var limiter worker.Limiter
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid redis url", "error", err.Error())
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Error("redis connect failed", "error", err.Error())
			os.Exit(1)
		}
		limiter = worker.NewRateLimiter(redisClient, cfg.Delivery.SendsPerSecond)
	}

	dw := worker.NewDeliveryWorker(
		campaignSvc,
		records,
		resolver.New(directory, supSvc),
		render.NewLiquidRenderer(postgres.NewTemplateStore(db)),
		tp,
		limiter,
		codec,
		trackSvc,
		worker.Config{
			BatchSize:   cfg.Delivery.BatchSize,
			Concurrency: cfg.Delivery.Concurrency,
			MaxRetries:  cfg.Delivery.MaxRetries,
			BackoffBase: cfg.Delivery.BackoffBase(),
			BackoffCap:  cfg.Delivery.BackoffCap(),
			SendTimeout: cfg.Delivery.SendTimeout(),
			FromName:    cfg.Delivery.FromName,
			FromEmail:   cfg.Delivery.FromEmail,
			ReplyTo:     cfg.Delivery.ReplyTo,
		},
	)

	sched := worker.NewScheduler(campaignRepo, campaignSvc, dw, cfg.Scheduler.Interval())
	sched.SetLockSource(func(campaignID string) distlock.Lock {
		return distlock.New(redisClient, db, "campaign:"+campaignID, 5*time.Minute)
	})
	go sched.Start(ctx)
	logger.Info("delivery worker running", "interval", cfg.Scheduler.Interval().String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()
	sched.Stop()
	logger.Info("worker stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func openDB(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
