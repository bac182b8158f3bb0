package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/api"
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

	db, err := openDB(cfg.Database.URL)
	if err != nil {
		logger.Error("database connect failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	records := postgres.NewDeliveryRecordStore(db)
	events := postgres.NewEngagementEventLog(db)
	directory := postgres.NewDirectory(db)

	statsSvc := stats.NewService(records)
	campaignSvc := campaign.NewService(postgres.NewCampaignRepo(db), statsSvc)
	supSvc := suppression.NewService(postgres.NewSuppressionRepo(db), cfg.Tracking.HardBounceThreshold)
	trackSvc := tracking.NewService(records, events, supSvc, directory)
	codec := tracking.NewCodec(cfg.Tracking.SigningKey, cfg.Tracking.BaseURL)

	handlers := api.NewHandlers(campaignSvc, statsSvc, supSvc, trackSvc)
	server := api.NewServer(handlers, tracking.NewHandler(trackSvc, codec))

	ctx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()

	// With SES credentials present the server embeds the delivery scheduler,
	// so a single-process deployment needs no separate worker binary.
	var sched *worker.Scheduler
	if cfg.SES.AccessKey != "" {
		tp, err := transport.NewSESTransport(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
		if err != nil {
			logger.Error("ses transport init failed", "error", err.Error())
			os.Exit(1)
		}

		var limiter worker.Limiter
		if cfg.Redis.URL != "" {
			rl, err := worker.NewRateLimiterFromURL(cfg.Redis.URL, cfg.Delivery.SendsPerSecond)
			if err != nil {
				logger.Error("redis connect failed", "error", err.Error())
				os.Exit(1)
			}
			limiter = rl
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
		sched = worker.NewScheduler(postgres.NewCampaignRepo(db), campaignSvc, dw, cfg.Scheduler.Interval())
		sched.SetLockSource(func(campaignID string) distlock.Lock {
			return distlock.NewPGAdvisoryLock(db, "campaign:"+campaignID)
		})
		go sched.Start(ctx)
	}

	go func() {
		logger.Info("api server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(cfg.Server.Addr()); err != nil {
			logger.Error("server stopped", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancelWorker()
	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
	logger.Info("server stopped")
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
