package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditgate/internal/auth"
	"creditgate/internal/bot"
	"creditgate/internal/config"
	"creditgate/internal/gateway"
	"creditgate/internal/generation"
	"creditgate/internal/handler"
	"creditgate/internal/infrastructure/cache"
	"creditgate/internal/infrastructure/database"
	"creditgate/internal/infrastructure/lock"
	"creditgate/internal/infrastructure/mq"
	"creditgate/internal/job"
	"creditgate/internal/metrics"
	"creditgate/internal/model"
	"creditgate/internal/service"
	"creditgate/pkg/idgen"
	"creditgate/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "creditgate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, flush, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer flush()

	if err := idgen.Init(1); err != nil {
		return err
	}

	// context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// database
	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("close database", zap.Error(err))
		}
	}()
	if sqlDB, err := db.DB(); err == nil {
		go metrics.StartDBStatsCollector(ctx, sqlDB, 15*time.Second)
	}

	// settlement lock: Redis when configured, in-process otherwise
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled() {
		rdb, err := cache.NewRedis(ctx, &cfg.Redis, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "creditgate:settle:", cfg.Redis.LockTTL)
	}

	// services
	tiers, err := service.ParseTiers(cfg.Business.Tiers)
	if err != nil {
		return err
	}
	identity := service.NewIdentityService(db, cfg.Business.DefaultBalance, log)
	ledger := service.NewLedgerService(db, log)
	invoices := service.NewInvoiceService(db, gateway.NewClient(&cfg.Gateway, log), tiers, log)

	webhookOpts := service.WebhookOptions{
		APIKey:          cfg.Gateway.APIKey,
		VerifySignature: cfg.Webhook.VerifySignature,
		PathSecret:      cfg.Webhook.PathSecret,
	}
	if cfg.Kafka.Enabled {
		webhookOpts.SettlementTopic = cfg.Kafka.Topic.Settlement
	}
	webhook := service.NewWebhookService(db, identity, ledger, locker, webhookOpts, log)

	var generate *service.GenerateService
	if cfg.Generation.Enabled {
		generate = service.NewGenerateService(identity, ledger, generation.NewChatClient(&cfg.Generation), log)
	} else {
		log.Warn("generation disabled, /generate is not served")
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if secret, err = idgen.Hex(32); err != nil {
			return err
		}
		log.Warn("auth.jwt_secret not set, sessions will not survive a restart")
	}
	sessions := auth.NewSessionManager(secret, cfg.Auth.SessionTTL)

	// background jobs
	sender := job.NewOutboxSender(db, cfg.Business.OutboxInterval, cfg.Business.MaxRetryCount, log)
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher := mq.NewKafkaPublisher(producer, log)
		defer publisher.Close()
		sender.Fallback(publisher)
	}
	if cfg.Telegram.Enabled {
		api, err := bot.Connect(&cfg.Telegram)
		if err != nil {
			return err
		}
		sender.Route(model.TopicUserNotification, bot.NewNotifier(api, log))
		go bot.New(api, identity, invoices, cfg.Telegram.PollTimeout, log).Run(ctx)
	}
	go sender.Start(ctx)

	expiry := job.NewInvoiceExpiryJob(db, cfg.Business.ExpiryInterval, log)
	go expiry.Start(ctx)

	compensator := job.NewReservationCompensator(db, ledger, cfg.Business.ReservationTimeout, cfg.Business.CompensateInterval, log)
	go compensator.Start(ctx)

	// HTTP
	router := handler.SetupRouter(handler.NewHandler(handler.Deps{
		Identity: identity,
		Ledger:   ledger,
		Invoices: invoices,
		Webhook:  webhook,
		Generate: generate,
		Sessions: sessions,
		Log:      log,
	}), cfg.Server.Mode, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// wait for a signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("http server failed", zap.Error(err))
		cancel()
		return err
	}

	// stop background work, then drain HTTP
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
