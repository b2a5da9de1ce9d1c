package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tournament-payments/config"
	"tournament-payments/internal/api"
	"tournament-payments/internal/broker"
	"tournament-payments/internal/provider"
	"tournament-payments/internal/redisclient"
	"tournament-payments/internal/service"
	"tournament-payments/internal/store"
	"tournament-payments/internal/util"
	"tournament-payments/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting tournament payments service")

	tp, err := util.InitTracer("tournament-payments", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	paymentProvider, err := provider.NewProvider(cfg.Payment)
	if err != nil {
		logger.Fatal("Failed to initialize payment provider", zap.Error(err))
	}

	jobProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicJobs)
	defer jobProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()
	logger.Info("Kafka producers initialized")

	jobs := broker.NewJobPublisher(jobProducer)
	notifications := broker.NewNotificationPublisher(notificationProducer)

	ledger := service.NewLedger(db)
	purchases := service.NewPurchaseService(db, ledger)
	catalog := service.NewCatalog(db)
	charges := service.NewChargeExecutor(db, purchases, ledger)
	voids := service.NewVoidExecutor(db, purchases)
	scheduler := service.NewChargeScheduler(db, catalog, jobs, redisClient,
		time.Duration(cfg.Business.SweepLookbackHours)*time.Hour,
		time.Duration(cfg.Business.SweepLockTTLSeconds)*time.Second)
	reconciler := service.NewPaymentReconciler(db, paymentProvider, purchases, ledger, catalog, notifications)
	runner := service.NewJobRunner(scheduler, charges, voids, reconciler)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	jobConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicJobs, cfg.Kafka.ConsumerGroup)
	jobWorker := worker.NewJobWorker(jobConsumer, runner)
	go func() {
		if err := jobWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Job worker error", zap.Error(err))
		}
	}()

	sweepCron, err := worker.NewSweepCron(scheduler, time.Duration(cfg.Business.SweepIntervalMinutes)*time.Minute)
	if err != nil {
		logger.Fatal("Failed to create sweep cron", zap.Error(err))
	}
	if err := sweepCron.Start(workerCtx); err != nil {
		logger.Fatal("Failed to start sweep cron", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Ledger:    ledger,
		Purchases: purchases,
		Catalog:   catalog,
		Charges:   charges,
		Voids:     voids,
		Scheduler: scheduler,
		Provider:  paymentProvider,
		Queue:     jobs,
		Dedup:     redisClient,
		DedupTTL:  time.Duration(cfg.Business.WebhookDedupTTLHours) * time.Hour,
		Checks: map[string]api.Pinger{
			"database": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := sweepCron.Stop(); err != nil {
		logger.Error("Sweep cron shutdown failed", zap.Error(err))
	}
	workerCancel()
	jobWorker.Stop()

	logger.Info("Server exited")
}
