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

	"rental-service/config"
	"rental-service/internal/api"
	"rental-service/internal/audit"
	"rental-service/internal/broker"
	"rental-service/internal/realtime"
	"rental-service/internal/redisclient"
	"rental-service/internal/service"
	"rental-service/internal/store"
	"rental-service/internal/util"
	"rental-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting rental service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicBooking))

	eventPublisher := broker.NewEventPublisher(producer)

	var auditor audit.Recorder = audit.NopRecorder{}
	if cfg.Audit.MongoURI != "" {
		recorder, err := audit.NewMongoRecorder(ctx, cfg.Audit.MongoURI, cfg.Audit.MongoDatabase)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = recorder.Close(closeCtx)
		}()
		auditor = recorder
		logger.Info("Booking audit trail enabled", zap.String("database", cfg.Audit.MongoDatabase))
	}

	rt := realtime.NewPublisher(redisClient)

	bookingService := service.NewBookingService(db, redisClient, eventPublisher, rt, auditor, service.BookingConfig{
		TaxRateBPS:     cfg.Business.TaxRateBPS,
		HoldTTL:        time.Duration(cfg.Business.VehicleHoldSeconds) * time.Second,
		DefaultDailyKm: cfg.Business.DefaultDailyKm,
	})
	catalogService := service.NewCatalogService(db)
	chatService := service.NewChatService(db, redisClient, rt,
		time.Duration(cfg.Business.UnreadCacheTTLSeconds)*time.Second)
	notificationService := service.NewNotificationService(db, rt)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	hub := realtime.NewHub()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.Run(workerCtx, redisClient); err != nil && err != context.Canceled {
			logger.Error("Realtime hub stopped", zap.Error(err))
		}
	}()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, notificationService)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Bookings:      bookingService,
		Catalog:       catalogService,
		Chat:          chatService,
		Notifications: notificationService,
		Hub:           hub,
		Authorizer:    realtime.NewAuthorizer(chatService),
		Auth:          api.NewAuth(cfg.Auth.JWTSecret),
		Dependencies: map[string]api.Pinger{
			"postgres": db,
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

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}
	<-hubDone

	logger.Info("Server exited")
}
