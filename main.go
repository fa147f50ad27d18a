package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"homepro/config"
	"homepro/cron"
	"homepro/database"
	"homepro/handlers"
	"homepro/middleware"
	"homepro/routes"
	"homepro/services/booking"
	"homepro/services/events"
	"homepro/services/notification"
	"homepro/services/payment"
	"homepro/services/reconciler"
	"homepro/services/tasks"
	"homepro/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("main: %v", err)
	}
	logger, err := utils.NewLogger(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("main: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	ledger, err := database.OpenLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("main: failed to open ledger", zap.String("driver", cfg.LedgerDriver), zap.Error(err))
	}
	if err := ledger.Store.EnsureSchema(ctx); err != nil {
		logger.Fatal("main: failed to prepare ledger schema", zap.Error(err))
	}

	var devices notification.DeviceDirectory = notification.NewMemoryDeviceDirectory()
	if ledger.MongoDB != nil {
		mongoDevices := notification.NewMongoDeviceDirectory(ledger.MongoDB)
		if err := mongoDevices.EnsureIndexes(ctx); err != nil {
			logger.Fatal("main: failed to prepare device indexes", zap.Error(err))
		}
		devices = mongoDevices
	}

	// Redis: cache db for health, queue db for background jobs.
	cacheClient, err := utils.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisCacheDB)
	if err != nil {
		logger.Fatal("main: redis unavailable", zap.Error(err))
	}
	queueOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
	asynqClient := asynq.NewClient(queueOpt)
	queue := tasks.NewQueue(asynqClient, cfg.CaptureRetryMax, logger)

	// Notifications.
	var sink notification.Sink = notification.LogSink{Logger: logger}
	var pusher cron.Pusher
	if cfg.FirebaseCredentialsFile != "" {
		fcm, err := utils.NewMessagingClient(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			logger.Fatal("main: failed to initialize firebase", zap.Error(err))
		}
		push, err := notification.NewPushService(devices, fcm, logger)
		if err != nil {
			logger.Fatal("main: failed to initialize push", zap.Error(err))
		}
		pusher = push
		sink = notification.MultiSink{sink, notification.QueueSink{Queue: queue, Logger: logger}}
	} else {
		logger.Warn("FIREBASE_CREDENTIALS_FILE not set; notifications are only logged")
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		logger.Fatal("main: failed to connect event bus", zap.String("driver", cfg.EventsDriver), zap.Error(err))
	}

	// Core.
	gateway := payment.NewStripeGateway(payment.StripeOptions{
		APIKey:        cfg.StripeKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.GatewayTimeout,
	}, logger)

	machine, err := booking.NewMachine(booking.Deps{
		Store:    ledger.Store,
		Gateway:  gateway,
		Notifier: sink,
		Events:   publisher,
		Retries:  queue,
		Logger:   logger,
		Currency: cfg.PaymentCurrency,
	})
	if err != nil {
		logger.Fatal("main: failed to build booking machine", zap.Error(err))
	}
	rec := reconciler.New(ledger.Store, gateway, machine, logger, reconciler.Options{ClaimTTL: cfg.WebhookClaimTTL})

	worker := cron.NewWorker(queueOpt, cfg.WorkerConcurrency, machine, pusher, logger)
	worker.Start()

	monitor := utils.NewHealthMonitor(map[string]utils.HealthCheck{
		"ledger": ledger.Ping,
		"redis":  func(ctx context.Context) error { return cacheClient.Ping(ctx).Err() },
	})
	monitor.Start(ctx, 60*time.Second)

	// HTTP.
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(utils.ErrorHandler())
	router.Use(middleware.RequestLogger(logger))

	routes.RegisterRoutes(router, &handlers.HandlerBundle{
		JWTSecret:         []byte(cfg.JWTSecret),
		MaxRequestsPerMin: cfg.MaxRequestsPerMin,
		Booking:           handlers.NewBookingHandler(machine),
		Webhook:           handlers.NewWebhookHandler(rec),
		Device:            handlers.NewDeviceHandler(devices),
		Health:            handlers.NewHealthHandler(monitor),
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("ledger", cfg.LedgerDriver))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("main: server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("main: server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("main: server forced to shutdown", zap.Error(err))
	}
	worker.Shutdown()
	if err := publisher.Close(); err != nil {
		logger.Warn("main: event bus close failed", zap.Error(err))
	}
	_ = asynqClient.Close()
	_ = cacheClient.Close()
	if err := ledger.Close(shutdownCtx); err != nil {
		logger.Warn("main: ledger close failed", zap.Error(err))
	}
	logger.Info("main: server stopped gracefully")
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.EventsDriver {
	case config.EventsAMQP:
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case config.EventsKafka:
		return events.NewKafkaPublisher(cfg.Brokers(), cfg.KafkaTopic)
	default:
		return events.Nop, nil
	}
}
