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

	"donations/internal/app/reconcile"
	"donations/internal/config"
	"donations/internal/gateway"
	donations_http "donations/internal/handler/http/donations"
	app_middleware "donations/internal/handler/http/middleware"
	kafka_handler "donations/internal/handler/kafka"
	"donations/internal/infrastructure/database"
	kafka_infra "donations/internal/infrastructure/kafka"
	"donations/internal/outbox"
	donations_repo_pg "donations/internal/repository/donations_repo/postgres"
	events_repo_pg "donations/internal/repository/events_repo/postgres"
	outbox_repo_pg "donations/internal/repository/outbox_repo/postgres"
	"donations/internal/retry"
	"donations/internal/sweeper"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if err == kafka.TopicAlreadyExists {
			logger.Info("One or more Kafka topics already exist, skipping creation.")
		} else {
			return fmt.Errorf("failed to create Kafka topics: %w", err)
		}
	} else {
		logger.Info("Kafka topics ensured successfully.", zap.Strings("topics", topics))
	}

	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger.Info("Donations service starting...")

	appLogger.Info("Waiting for database to be available...")
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	var db *sql.DB
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			appLogger.Info("Successfully connected to PostgreSQL database!")
			break
		}
		appLogger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...", i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}

	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		} else {
			appLogger.Info("Database connection closed.")
		}
	}()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New("file://migrations", cfg.GetDBMigrationConnectionString())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed successfully (or no new migrations).")

	kafkaBrokers := cfg.GetKafkaBrokers()
	requiredTopics := []string{
		cfg.KafkaDonationStatusTopic,
		cfg.KafkaGatewayEventsTopic,
	}

	topicsCtx, topicsCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer topicsCancel()
	if err := ensureKafkaTopics(topicsCtx, kafkaBrokers, requiredTopics, appLogger); err != nil {
		appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	donationRepository := donations_repo_pg.NewDonationRepository(db)
	eventRepository := events_repo_pg.NewEventRepository(db)
	outboxRepository := outbox_repo_pg.NewOutboxRepository(db)

	gatewayClient := gateway.NewRazorpayClient(
		cfg.GatewayBaseURL,
		cfg.GatewayKeyID,
		cfg.GatewayKeySecret,
		appLogger.With(zap.String("component", "RazorpayClient")),
	)

	reconcileService := reconcile.NewReconcileService(
		db,
		donationRepository,
		eventRepository,
		outboxRepository,
		gatewayClient,
		reconcile.Config{
			CheckoutKeyID: cfg.GatewayKeyID,
			KeySecret:     cfg.GatewayKeySecret,
			WebhookSecret: cfg.WebhookSecret,
			SignatureMode: cfg.SignatureMode,
			RetryPolicy: retry.Policy{
				BaseDelay:  cfg.RetryBaseDelay,
				MaxDelay:   cfg.RetryMaxDelay,
				Multiplier: cfg.RetryMultiplier,
				MaxRetries: cfg.RetryMaxRetries,
			},
			OrderTimeout:        cfg.OrderTimeout,
			PollTimeout:         cfg.PollTimeout,
			SweepBatchSize:      cfg.SweepBatchSize,
			MinDonationAmount:   cfg.MinDonationAmount,
			SupportedCurrencies: cfg.SupportedCurrencies,
			StatusTopic:         cfg.KafkaDonationStatusTopic,
			SiteName:            "Donations",
		},
		appLogger.With(zap.String("component", "ReconcileService")),
	)
	appLogger.Info("Reconcile Service initialized.")

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(app_middleware.MetricsMiddleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	router.Handle("/metrics", app_middleware.PrometheusHandler())
	donations_http.RegisterRoutes(router, reconcileService, cfg.SweepStaleAge, cfg.SweepExpireAge, appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	appLogger.Info("HTTP server configured.")

	kafkaProducer := kafka_infra.NewProducer(
		kafkaBrokers,
		appLogger.With(zap.String("component", "KafkaProducer")),
	)
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()

	outboxProcessor := outbox.NewProcessor(
		outboxRepository,
		kafkaProducer,
		cfg.OutboxInterval,
		cfg.OutboxBatchSize,
		appLogger.With(zap.String("component", "OutboxProcessor")),
	)

	staleSweeper := sweeper.NewSweeper(
		reconcileService,
		cfg.SweepInterval,
		cfg.SweepStaleAge,
		cfg.SweepExpireAge,
		appLogger.With(zap.String("component", "Sweeper")),
	)

	gatewayEventsHandler := kafka_handler.GatewayEventsMessageHandler(
		reconcileService,
		appLogger.With(zap.String("component", "GatewayEventsHandler")),
	)
	gatewayEventsConsumer := kafka_infra.NewConsumer(
		kafkaBrokers,
		cfg.KafkaConsumerGroup,
		cfg.KafkaGatewayEventsTopic,
		appLogger.With(zap.String("component", "GatewayEventsConsumer")),
	)

	ctxMain, cancelMain := context.WithCancel(context.Background())

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	outboxProcessor.Start(ctxMain)
	staleSweeper.Start(ctxMain)

	go func() {
		if err := gatewayEventsConsumer.Start(ctxMain, gatewayEventsHandler); err != nil {
			if err != context.Canceled && err != kafka.ErrGroupClosed {
				appLogger.Error("Gateway events consumer failed", zap.Error(err))
			}
		}
		appLogger.Info("Gateway events consumer stopped.")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")

	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	gatewayEventsConsumer.Stop()
	staleSweeper.Stop()
	outboxProcessor.Stop()

	appLogger.Info("Donations service shut down.")
}
