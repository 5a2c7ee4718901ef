package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/handlers"
	catalogrepo "github.com/Ramsey-B/clover/internal/repositories/catalog"
	companionrulerepo "github.com/Ramsey-B/clover/internal/repositories/companionrule"
	cooccurrencerepo "github.com/Ramsey-B/clover/internal/repositories/cooccurrence"
	movementlogrepo "github.com/Ramsey-B/clover/internal/repositories/movementlog"
	suggestionrepo "github.com/Ramsey-B/clover/internal/repositories/suggestion"
	"github.com/Ramsey-B/clover/pkg/companions"
	"github.com/Ramsey-B/clover/pkg/cooccurrence"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

var version = "dev"

func fatal(logger ectologger.Logger, err error, msg string) {
	logger.WithError(err).Error(msg)
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, cfg.AppName, exporters.OTLPConfig{
			Endpoint: cfg.TracingOTLPEndpoint,
			Protocol: cfg.TracingOTLPProtocol,
			Insecure: cfg.TracingOTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			fatal(logger, err, "Failed to initialize tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shut down tracer provider")
			}
		}()
	}

	// Database
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)
	sqlxDB, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		fatal(logger, err, "Failed to connect to database")
	}
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	defer sqlxDB.Close()

	db := database.NewDatabaseInstance(sqlxDB, logger)

	// Migrations
	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		fatal(logger, err, "Failed to create migration driver")
	}
	migrationService := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrationService.Migrate(cfg.DatabaseName, driver); err != nil {
		fatal(logger, err, "Failed to run migrations")
	}

	// Redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		fatal(logger, err, "Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Kafka producer for suggestion lifecycle events
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	emitter := events.NewEmitter(producer, logger)

	// Repositories
	ruleRepo := companionrulerepo.NewRepository(db, logger)
	suggestionRepo := suggestionrepo.NewRepository(db, logger)
	pairRepo := cooccurrencerepo.NewRepository(db, logger)
	movementRepo := movementlogrepo.NewRepository(db, logger)
	catalogRepo := catalogrepo.NewRepository(db, logger)

	service := companions.NewService(ruleRepo, suggestionRepo, pairRepo, catalogRepo, emitter, logger)

	analyzer := cooccurrence.NewAnalyzer(
		movementRepo,
		pairRepo,
		cooccurrence.NewRedisLocker(redis.NewLocker(redisClient, cfg.AppName)),
		cooccurrence.Config{
			WindowPolicy: cfg.CoOccurrenceWindowPolicy,
			ChunkSize:    cfg.CoOccurrenceChunkSize,
			LockTTL:      cfg.CoOccurrenceLockTTL,
		},
		logger,
	)

	// Stock movement consumer. Consumption batches trigger suggestion
	// generation for their job.
	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaMovementsTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, func(ctx context.Context, msg *kafka.IncomingMessage) error {
			if !msg.IsConsumption() {
				return nil
			}
			_, err := service.Generate(ctx, msg.Movement.JobID, msg.Movement.Items, msg.Movement.TriggeredBy)
			return err
		})
		if err := consumer.Start(ctx); err != nil {
			fatal(logger, err, "Failed to start movement consumer")
		}
	}

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var consumerHealth health.ConsumerHealth
	if consumer != nil {
		consumerHealth = consumer
	}
	checker := health.NewChecker(sqlxDB, redisClient.Redis(), consumerHealth, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1/companions")
	handlers.NewRulesHandler(service, logger).Register(api.Group("/rules"))
	handlers.NewSuggestionsHandler(service, logger).Register(api.Group("/suggestions"))
	handlers.NewCoOccurrenceHandler(service, analyzer, logger).Register(api.Group("/co-occurrence"))
	handlers.NewStatsHandler(service, logger).Register(api.Group("/stats"))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on %s", cfg.AppName, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	checker.SetReady(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server failed")
	}

	checker.SetReady(false)

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop movement consumer")
		}
	}
	analyzer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}

	logger.Info("Shutdown complete")
}
