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

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/go-playground/validator/v10"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pricekit/repricer/config"
	"github.com/pricekit/repricer/internal/handlers"
	"github.com/pricekit/repricer/pkg/database"
	"github.com/pricekit/repricer/pkg/httpclient"
	"github.com/pricekit/repricer/pkg/kafka"
	"github.com/pricekit/repricer/pkg/marketplace"
	"github.com/pricekit/repricer/pkg/middleware"
	"github.com/pricekit/repricer/pkg/reconcile"
	"github.com/pricekit/repricer/pkg/redis"
	"github.com/pricekit/repricer/pkg/repositories"
	"github.com/pricekit/repricer/pkg/resilience"
	"github.com/pricekit/repricer/pkg/scheduler"
	"github.com/pricekit/repricer/pkg/session"
	"github.com/pricekit/repricer/pkg/sink"
	"github.com/pricekit/repricer/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)
	logger.Infof("Starting %s", cfg.AppName)

	shutdownTracing := tracing.Init(cfg.AppName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	// Postgres
	dbCfg := database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
	sqlxDB, err := sqlx.Connect("postgres", dbCfg.DSN())
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db := database.NewDatabaseInstance(sqlxDB, logger)
	defer db.Close()

	// Migrations
	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		logger.WithError(err).Error("Failed to create migration driver")
		os.Exit(1)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		logger.WithError(err).Error("Failed to apply migrations")
		os.Exit(1)
	}

	// Redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		os.Exit(1)
	}
	defer redisClient.Close()
	limiter := redis.NewRateLimiter(redisClient, "")
	locker := redis.NewLocker(redisClient, "")

	// Kafka
	producer := kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaResultTopic, cfg.KafkaEventTopic), logger)
	defer producer.Close()

	// Marketplace client. Redirects stay unfollowed so session probes can
	// see the login redirect instead of the page it lands on.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.MarketplaceTimeout
	httpCfg.FollowRedirects = false
	mpClient := marketplace.NewClient(marketplace.Config{
		BaseURL: cfg.MarketplaceBaseURL,
	}, httpclient.NewClient(httpCfg, logger), limiter, logger)

	executor := resilience.NewExecutor(resilience.Policy{
		MaxRetries: cfg.RetryMaxRetries,
	}, logger)

	guard := session.NewGuard(session.Config{
		Credentials: marketplace.Credentials{
			Username: cfg.MarketplaceUsername,
			Password: cfg.MarketplacePassword,
		},
	}, mpClient, executor, redisClient, logger)

	// Repositories
	productRepo := repositories.NewProductRepository(db, logger)
	runRepo := repositories.NewRunRepository(db, logger)
	resultRepo := repositories.NewResultRepository(db, logger)
	settingsRepo := repositories.NewSettingsRepository(db, logger)
	statsRepo := repositories.NewStatisticsRepository(db, logger)

	// Result pipeline
	resultSink := sink.NewMultiSink(
		sink.NewLogSink(logger),
		sink.NewStoreSink(resultRepo, statsRepo),
		sink.NewCatalogSink(productRepo),
		sink.NewKafkaSink(producer),
	)

	worker := reconcile.NewWorker(reconcile.WorkerConfig{
		MaxConcurrency: cfg.WorkerMaxConcurrency,
		DelayMin:       cfg.WorkerDelayMin,
		DelayMax:       cfg.WorkerDelayMax,
	}, mpClient, mpClient, guard, executor, resultSink, logger)

	manager := reconcile.NewManager(productRepo, runRepo, worker, resultSink, logger)

	// Scheduler
	runScheduler := scheduler.NewScheduler(manager, settingsRepo, locker, scheduler.Config{
		Enabled:  cfg.SchedulerEnabled,
		Interval: cfg.SchedulerInterval,
	}, logger)
	if cfg.SchedulerEnabled {
		if err := runScheduler.Start(context.Background()); err != nil {
			logger.WithError(err).Error("Failed to start scheduler")
			os.Exit(1)
		}
	}

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	validate := validator.New()

	api := e.Group("/api/v1")
	handlers.NewProductHandler(productRepo, logger).Register(api.Group("/products"))
	handlers.NewRunHandler(manager, runRepo, resultRepo, settingsRepo, logger).Register(api.Group("/runs"))
	handlers.NewSettingsHandler(settingsRepo, validate, logger).Register(api.Group("/settings"))
	handlers.NewStatisticsHandler(statsRepo, logger).Register(api.Group("/statistics"))

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Infof("Server listening on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cfg.SchedulerEnabled {
		if err := runScheduler.Stop(ctx); err != nil {
			logger.WithError(err).Error("Scheduler shutdown error")
		}
	}
	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}

	// Let an in-flight run finish persisting its terminal snapshot.
	if handle := manager.ActiveRun(); handle != nil {
		handle.Cancel()
		select {
		case <-handle.Done():
		case <-ctx.Done():
			logger.Warn("Timed out waiting for active run to stop")
		}
	}

	logger.Info("Stopped")
}

func newLogger(cfg *config.Config) ectologger.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}
