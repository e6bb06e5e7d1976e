package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"splitride/internal/app"
	"splitride/internal/config"
	"splitride/internal/events"
	"splitride/internal/fare"
	"splitride/internal/handler"
	"splitride/internal/logging"
	"splitride/internal/middleware"
	"splitride/internal/realtime"
	internalRedis "splitride/internal/redis"
	"splitride/internal/repository/postgres"
	"splitride/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Error("failed to initialize New Relic", "error", err)
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	srv := wireServer(runCtx, db, redisClient, nrApp, cfg, logger)

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stop()
	srv.close()
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

type server struct {
	httpServer *http.Server
	hub        *realtime.Hub
	kafka      *events.KafkaPublisher
	logger     *slog.Logger
}

// close disconnects websocket clients and flushes the event stream.
func (s *server) close() {
	s.hub.Close()
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("failed to close kafka writer", "error", err)
		}
	}
}

// wireServer wires all dependencies and returns the HTTP server. Background
// consumers run until ctx is cancelled.
func wireServer(ctx context.Context, db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, logger *slog.Logger) *server {
	// Realtime delivery: every instance publishes through Redis and delivers
	// to its own websocket clients from the subscription.
	hub := realtime.NewHub(logger)
	eventBus := internalRedis.NewEventBus(redisClient, cfg.Redis.EventsChannel, hub, logger)
	go func() {
		if err := eventBus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event bus stopped", "error", err)
		}
	}()

	broadcasters := realtime.Fanout{eventBus}
	var kafkaPublisher *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.RideTopic))
		broadcasters = append(broadcasters, kafkaPublisher)
		logger.Info("kafka ride stream enabled", "topic", cfg.Kafka.RideTopic)
	}

	// Initialize Redis stores.
	cacheStore := internalRedis.NewCacheStore(redisClient)
	var locker service.Locker
	if cfg.Ride.LockEnabled {
		locker = internalRedis.NewLockStore(redisClient, cfg.Ride.LockTTL, cfg.Ride.LockWait)
	}

	// Initialize repositories.
	userRepo := postgres.NewUserRepository(db)
	rideRepo := postgres.NewRideRepository(db)

	allocator := fare.NewAllocator(fare.Config{
		RatePerKm:     cfg.Fare.RatePerKm,
		PoolingFactor: cfg.Fare.PoolingFactor,
		SoloDiscount:  cfg.Fare.SoloDiscount,
	})

	rideService := service.NewRideService(service.RideServiceDeps{
		Rides:       rideRepo,
		Users:       userRepo,
		Allocator:   allocator,
		Broadcaster: broadcasters,
		Locker:      locker,
		Cache:       cacheStore,
		Logger:      logger,
		Config: service.Config{
			MaxAttempts:      cfg.Ride.MaxAttempts,
			MaxPassengers:    cfg.Ride.MaxPassengers,
			DefaultBaseFare:  cfg.Fare.DefaultBaseFare,
			BroadcastTimeout: cfg.Ride.BroadcastTimeout,
		},
	})

	router := app.NewRouter(app.RouterDeps{
		RideHandler:    handler.NewRideHandler(rideService),
		UserHandler:    handler.NewUserHandler(userRepo),
		WSHandler:      handler.NewWSHandler(hub, logger),
		UserRepo:       userRepo,
		ResponseStore:  middleware.NewRedisResponseStore(redisClient),
		RequestTimeout: cfg.Server.RequestTimeout,
		NewRelicApp:    nrApp,
	})

	return &server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		hub:    hub,
		kafka:  kafkaPublisher,
		logger: logger,
	}
}
