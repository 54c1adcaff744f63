package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatforge/realtime/internal/api"
	"github.com/chatforge/realtime/internal/auth"
	"github.com/chatforge/realtime/internal/config"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/middleware"
	"github.com/chatforge/realtime/internal/observability"
	"github.com/chatforge/realtime/internal/service/messageservice"
	"github.com/chatforge/realtime/internal/service/notifyservice"
	"github.com/chatforge/realtime/internal/service/roomservice"
	"github.com/chatforge/realtime/internal/service/userservice"
	"github.com/chatforge/realtime/internal/service/wsservice"
	"github.com/chatforge/realtime/internal/store/chanalytics"
	"github.com/chatforge/realtime/internal/store/mongostore"
	"github.com/chatforge/realtime/internal/store/pgmessage"
	"github.com/chatforge/realtime/internal/store/rediskv"
	"github.com/chatforge/realtime/internal/worker"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize OpenTelemetry
	otelCleanup, err := observability.InitOpenTelemetry("chatforge-realtime", "1.0.0")
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := otelCleanup(context.Background()); err != nil {
			log.Printf("Error shutting down OpenTelemetry: %v", err)
		}
	}()

	// Initialize structured logger
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	// Initialize the document store: users, rooms, memberships, join
	// requests, notifications, and the transactional outbox.
	mongo, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Mongo store: %v", err)
	}
	users := mongostore.NewUserStore(mongo)
	rooms := mongostore.NewRoomStore(mongo)
	memberships := mongostore.NewMembershipStore(mongo)
	joinRequests := mongostore.NewJoinRequestStore(mongo)
	notifs := mongostore.NewNotificationStore(mongo)
	outboxStore := mongostore.NewOutboxStore(mongo)
	tx := mongostore.NewTxRunner(mongo)

	// Initialize the message store: high-volume room message history.
	pgPool, err := pgmessage.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Postgres message pool: %v", err)
	}
	messages := pgmessage.NewMessageStore(pgPool)

	// Initialize the analytics sink fed by the outbox worker.
	analytics, err := chanalytics.New(ctx, cfg.ClickHouseDSN, logger)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize ClickHouse analytics sink: %v", err)
	}

	// Initialize the KV plane: sessions, presence, locks, pub/sub.
	redisClient, err := rediskv.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Redis client: %v", err)
	}
	userSessions := rediskv.NewUserSessionStore(redisClient)
	wsSessions := rediskv.NewWSSessionStore(redisClient)
	presence := rediskv.NewPresenceStore(redisClient)
	lock := rediskv.NewLock(redisClient)
	pubsub := rediskv.NewPubSub(redisClient)
	notifySender := rediskv.NewNotificationSender(pubsub)

	hasher := auth.NewArgonHasher()

	userSvc := userservice.New(users, userSessions, wsSessions, notifs, hasher, tx, outboxStore, logger, cfg.UserSessionTTL, cfg.SessionRefreshThreshold)
	roomSvc := roomservice.New(rooms, memberships, joinRequests, users, tx, outboxStore, logger)
	messageSvc := messageservice.New(messages, memberships, users, tx, pubsub, outboxStore, logger)
	notifySvc := notifyservice.New(notifs)
	wsSvc := wsservice.New(wsSessions, presence, memberships, rooms, users, tx, pubsub, outboxStore, logger, cfg.WebSocketSessionTTL)

	// Start background jobs: outbox drain and repair reconciliation,
	// run on a cron schedule.
	outboxWorker := worker.NewOutboxWorker(outboxStore, notifs, analytics, notifySender, lock, logger,
		cfg.OutboxWorkerLockTimeout, cfg.OutboxWorkerBatchSize, cfg.OutboxMaxRetries, cfg.OutboxDefaultRetryDelay)
	repairJob := worker.NewRepairJob(messages, outboxStore, lock, logger,
		cfg.OutboxRepairLockTimeout, time.Duration(cfg.RepairWindowMinutes)*time.Minute, cfg.RepairBatchSize, cfg.RepairInterBatchDelay)
	scheduler := worker.NewScheduler(outboxWorker, repairJob, logger, cfg.CelerySchedule, cfg.CelerySchedule)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedulerCtx)

	rateLimitRate := float64(cfg.RateLimitMax) / cfg.RateLimitWindow.Seconds()
	rateLimiter := middleware.NewRateLimiter(redisClient, logger, int64(cfg.RateLimitMax), rateLimitRate)

	// Setup HTTP router
	router := api.NewRouter(api.Services{
		Users:    userSvc,
		Rooms:    roomSvc,
		Messages: messageSvc,
		Notifs:   notifySvc,
		WS:       wsSvc,
		Bus:      pubsub,
	}, cfg, logger, rateLimiter)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "Server error: %v", err)
		}
	}()

	// Graceful shutdown setup
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Block until a signal is received
	<-sigChan

	// Centralized graceful shutdown function
	gracefulShutdown(context.Background(), logger, server, stopScheduler, mongo, pgPool, analytics, redisClient, otelCleanup)

	logger.Info(context.Background(), "Application stopped.")
}

// gracefulShutdown handles the graceful shutdown of all components
func gracefulShutdown(
	ctx context.Context,
	logger *logging.Logger,
	server *http.Server,
	stopScheduler context.CancelFunc,
	mongo *mongostore.Client,
	pgPool *pgmessage.Pool,
	analytics *chanalytics.Sink,
	redisClient *rediskv.Client,
	otelCleanup func(context.Context) error,
) {
	logger.Info(ctx, "Shutting down server...")

	// Create a context with a timeout for shutdown operations
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// 1. Shut down HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error: %v", err)
	} else {
		logger.Info(ctx, "HTTP server stopped.")
	}

	// 2. Stop the background scheduler
	stopScheduler()
	logger.Info(ctx, "Scheduler stopped.")

	// 3. Flush and close the analytics sink
	if err := analytics.Close(); err != nil {
		logger.Error(ctx, "Analytics sink close error: %v", err)
	} else {
		logger.Info(ctx, "Analytics sink closed.")
	}

	// 4. Close the Postgres message pool
	pgPool.Close()
	logger.Info(ctx, "Postgres message pool closed.")

	// 5. Close the Mongo store connection
	if err := mongo.Close(shutdownCtx); err != nil {
		logger.Error(ctx, "Mongo store close error: %v", err)
	} else {
		logger.Info(ctx, "Mongo store closed.")
	}

	// 6. Close the Redis connection
	if err := redisClient.Close(); err != nil {
		logger.Error(ctx, "Redis client close error: %v", err)
	} else {
		logger.Info(ctx, "Redis client closed.")
	}

	// 7. Shutdown OpenTelemetry
	if otelCleanup != nil {
		if err := otelCleanup(shutdownCtx); err != nil {
			logger.Error(ctx, "OpenTelemetry shutdown error: %v", err)
		} else {
			logger.Info(ctx, "OpenTelemetry shut down.")
		}
	}

	logger.Info(ctx, "Graceful shutdown complete.")
}
