/**
 * @description
 * This is the main entry point for the ledger service. It loads configuration,
 * opens the ledger store, connects the optional Redis and RabbitMQ integrations,
 * starts the expiry sweep scheduler and the user event consumer, and serves the
 * HTTP API until it receives a termination signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - github.com/redis/go-redis/v9: Claim rate limiting and the sweep lock.
 * - github.com/shopspring/decimal: Referral percent.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/api"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/app"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/config"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/store"
	rmrabbit "github.com/lianamurzabaeva86-hue/ma-money-bot/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.InternalAPIKey == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not configured; api is unauthenticated\" env=INTERNAL_API_KEY")
	}
	log.Printf("level=info component=bootstrap msg=\"starting ledger service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	repository, closeStore := openStore(cfg)
	defer closeStore()

	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; claim rate limiting and sweep lock disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; claim rate limiting and sweep lock disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; claim rate limiting and sweep lock disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if cfg.RabbitMQURL == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; notifications disabled\" env=RABBITMQ_URL")
	} else {
		producer, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if prodErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
		} else {
			publisher = producer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}
	defer publisher.Close()

	rules := app.LedgerRules{
		MinWithdrawal:   cfg.MinWithdrawal,
		ReferralPercent: decimal.NewFromFloat(cfg.ReferralPercent),
		LeaseTTL:        cfg.LeaseTTL,
		SweepBatchSize:  cfg.SweepBatchSize,
		ClaimRateLimit:  cfg.ClaimRateLimitMax,
		ClaimRateWindow: cfg.ClaimRateLimitWindow,
	}
	ledgerService := app.NewService(
		repository,
		app.NewRabbitNotifier(publisher, app.NotificationExchange),
		rules,
		logger,
	)

	var sweepLock app.SweepLock
	if redisClient != nil {
		ledgerService.SetClaimRateLimiter(app.NewRedisClaimRateLimiter(redisClient, cfg.RedisKeyPrefix))
		sweepLock = app.NewRedisSweepLock(redisClient, cfg.RedisKeyPrefix+":lock:lease_expiry_sweep", logger)
	}

	jobs := app.NewJobs(ledgerService, sweepLock, logger, 0)
	scheduler := app.NewScheduler(jobs, logger, cfg.SweepSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" schedule=%q err=%v", cfg.SweepSchedule, err)
	}

	if cfg.RabbitMQURL != "" {
		rabbitConsumer, consErr := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if consErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; user events disabled\" err=%v", consErr)
		} else {
			defer rabbitConsumer.Close()
			userConsumer := app.NewUserEventConsumer(ledgerService, logger)
			bindings := map[string]rmrabbit.Handler{
				domain.EventUserStarted: userConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(app.UserEventExchange, cfg.UserEventQueue, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"user event consumer start failed\" err=%v", err)
			}
		}
	}

	window, err := api.NewOperationWindow(cfg.OperationTimezone, cfg.OperationStartHour, cfg.OperationEndHour, cfg.OperationWindowEnabled)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"operation window invalid\" err=%v", err)
	}

	handlers := api.NewLedgerHandlers(ledgerService)
	router := api.LedgerRoutes(handlers, api.RouterOptions{
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Window:         window,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	select {
	case <-scheduler.Stop().Done():
		logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		logger.Warn("scheduler stop timed out; sweep still running")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openStore returns the configured repository and its close function.
func openStore(cfg config.Config) (store.Repository, func()) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Println("level=warn component=bootstrap msg=\"using in-memory ledger store; data is lost on restart\"")
		return store.NewMemoryRepository(), func() {}
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx, dbpool); err != nil {
		dbpool.Close()
		log.Fatalf("level=fatal component=bootstrap msg=\"database migration failed\" err=%v", err)
	}

	return store.NewPostgresRepository(dbpool), dbpool.Close
}
