/**
 * @description
 * Entry point for the wallet service. Loads configuration, opens the ledger
 * store, Redis and RabbitMQ, wires the wallet engine, realtime gateway and
 * application services, and serves HTTP until SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/redis/go-redis/v9: session lookup and vote rate limiting.
 * - github.com/joho/godotenv: local .env loading.
 * - pkg/rabbitmq: outbox publishing and the payment consumer.
 */

package main

import (
	"context"
	"errors"
	"fmt"
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
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/api"
	"github.com/votefest/wallet-service/internal/app"
	"github.com/votefest/wallet-service/internal/config"
	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
	"github.com/votefest/wallet-service/internal/logging"
	"github.com/votefest/wallet-service/internal/metrics"
	"github.com/votefest/wallet-service/internal/realtime"
	"github.com/votefest/wallet-service/internal/session"
	"github.com/votefest/wallet-service/internal/store"
	"github.com/votefest/wallet-service/internal/store/memstore"
	rmrabbit "github.com/votefest/wallet-service/pkg/rabbitmq"
)

// ledgerBackend is what the service needs from whichever store is configured.
type ledgerBackend interface {
	store.LedgerStore
	store.AccountDirectory
	store.MessageRepository
	store.ReconciliationRepository
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	boot := logging.Component(logger, "bootstrap")

	if cfg.InternalAPIKey == "" {
		boot.Warn("internal api key not configured; /internal routes are closed", zap.String("env", "INTERNAL_API_KEY"))
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		boot.Warn("jwt secret not configured; bearer tokens are rejected", zap.String("env", "JWT_SECRET"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()

	// Ledger storage.
	var (
		backend    ledgerBackend
		ticketRepo store.TicketRepository
		outboxRepo store.OutboxRepository
	)
	switch cfg.LedgerDriver {
	case config.DriverMemory:
		boot.Warn("using in-memory ledger; tickets and outbox are disabled")
		backend = memstore.New(cfg.LockTimeout())
	default:
		dbpool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			boot.Fatal("database connection failed", zap.Error(err))
		}
		defer dbpool.Close()
		if err := store.Migrate(ctx, dbpool); err != nil {
			boot.Fatal("schema migration failed", zap.Error(err))
		}
		boot.Info("database connected")

		pg := store.NewPostgresStore(dbpool, cfg.EventsExchange, cfg.LockTimeout())
		backend = pg
		ticketRepo = pg
		outboxRepo = pg
	}

	// Redis backs cookie sessions and the vote limiter. Both degrade without it.
	var (
		sessions session.SessionStore
		limiter  app.VoteLimiter
	)
	if redisClient := openRedis(ctx, cfg.RedisURL, boot); redisClient != nil {
		defer redisClient.Close()
		sessions = session.NewRedisSessionStore(redisClient, cfg.SessionKeyPrefix)
		limiter = app.NewRedisVoteLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.VoteRateLimitPerMinute)
	}

	engine := ledger.NewEngine(backend, ledger.Options{
		VoteUnitPrice: decimal.NewFromInt(cfg.VoteUnitPrice),
		Loyalty: ledger.LoyaltyPolicy{
			Threshold: cfg.LoyaltyThreshold,
			Reward:    decimal.NewFromInt(cfg.LoyaltyReward),
		},
	}, logging.Component(logger, "wallet_engine"), m)

	// Realtime.
	registry := realtime.NewRegistry(cfg.MaxConnectionsPerAccount, m)
	dispatcher := realtime.NewDispatcher(registry, logging.Component(logger, "dispatcher"), m)
	defer dispatcher.Close()

	authenticator := session.NewAuthenticator(backend, sessions, session.Options{
		JWTSecret:     cfg.JWTSecret,
		SessionSecret: cfg.SessionSecret,
		Timeout:       cfg.AuthTimeout(),
	}, logger)
	chat := realtime.NewChat(backend, dispatcher, logging.Component(logger, "chat"))
	gateway := realtime.NewGateway(authenticator, registry, dispatcher, chat, realtime.GatewayOptions{
		CookieName:      cfg.SessionCookieName,
		AllowedOrigins:  cfg.AllowedOriginList(),
		EventsPerSecond: cfg.SocketEventsPerSecond,
	}, logging.Component(logger, "gateway"))

	// Application services.
	var tickets *app.TicketService
	if ticketRepo != nil {
		opts := app.TicketOptions{Prices: map[domain.TicketType]decimal.Decimal{
			domain.TicketRegular: decimal.NewFromInt(cfg.TicketPriceRegular),
			domain.TicketVIP:     decimal.NewFromInt(cfg.TicketPriceVIP),
			domain.TicketVVIP:    decimal.NewFromInt(cfg.TicketPriceVVIP),
		}}
		if end, ok := cfg.EventEnd(); ok {
			opts.EventEndsAt = end
		}
		tickets = app.NewTicketService(ticketRepo, opts, logger)
	}
	wallets := app.NewWalletService(engine, backend, tickets, dispatcher, app.WalletOptions{
		MinTransfer:          decimal.NewFromInt(cfg.MinTransferAmount),
		MinFunding:           decimal.NewFromInt(cfg.MinFundAmount),
		CoinsPerCurrencyUnit: decimal.NewFromInt(cfg.CoinsPerCurrencyUnit),
	}, logger)
	votes := app.NewVoteService(engine, backend, limiter, dispatcher, app.VoteOptions{
		LeaderboardWindow: cfg.LeaderboardWindow(),
		LeaderboardLimit:  cfg.LeaderboardLimit,
	}, logger)

	// Outbox relay.
	if outboxRepo != nil {
		dial := func() (rmrabbit.Publisher, error) {
			if cfg.RabbitMQURL == "" {
				return &rmrabbit.FallbackProducer{Logger: logging.Component(logger, "outbox_dispatcher")}, nil
			}
			producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger)
			if err != nil {
				return nil, err
			}
			return producer, nil
		}
		if cfg.RabbitMQURL == "" {
			boot.Warn("rabbitmq url missing; outbox events will be dropped", zap.String("env", "RABBITMQ_URL"))
		}
		go app.NewOutboxDispatcher(outboxRepo, dial, cfg.OutboxPollInterval(), logger, m).Run(ctx)
	}

	// Verified payments from the payment collaborator.
	if cfg.RabbitMQURL != "" {
		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			boot.Warn("rabbitmq consumer unavailable; payments accepted over /internal only", zap.Error(err))
		} else {
			defer consumer.Close()
			payments := app.NewPaymentConsumer(wallets, logger)
			bindings := map[string]rmrabbit.Handler{
				domain.RoutingPaymentVerified: payments.HandleMessage,
			}
			if err := consumer.ConsumeWithBindings(ctx, cfg.EventsExchange, cfg.PaymentEventQueue, bindings); err != nil {
				boot.Fatal("payment consumer start failed", zap.Error(err))
			}
			boot.Info("payment consumer started", zap.String("queue", cfg.PaymentEventQueue))
		}
	}

	scheduler := app.NewScheduler(app.NewJobs(backend, logger, m), cfg.ReconcileSchedule, logger)
	if err := scheduler.Start(); err != nil {
		boot.Fatal("scheduler start failed", zap.Error(err))
	}

	handlers := api.NewHandlers(wallets, votes, tickets, logger)
	router := api.NewRouter(handlers, authenticator, gateway, api.RouterOptions{
		CookieName:     cfg.SessionCookieName,
		AllowedOrigins: cfg.AllowedOriginList(),
		InternalAPIKey: cfg.InternalAPIKey,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		boot.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			boot.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()
	boot.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		boot.Error("http shutdown failed", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	boot.Info("shutdown complete")
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func openRedis(ctx context.Context, redisURL string, logger *zap.Logger) *redis.Client {
	if redisURL == "" {
		logger.Warn("redis url missing; cookie sessions and vote rate limiting disabled", zap.String("env", "REDIS_URL"))
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; cookie sessions and vote rate limiting disabled", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; cookie sessions and vote rate limiting disabled", zap.Error(err))
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
