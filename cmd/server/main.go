package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predicthub/wager-engine/internal/account"
	"github.com/predicthub/wager-engine/internal/api"
	"github.com/predicthub/wager-engine/internal/betting"
	"github.com/predicthub/wager-engine/internal/config"
	"github.com/predicthub/wager-engine/internal/database"
	"github.com/predicthub/wager-engine/internal/events"
	"github.com/predicthub/wager-engine/internal/news"
	"github.com/predicthub/wager-engine/internal/settlement"
	"github.com/predicthub/wager-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("wager-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("wager-engine stopped")
}

// run wires the service and blocks until a shutdown signal or a fatal
// server error. Deferred closers run on every return path.
func run() error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (optional, shared by the store cache and news cache) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis ping failed", "err", err)
		}
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Events ---
	hub := events.NewHub()
	go hub.Run(ctx)
	publishers := events.Multi{hub}

	if cfg.KafkaBrokers != "" {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				slog.Warn("kafka writer close failed", "err", err)
			}
		})
		publishers = append(publishers, kp)
		slog.Info("Kafka publisher enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// --- Services ---
	accounts := account.NewService(st, account.NewBcrypt(), account.WithStartingBalance(cfg.StartingBalance))
	bets := betting.NewService(st, publishers)
	engine := settlement.NewEngine(st, publishers)

	var newsSvc *news.Service
	if cfg.NewsAPIKey != "" {
		var cache news.Cache = news.NewMemoryCache()
		if rdb != nil {
			cache = news.NewRedisCache(rdb)
		}
		newsSvc = news.NewService(news.NewClient(cfg.NewsAPIKey), cache, cfg.NewsCacheTTL)
	} else {
		slog.Warn("NEWS_API_KEY not set, /api/v1/news disabled")
	}

	if cfg.SeedMarkets {
		n, err := bets.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seeding markets failed: %w", err)
		}
		if n > 0 {
			slog.Info("seeded sample markets", "count", n)
		}
	}
	if err := bets.SyncOpenMarkets(ctx); err != nil {
		slog.Warn("open market gauge sync failed", "err", err)
	}

	// --- HTTP router ---
	handler := api.NewHandler(api.Config{
		Accounts:      accounts,
		Bets:          bets,
		Settlement:    engine,
		News:          newsSvc,
		WS:            hub.HandleWS,
		AdminUsername: cfg.AdminUsername,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serve(ctx, srv, 5*time.Second)
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
// A listen failure is returned instead of waiting for a signal.
func serve(ctx context.Context, srv *http.Server, grace time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("wager-engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	slog.Info("shutting down wager-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
