// Package config loads process configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Port string

	// Storage. An empty DatabaseURL selects the in-memory store.
	DatabaseURL   string
	RunMigrations bool
	RedisURL      string
	CacheTTL      time.Duration

	// Events. An empty KafkaBrokers disables the Kafka publisher.
	KafkaBrokers string
	KafkaTopic   string

	// Ledger
	StartingBalance int64
	AdminUsername   string

	// News
	NewsAPIKey   string
	NewsCacheTTL time.Duration

	SeedMarkets bool
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment")
	}

	return Config{
		Port: getEnv("PORT", "8080"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RunMigrations: getBool("RUN_MIGRATIONS", true),
		RedisURL:      os.Getenv("REDIS_URL"),
		CacheTTL:      getDuration("CACHE_TTL", 30*time.Second),

		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "predicthub.events"),

		StartingBalance: getInt("STARTING_BALANCE", 1000),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),

		NewsAPIKey:   os.Getenv("NEWS_API_KEY"),
		NewsCacheTTL: getDuration("NEWS_CACHE_TTL", 15*time.Minute),

		SeedMarkets: getBool("SEED_MARKETS", false),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean", "key", key, "value", v)
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
	}
	return fallback
}
