// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings.
type Config struct {
	Development bool
	HTTPAddr    string

	// Upstream endpoints
	SolanaRPCURL string
	SolanaWSURL  string
	PriceAPIURL  string

	// Storage; empty DSN selects the in-memory store
	PostgresDSN   string
	ClickHouseDSN string

	// Gateway policy
	RateLimitRPS            float64
	RateLimitBurst          int
	RateLimitQueueTimeout   time.Duration
	UpstreamTimeout         time.Duration
	RetryMaxAttempts        int
	RetryInitialInterval    time.Duration
	RetryMaxInterval        time.Duration
	RetryMultiplier         float64
	RetryJitter             float64
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	WorkerPoolSize          int

	// Cache TTLs per kind
	TTLPrice         time.Duration
	TTLMarketCap     time.Duration
	TTLHolders       time.Duration
	TTLConcentration time.Duration
	TTLVelocity      time.Duration
	TTLTransactions  time.Duration
	TTLBehavior      time.Duration
	TTLMetadata      time.Duration

	// Metric parameters
	VelocityWindow          time.Duration
	PaperhandWindow         time.Duration
	DiamondThreshold        time.Duration
	BehaviorLookback        time.Duration
	MinActiveWallets        int
	MinBehaviorTransactions int
	MaxTransactions         int
	ExcludeProgramOwned     bool

	// Background work
	RefreshInterval time.Duration
	ActivityWindow  time.Duration

	// Live channel
	HeartbeatInterval   time.Duration
	HeartbeatMaxMissed  int
	SessionQueueSize    int
	VolatilityThreshold float64
}

// Load reads configuration from the environment, loading .env first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Development: getEnvAsBool("LOG_DEV", false),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),

		SolanaRPCURL: getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		SolanaWSURL:  getEnv("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com"),
		PriceAPIURL:  getEnv("PRICE_API_URL", "https://lite-api.jup.ag/price/v2"),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),

		RateLimitRPS:            getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:          getEnvAsInt("RATE_LIMIT_BURST", 20),
		RateLimitQueueTimeout:   getEnvAsDuration("RATE_LIMIT_QUEUE_TIMEOUT", 5*time.Second),
		UpstreamTimeout:         getEnvAsDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		RetryMaxAttempts:        getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialInterval:    getEnvAsDuration("RETRY_INITIAL_INTERVAL", 200*time.Millisecond),
		RetryMaxInterval:        getEnvAsDuration("RETRY_MAX_INTERVAL", 5*time.Second),
		RetryMultiplier:         getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
		RetryJitter:             getEnvAsFloat("RETRY_JITTER", 0.2),
		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),
		WorkerPoolSize:          getEnvAsInt("WORKER_POOL_SIZE", 8),

		TTLPrice:         getEnvAsDuration("TTL_PRICE", 15*time.Second),
		TTLMarketCap:     getEnvAsDuration("TTL_MARKET_CAP", 15*time.Second),
		TTLHolders:       getEnvAsDuration("TTL_HOLDERS", 60*time.Second),
		TTLConcentration: getEnvAsDuration("TTL_CONCENTRATION", 60*time.Second),
		TTLVelocity:      getEnvAsDuration("TTL_VELOCITY", 120*time.Second),
		TTLTransactions:  getEnvAsDuration("TTL_TRANSACTIONS", 300*time.Second),
		TTLBehavior:      getEnvAsDuration("TTL_BEHAVIOR", 300*time.Second),
		TTLMetadata:      getEnvAsDuration("TTL_METADATA", time.Hour),

		VelocityWindow:          getEnvAsDuration("VELOCITY_WINDOW", 24*time.Hour),
		PaperhandWindow:         getEnvAsDuration("PAPERHAND_WINDOW", 24*time.Hour),
		DiamondThreshold:        getEnvAsDuration("DIAMOND_THRESHOLD", 7*24*time.Hour),
		BehaviorLookback:        getEnvAsDuration("BEHAVIOR_LOOKBACK", 8*24*time.Hour),
		MinActiveWallets:        getEnvAsInt("MIN_ACTIVE_WALLETS", 1),
		MinBehaviorTransactions: getEnvAsInt("MIN_BEHAVIOR_TRANSACTIONS", 1),
		MaxTransactions:         getEnvAsInt("MAX_TRANSACTIONS", 1000),
		ExcludeProgramOwned:     getEnvAsBool("EXCLUDE_PROGRAM_OWNED", true),

		RefreshInterval: getEnvAsDuration("REFRESH_INTERVAL", 30*time.Second),
		ActivityWindow:  getEnvAsDuration("ACTIVITY_WINDOW", 10*time.Minute),

		HeartbeatInterval:   getEnvAsDuration("HEARTBEAT_INTERVAL", 20*time.Second),
		HeartbeatMaxMissed:  getEnvAsInt("HEARTBEAT_MAX_MISSED", 3),
		SessionQueueSize:    getEnvAsInt("SESSION_QUEUE_SIZE", 64),
		VolatilityThreshold: getEnvAsFloat("VOLATILITY_THRESHOLD", 0.05),
	}

	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.SolanaRPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL is required")
	}
	if c.PriceAPIURL == "" {
		return fmt.Errorf("PRICE_API_URL is required")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit must be positive (rps=%v burst=%d)", c.RateLimitRPS, c.RateLimitBurst)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("RETRY_JITTER must be in [0,1]")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be >= 1")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be >= 1")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}

	// Price is the most volatile input and transaction history the least.
	if c.TTLPrice <= 0 || c.TTLPrice > c.TTLHolders || c.TTLHolders > c.TTLTransactions {
		return fmt.Errorf("TTL ordering violated: price=%s holders=%s transactions=%s",
			c.TTLPrice, c.TTLHolders, c.TTLTransactions)
	}

	if c.PaperhandWindow <= 0 || c.DiamondThreshold <= 0 {
		return fmt.Errorf("behavior windows must be positive")
	}
	if c.BehaviorLookback < c.PaperhandWindow {
		return fmt.Errorf("BEHAVIOR_LOOKBACK must cover PAPERHAND_WINDOW")
	}
	if c.MaxTransactions < 1 {
		return fmt.Errorf("MAX_TRANSACTIONS must be >= 1")
	}
	if c.RefreshInterval <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	if c.HeartbeatMaxMissed < 1 || c.SessionQueueSize < 1 {
		return fmt.Errorf("HEARTBEAT_MAX_MISSED and SESSION_QUEUE_SIZE must be >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
