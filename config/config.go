package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Mode is "live" or "paper". Backtests use the separate binary.
	Mode string

	// Feed. FeedSource is "ws" (live/simulated websocket feed) or
	// "replay" (rehearse against the recorded tick archive).
	FeedSource  string
	FeedWSURL   string
	Symbols     string
	ReplaySpeed float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	JournalPath   string
	TickDBPath    string
	MetricsAddr   string
	OpsAddr       string

	// Operator recovery
	OpsTOTPSecret string

	// Strategies
	StrategyDir string

	// Evaluation
	BucketWidthSec  int
	RetentionSec    int
	EvalInterval    time.Duration
	LatenessTol     time.Duration
	SignalTimeout   time.Duration
	ExitCooldown    time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	BreakerCallTO   time.Duration

	// Execution
	PositionSize float64
	SlippageBps  float64

	// Notifications
	WebhookURL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Mode: strings.ToLower(getEnv("MODE", "paper")),

		FeedSource:  strings.ToLower(getEnv("FEED_SOURCE", "ws")),
		FeedWSURL:   getEnv("FEED_WS_URL", "ws://localhost:9001/ws"),
		Symbols:     getEnv("SYMBOLS", "PUMPUSDT"),
		ReplaySpeed: getEnvFloat("REPLAY_SPEED", 1),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		TickDBPath:    getEnv("TICK_DB_PATH", "data/ticks.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		OpsAddr:       getEnv("OPS_ADDR", ":8080"),

		OpsTOTPSecret: getEnv("OPS_TOTP_SECRET", ""),

		StrategyDir: getEnv("STRATEGY_DIR", "strategies"),

		BucketWidthSec:  getEnvInt("BUCKET_WIDTH_SEC", 5),
		RetentionSec:    getEnvInt("RETENTION_SEC", 3600),
		EvalInterval:    getEnvDuration("EVAL_INTERVAL", time.Second),
		LatenessTol:     getEnvDuration("LATENESS_TOLERANCE", 500*time.Millisecond),
		SignalTimeout:   getEnvDuration("SIGNAL_TIMEOUT", 5*time.Minute),
		ExitCooldown:    getEnvDuration("EXIT_COOLDOWN", time.Minute),
		BreakerFailures: getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerCooldown: getEnvDuration("BREAKER_COOLDOWN", 30*time.Second),
		BreakerCallTO:   getEnvDuration("BREAKER_CALL_TIMEOUT", 200*time.Millisecond),

		PositionSize: getEnvFloat("POSITION_SIZE", 1),
		SlippageBps:  getEnvFloat("SLIPPAGE_BPS", 5),

		WebhookURL: getEnv("WEBHOOK_URL", ""),
	}
}

// ParseSymbols splits the Symbols string into a clean slice.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	syms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		syms = append(syms, p)
	}
	return syms
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
