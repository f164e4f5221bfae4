package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the engine.
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Evaluation schedules: timeframe name -> tick interval
	Timeframes map[string]time.Duration

	// Feature stream (websocket); empty means the replay/static provider is
	// wired by the caller instead.
	FeatureStreamURL string

	// Venue label attached to new positions.
	Venue string

	// Instruments to watch; each gets one position per timeframe.
	Instruments []string

	// Sizing
	DefaultAllocationCap decimal.Decimal

	// Learner batch schedule
	LearnInterval    time.Duration
	MinLessonSamples int     // N_MIN
	MinEdge          float64 // actionability threshold

	// Executor / reconciliation
	PendingTimeout time.Duration

	// Gate thresholds YAML
	ThresholdsPath string

	// Persistence
	DatabasePath string

	// Observability
	MetricsAddr string

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		FeatureStreamURL: os.Getenv("FEATURE_STREAM_URL"),
		Venue:            getEnv("VENUE", "paper"),
		Instruments:      splitList(getEnv("INSTRUMENTS", "BTC-USD")),

		DefaultAllocationCap: getEnvDecimal("ALLOCATION_CAP", decimal.NewFromInt(1000)),

		LearnInterval:    getEnvDuration("LEARN_INTERVAL", time.Hour),
		MinLessonSamples: getEnvInt("MIN_LESSON_SAMPLES", 33),
		MinEdge:          getEnvFloat("MIN_EDGE", 0.05),

		PendingTimeout: getEnvDuration("PENDING_TIMEOUT", 2*time.Minute),

		ThresholdsPath: getEnv("THRESHOLDS_PATH", "config/thresholds.yaml"),
		DatabasePath:   getEnv("DATABASE_PATH", "data/trendpilot.db"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9187"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	tfs, err := parseTimeframes(getEnv("TIMEFRAMES", "1m,15m,1h,4h"))
	if err != nil {
		return nil, err
	}
	cfg.Timeframes = tfs

	if cfg.MinLessonSamples < 1 {
		return nil, fmt.Errorf("MIN_LESSON_SAMPLES must be positive, got %d", cfg.MinLessonSamples)
	}

	return cfg, nil
}

// parseTimeframes turns "1m,15m,1h,4h" into name -> tick interval.
func parseTimeframes(raw string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		d, err := TimeframeDuration(name)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no timeframes configured")
	}
	return out, nil
}

// TimeframeDuration converts a timeframe label ("1m", "15m", "1h", "4h",
// "1d") into its bar duration.
func TimeframeDuration(name string) (time.Duration, error) {
	if len(name) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", name)
	}
	unit := name[len(name)-1]
	n, err := strconv.Atoi(name[:len(name)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", name)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe unit %q", name)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
