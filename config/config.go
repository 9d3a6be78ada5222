package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// Config holds all application configuration. It is parsed and validated
// once at startup and never mutated afterwards; invalid values abort the
// process before any trading unit starts.
type Config struct {
	// Exchange API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading parameters, shared by every configured symbol
	Symbols         []string
	Timeframe       string
	FastSMA         int
	SlowSMA         int
	Leverage        int
	MarginMode      domain.MarginMode
	PositionMode    domain.PositionMode
	MaxNotionalUSDT float64
	TakeProfitPct   float64 // fraction of entry price, e.g. 0.003
	StopLossPct     float64 // fraction of entry price, e.g. 0.002

	// Scheduling
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// Failure handling
	RateLimitCooldown time.Duration // cooldown after a throttling response
	MaxOrderFailures  int           // consecutive order failures before escalation

	// Notifications (optional; log-only notifier is used when unset)
	TelegramToken  string
	TelegramChatID int64

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file
// supported for local runs).
func LoadConfig() (*Config, error) {
	// Load .env if present, but allow pure env vars.
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")

	cfg.IsTestnet, err = getEnvAsBoolRequired("IS_TESTNET", true) // default to testnet for safety
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid IS_TESTNET: %v", err))
	}

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	cfg.Symbols = splitSymbols(getEnv("SYMBOLS", "BTCUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}

	cfg.Timeframe = getEnv("TIMEFRAME", "1m")
	if cfg.Timeframe == "" {
		errs = append(errs, "TIMEFRAME must be set")
	}

	cfg.FastSMA, err = getEnvAsIntRequired("FAST_SMA", 9)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FAST_SMA: %v", err))
	}
	cfg.SlowSMA, err = getEnvAsIntRequired("SLOW_SMA", 20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLOW_SMA: %v", err))
	}
	if cfg.FastSMA <= 0 || cfg.SlowSMA <= 0 {
		errs = append(errs, "FAST_SMA and SLOW_SMA must be positive")
	} else if cfg.FastSMA >= cfg.SlowSMA {
		errs = append(errs, "FAST_SMA must be less than SLOW_SMA")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	switch mm := domain.MarginMode(strings.ToLower(getEnv("MARGIN_MODE", "isolated"))); mm {
	case domain.MarginIsolated, domain.MarginCross:
		cfg.MarginMode = mm
	default:
		errs = append(errs, fmt.Sprintf("MARGIN_MODE must be 'isolated' or 'cross', got %q", mm))
	}

	switch pm := domain.PositionMode(strings.ToLower(getEnv("POSITION_MODE", "oneway"))); pm {
	case domain.PositionOneway, domain.PositionHedge:
		cfg.PositionMode = pm
	default:
		errs = append(errs, fmt.Sprintf("POSITION_MODE must be 'oneway' or 'hedge', got %q", pm))
	}

	cfg.MaxNotionalUSDT, err = getEnvAsFloatRequired("MAX_NOTIONAL_USDT", 50.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_NOTIONAL_USDT: %v", err))
	} else if cfg.MaxNotionalUSDT <= 0 {
		errs = append(errs, "MAX_NOTIONAL_USDT must be positive")
	}

	cfg.TakeProfitPct, err = getEnvAsFloatRequired("TP_PCT", 0.003)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TP_PCT: %v", err))
	} else if cfg.TakeProfitPct <= 0 || cfg.TakeProfitPct >= 1.0 {
		errs = append(errs, "TP_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("SL_PCT", 0.002)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SL_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1.0 {
		errs = append(errs, "SL_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	pollSeconds, err := getEnvAsIntRequired("POLL_INTERVAL_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POLL_INTERVAL_SECONDS: %v", err))
	} else if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	heartbeatMinutes, err := getEnvAsIntRequired("HEARTBEAT_MINUTES", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HEARTBEAT_MINUTES: %v", err))
	} else if heartbeatMinutes <= 0 {
		errs = append(errs, "HEARTBEAT_MINUTES must be positive")
	}
	cfg.HeartbeatInterval = time.Duration(heartbeatMinutes) * time.Minute

	cooldownSeconds, err := getEnvAsIntRequired("RATE_LIMIT_COOLDOWN_SECONDS", 60)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RATE_LIMIT_COOLDOWN_SECONDS: %v", err))
	} else if cooldownSeconds <= 0 {
		errs = append(errs, "RATE_LIMIT_COOLDOWN_SECONDS must be positive")
	}
	cfg.RateLimitCooldown = time.Duration(cooldownSeconds) * time.Second

	cfg.MaxOrderFailures, err = getEnvAsIntRequired("MAX_ORDER_FAILURES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDER_FAILURES: %v", err))
	} else if cfg.MaxOrderFailures <= 0 {
		errs = append(errs, "MAX_ORDER_FAILURES must be positive")
	}

	cfg.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "")
	if chatIDStr != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID %q: %v", chatIDStr, err))
		}
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfiguration, strings.Join(errs, "; "))
	}

	return cfg, nil
}

// splitSymbols parses a comma-separated symbol list, trimming whitespace,
// uppercasing, and dropping empty entries and duplicates.
func splitSymbols(raw string) []string {
	seen := make(map[string]struct{})
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	return symbols
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBoolRequired(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid boolean value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
