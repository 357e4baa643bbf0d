package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the decision engine. Read once at
// process start and injected; components never reach for globals.
type Config struct {
	// Mode
	Debug  bool
	DryRun bool

	// Risk limits applied to every account
	Risk RiskLimits

	// Throttle gates
	Throttle ThrottleConfig

	// External fill acknowledgement
	FillAckTimeout time.Duration

	// Telegram alerts (optional)
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string

	// Accounts to serve, comma separated ("alpha,bravo")
	Accounts []string

	// Starting cash per account when nothing is persisted yet
	InitialBalance decimal.Decimal

	// Exchange-reported minimum order quantity per symbol
	minQuantities map[string]decimal.Decimal
	defaultMinQty decimal.Decimal
}

// RiskLimits are the numeric risk caps enforced by the sizer and ledger.
// All percentage values are whole percents (80 = 80%).
type RiskLimits struct {
	MaxPositions                   int
	MaxLeverage                    int
	MaxAccountUsagePct             decimal.Decimal
	MaxPositionSizePct             decimal.Decimal
	MaxTotalPositionPct            decimal.Decimal
	MaxSingleTradePct              decimal.Decimal
	MaxSingleTradeWithPositionsPct decimal.Decimal
	StopLossPct                    decimal.Decimal
	TakeProfitPct                  decimal.Decimal
	MinRiskReward                  decimal.Decimal

	// Stop construction
	ATRStopMultiple decimal.Decimal // stop distance = multiple × ATR
	StopFloorATR    decimal.Decimal // reject stops tighter than this × ATR
	StopFloorPct    decimal.Decimal // reject stops tighter than this % of entry
}

// ThrottleConfig bounds trade frequency and loss streaks per account.
type ThrottleConfig struct {
	MaxPerHour      int
	MaxPerDay       int
	LossStreakPause int
}

// Load reads configuration from environment variables with the documented
// defaults. Call godotenv.Load first in main if a .env file is used.
func Load() (*Config, error) {
	cfg := &Config{
		Debug:  getEnvBool("DEBUG", false),
		DryRun: getEnvBool("DRY_RUN", true),

		Risk: RiskLimits{
			MaxPositions:                   getEnvInt("MAX_POSITIONS", 3),
			MaxLeverage:                    getEnvInt("MAX_LEVERAGE", 10),
			MaxAccountUsagePct:             getEnvDecimal("MAX_ACCOUNT_USAGE_PCT", decimal.NewFromInt(100)),
			MaxPositionSizePct:             getEnvDecimal("MAX_POSITION_SIZE_PCT", decimal.NewFromInt(30)),
			MaxTotalPositionPct:            getEnvDecimal("MAX_TOTAL_POSITION_PCT", decimal.NewFromInt(80)),
			MaxSingleTradePct:              getEnvDecimal("MAX_SINGLE_TRADE_PCT", decimal.NewFromInt(50)),
			MaxSingleTradeWithPositionsPct: getEnvDecimal("MAX_SINGLE_TRADE_WITH_POSITIONS_PCT", decimal.NewFromInt(30)),
			StopLossPct:                    getEnvDecimal("STOP_LOSS_PCT", decimal.NewFromInt(2)),
			TakeProfitPct:                  getEnvDecimal("TAKE_PROFIT_PCT", decimal.NewFromInt(6)),
			MinRiskReward:                  getEnvDecimal("MIN_RISK_REWARD", decimal.NewFromInt(3)),
			ATRStopMultiple:                getEnvDecimal("ATR_STOP_MULTIPLE", decimal.NewFromFloat(1.5)),
			StopFloorATR:                   getEnvDecimal("STOP_FLOOR_ATR", decimal.NewFromFloat(0.25)),
			StopFloorPct:                   getEnvDecimal("STOP_FLOOR_PCT", decimal.NewFromFloat(0.15)),
		},

		Throttle: ThrottleConfig{
			MaxPerHour:      getEnvInt("MAX_TRADES_PER_HOUR", 3),
			MaxPerDay:       getEnvInt("MAX_TRADES_PER_DAY", 12),
			LossStreakPause: getEnvInt("LOSS_STREAK_PAUSE", 4),
		},

		FillAckTimeout: getEnvDuration("FILL_ACK_TIMEOUT", 30*time.Second),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/tradegate.db"),

		Accounts: splitList(getEnv("ACCOUNTS", "default")),

		InitialBalance: getEnvDecimal("INITIAL_BALANCE", decimal.NewFromInt(10000)),

		minQuantities: parseMinQuantities(os.Getenv("MIN_QUANTITIES")),
		defaultMinQty: getEnvDecimal("DEFAULT_MIN_QUANTITY", decimal.NewFromFloat(0.001)),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err == nil {
			cfg.TelegramChatID = id
		}
	}

	return cfg, nil
}

// MinQuantity returns the exchange minimum order quantity for a symbol.
func (c *Config) MinQuantity(symbol string) decimal.Decimal {
	if q, ok := c.minQuantities[strings.ToUpper(symbol)]; ok {
		return q
	}
	return c.defaultMinQty
}

// parseMinQuantities parses "BTCUSDT=0.001,ETHUSDT=0.01".
func parseMinQuantities(raw string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if q, err := decimal.NewFromString(parts[1]); err == nil {
			out[strings.ToUpper(parts[0])] = q
		}
	}
	return out
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
