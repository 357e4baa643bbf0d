package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Risk.MaxPositions)
	require.Equal(t, 10, cfg.Risk.MaxLeverage)
	require.True(t, cfg.Risk.MaxAccountUsagePct.Equal(decimal.NewFromInt(100)))
	require.True(t, cfg.Risk.MinRiskReward.Equal(decimal.NewFromInt(3)))
	require.True(t, cfg.Risk.MaxTotalPositionPct.Equal(decimal.NewFromInt(80)))
	require.Equal(t, 3, cfg.Throttle.MaxPerHour)
	require.Equal(t, 12, cfg.Throttle.MaxPerDay)
	require.Equal(t, 4, cfg.Throttle.LossStreakPause)
	require.Equal(t, 30*time.Second, cfg.FillAckTimeout)
	require.Equal(t, []string{"default"}, cfg.Accounts)
	require.True(t, cfg.InitialBalance.Equal(decimal.NewFromInt(10000)))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAX_POSITIONS", "5")
	t.Setenv("MIN_RISK_REWARD", "2.5")
	t.Setenv("FILL_ACK_TIMEOUT", "45s")
	t.Setenv("ACCOUNTS", "alpha, bravo ,charlie")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 5, cfg.Risk.MaxPositions)
	require.True(t, cfg.Risk.MinRiskReward.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, 45*time.Second, cfg.FillAckTimeout)
	require.Equal(t, []string{"alpha", "bravo", "charlie"}, cfg.Accounts)
	require.Equal(t, int64(12345), cfg.TelegramChatID)
}

func TestMinQuantity(t *testing.T) {
	t.Setenv("MIN_QUANTITIES", "BTCUSDT=0.001,ethusdt=0.01, bad-pair ,SOLUSDT=1")
	t.Setenv("DEFAULT_MIN_QUANTITY", "0.1")

	cfg, err := Load()
	require.NoError(t, err)

	require.True(t, cfg.MinQuantity("BTCUSDT").Equal(decimal.RequireFromString("0.001")))
	// Symbol keys are case-insensitive.
	require.True(t, cfg.MinQuantity("ETHUSDT").Equal(decimal.RequireFromString("0.01")))
	require.True(t, cfg.MinQuantity("SOLUSDT").Equal(decimal.NewFromInt(1)))
	// Unknown symbols fall back to the default.
	require.True(t, cfg.MinQuantity("DOGEUSDT").Equal(decimal.RequireFromString("0.1")))
}
