package throttle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sentinelquant/tradegate/config"
	"github.com/sentinelquant/tradegate/types"
)

func testConfig() config.ThrottleConfig {
	return config.ThrottleConfig{MaxPerHour: 3, MaxPerDay: 12, LossStreakPause: 4}
}

// fixedClock returns a controller whose clock the test can move.
func fixedClock(c *Controller, at *time.Time) {
	c.now = func() time.Time { return *at }
}

func losingTrade() types.Trade {
	return types.Trade{PnL: decimal.NewFromInt(-50)}
}

func winningTrade() types.Trade {
	return types.Trade{PnL: decimal.NewFromInt(120)}
}

func TestCheckOpen_HourlyLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(testConfig())
	fixedClock(c, &now)

	for i := 0; i < 3; i++ {
		require.Nil(t, c.CheckOpen(), "open %d should pass", i+1)
		c.RecordOpen()
		now = now.Add(5 * time.Minute)
	}

	rej := c.CheckOpen()
	require.NotNil(t, rej)
	require.Equal(t, types.RejectThrottleBlocked, rej.Code)
	require.Greater(t, rej.Cooldown, time.Duration(0))

	// Once the oldest open rolls out of the hour, a new one is allowed.
	now = now.Add(50 * time.Minute)
	require.Nil(t, c.CheckOpen())
}

func TestCheckOpen_DailyLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := New(testConfig())
	fixedClock(c, &now)

	// 12 opens spread wide enough to never trip the hourly gate.
	for i := 0; i < 12; i++ {
		require.Nil(t, c.CheckOpen(), "open %d should pass", i+1)
		c.RecordOpen()
		now = now.Add(90 * time.Minute)
	}

	rej := c.CheckOpen()
	require.NotNil(t, rej)
	require.Equal(t, types.RejectThrottleBlocked, rej.Code)

	// A day later the window has rolled over.
	now = now.Add(24 * time.Hour)
	require.Nil(t, c.CheckOpen())
}

func TestCheckOpen_LossStreakPause(t *testing.T) {
	c := New(testConfig())

	for i := 0; i < 4; i++ {
		c.RecordTrade(losingTrade())
	}
	require.Equal(t, 4, c.LossStreak())

	// Confidence is irrelevant: the pause blocks every open.
	rej := c.CheckOpen()
	require.NotNil(t, rej)
	require.Equal(t, types.RejectThrottleBlocked, rej.Code)

	// One win lifts the pause.
	c.RecordTrade(winningTrade())
	require.Equal(t, 0, c.LossStreak())
	require.Nil(t, c.CheckOpen())
}

func TestCheckOpen_ThreeLossesDoNotPause(t *testing.T) {
	c := New(testConfig())
	for i := 0; i < 3; i++ {
		c.RecordTrade(losingTrade())
	}
	require.Nil(t, c.CheckOpen())
}

func TestClearLossStreak_OperatorOverride(t *testing.T) {
	c := New(testConfig())
	for i := 0; i < 5; i++ {
		c.RecordTrade(losingTrade())
	}
	require.NotNil(t, c.CheckOpen())

	c.ClearLossStreak()
	require.Nil(t, c.CheckOpen())
}

func TestOpensInWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(testConfig())
	fixedClock(c, &now)

	c.RecordOpen()
	now = now.Add(30 * time.Minute)
	c.RecordOpen()
	now = now.Add(45 * time.Minute)

	require.Equal(t, 1, c.OpensInWindow(time.Hour))
	require.Equal(t, 2, c.OpensInWindow(24*time.Hour))
}
