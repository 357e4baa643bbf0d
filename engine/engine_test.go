package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sentinelquant/tradegate/config"
	"github.com/sentinelquant/tradegate/marketdata"
	"github.com/sentinelquant/tradegate/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskLimits{
			MaxPositions:                   5,
			MaxLeverage:                    10,
			MaxAccountUsagePct:             decimal.NewFromInt(100),
			MaxPositionSizePct:             decimal.NewFromInt(30),
			MaxTotalPositionPct:            decimal.NewFromInt(80),
			MaxSingleTradePct:              decimal.NewFromInt(50),
			MaxSingleTradeWithPositionsPct: decimal.NewFromInt(30),
			StopLossPct:                    decimal.NewFromInt(2),
			TakeProfitPct:                  decimal.NewFromInt(6),
			MinRiskReward:                  decimal.NewFromInt(3),
			ATRStopMultiple:                decimal.NewFromFloat(1.5),
			StopFloorATR:                   decimal.NewFromFloat(0.25),
			StopFloorPct:                   decimal.NewFromFloat(0.15),
		},
		Throttle: config.ThrottleConfig{
			MaxPerHour:      3,
			MaxPerDay:       12,
			LossStreakPause: 4,
		},
		FillAckTimeout: 100 * time.Millisecond,
		Accounts:       []string{"alpha", "bravo"},
		InitialBalance: decimal.NewFromInt(10000),
	}
}

// bearishMarket builds a clean 1h/4h downtrend with full short confirmation
// at the given price.
func bearishMarket(price int64) marketdata.TimeframeSet {
	p := decimal.NewFromInt(price)
	h := marketdata.Snapshot{
		Price:   p,
		EMA20:   p.Add(decimal.NewFromInt(100)),
		ADX:     28,
		RSI:     42,
		RSIPrev: 48,
		MACD:    marketdata.MACD{Line: -2, Signal: -1, Histogram: -1},
	}
	return marketdata.TimeframeSet{
		M3:  marketdata.Snapshot{Price: p},
		M15: marketdata.Snapshot{OBVTrend: marketdata.OBVDown},
		H1:  h,
		H4:  h,
	}
}

func shortSub(account string, symbol string, stop, target int64) Submission {
	return Submission{
		AccountID: account,
		Decision: types.Decision{
			Action:          types.ActionOpenShort,
			Symbol:          symbol,
			Confidence:      0.85,
			Reasoning:       "4h breakdown",
			Leverage:        3,
			PositionSizeUSD: decimal.NewFromInt(1000),
			StopLoss:        decimal.NewFromInt(stop),
			TakeProfit:      decimal.NewFromInt(target),
		},
		Market: bearishMarket(4000),
	}
}

func TestSubmit_AcceptsExactMinimumRiskReward(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	out := eng.Submit(context.Background(), shortSub("alpha", "ETHUSDT", 4100, 3700))
	require.Nil(t, out.Rejection)
	require.True(t, out.Applied)
	require.NotNil(t, out.Order)
	require.True(t, out.Order.RiskReward.Equal(decimal.NewFromInt(3)))

	pos := eng.Ledger("alpha").Position("ETHUSDT")
	require.NotNil(t, pos)
	require.Equal(t, types.StatusOpen, pos.Status)
}

func TestSubmit_RejectsLowRiskReward(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	out := eng.Submit(context.Background(), shortSub("alpha", "ETHUSDT", 4100, 3850))
	require.False(t, out.Applied)
	require.NotNil(t, out.Rejection)
	require.Equal(t, types.RejectRiskLimit, out.Rejection.Code)
	require.Equal(t, types.LimitMinRiskReward, out.Rejection.Limit)
	require.Equal(t, 0, eng.Ledger("alpha").OpenCount())
}

func TestSubmit_MalformedIsIdempotent(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	sub := shortSub("alpha", "ETHUSDT", 4100, 3700)
	sub.Decision.Action = "buy"

	first := eng.Submit(context.Background(), sub)
	second := eng.Submit(context.Background(), sub)

	require.False(t, first.Applied)
	require.Equal(t, types.RejectMalformedDecision, first.Rejection.Code)
	require.Equal(t, first.Rejection.Reason(), second.Rejection.Reason())
	require.Equal(t, first.Rejection.Detail, second.Rejection.Detail)
	require.Equal(t, 0, eng.Ledger("alpha").OpenCount())
	require.True(t, eng.Ledger("alpha").AvailableBalance().Equal(decimal.NewFromInt(10000)))
}

func TestSubmit_UnknownAccountFailsClosed(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	out := eng.Submit(context.Background(), shortSub("charlie", "ETHUSDT", 4100, 3700))
	require.False(t, out.Applied)
	require.Equal(t, types.RejectMalformedDecision, out.Rejection.Code)
}

func TestSubmit_NoopIsApplied(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	out := eng.Submit(context.Background(), Submission{
		AccountID: "alpha",
		Decision:  types.Decision{Action: types.ActionWait, Confidence: 0.5},
	})
	require.True(t, out.Applied)
	require.Nil(t, out.Order)
	require.Nil(t, out.Close)
}

func TestSubmit_SignalGateRejectsCounterTrend(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	sub := shortSub("alpha", "ETHUSDT", 4100, 3700)
	sub.Decision.Action = types.ActionOpenLong
	sub.Decision.StopLoss = decimal.NewFromInt(3900)
	sub.Decision.TakeProfit = decimal.NewFromInt(4300)

	out := eng.Submit(context.Background(), sub)
	require.False(t, out.Applied)
	require.Equal(t, types.RejectSignalUnconfirmed, out.Rejection.Code)
}

func TestSubmit_HourlyThrottleAfterThreeOpens(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	// Small orders keep every risk cap comfortable; only the throttle can
	// say no to the fourth.
	for i, sym := range []string{"ETHUSDT", "BTCUSDT", "SOLUSDT"} {
		sub := shortSub("alpha", sym, 4100, 3700)
		sub.Decision.Leverage = 1
		sub.Decision.PositionSizeUSD = decimal.NewFromInt(200)
		out := eng.Submit(context.Background(), sub)
		require.True(t, out.Applied, "open %d rejected: %v", i+1, out.Rejection)
	}

	sub := shortSub("alpha", "ADAUSDT", 4100, 3700)
	sub.Decision.Leverage = 1
	sub.Decision.PositionSizeUSD = decimal.NewFromInt(200)
	out := eng.Submit(context.Background(), sub)
	require.False(t, out.Applied)
	require.Equal(t, types.RejectThrottleBlocked, out.Rejection.Code)
}

func TestSubmit_LossStreakOverridesConfidence(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	for i := 0; i < 4; i++ {
		eng.Throttle("alpha").RecordTrade(types.Trade{PnL: decimal.NewFromInt(-50)})
	}

	sub := shortSub("alpha", "ETHUSDT", 4100, 3700)
	sub.Decision.Confidence = 0.9

	out := eng.Submit(context.Background(), sub)
	require.False(t, out.Applied)
	require.Equal(t, types.RejectThrottleBlocked, out.Rejection.Code)

	// The other account is untouched by alpha's streak.
	require.True(t, eng.Submit(context.Background(), shortSub("bravo", "ETHUSDT", 4100, 3700)).Applied)
}

func TestSubmit_CloseAllowedDuringLossStreak(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	require.True(t, eng.Submit(context.Background(), shortSub("alpha", "ETHUSDT", 4100, 3700)).Applied)

	for i := 0; i < 4; i++ {
		eng.Throttle("alpha").RecordTrade(types.Trade{PnL: decimal.NewFromInt(-50)})
	}

	out := eng.Submit(context.Background(), Submission{
		AccountID: "alpha",
		Decision: types.Decision{
			Action:     types.ActionCloseShort,
			Symbol:     "ETHUSDT",
			Confidence: 0.7,
		},
		Market: bearishMarket(3700),
	})
	require.True(t, out.Applied, "close rejected: %v", out.Rejection)
	require.NotNil(t, out.Close)
	require.True(t, out.Close.FullyClosed)
	require.Equal(t, 0, eng.Ledger("alpha").OpenCount())
}

func TestSubmit_NoAverageDown(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	require.True(t, eng.Submit(context.Background(), shortSub("alpha", "ETHUSDT", 4100, 3700)).Applied)

	// Price moved against the short; adding would average down.
	sub := shortSub("alpha", "ETHUSDT", 4300, 3900)
	sub.Market = bearishMarket(4200)

	out := eng.Submit(context.Background(), sub)
	require.False(t, out.Applied)
	require.Equal(t, types.RejectInvalidTransition, out.Rejection.Code)
}

type noFill struct{}

func (noFill) AwaitFill(context.Context, string, *types.OrderPlan) error {
	return errors.New("exchange rejected order")
}

func TestSubmit_FillFailureRevertsReservation(t *testing.T) {
	eng := New(testConfig(), nil, nil, noFill{})

	out := eng.Submit(context.Background(), shortSub("alpha", "ETHUSDT", 4100, 3700))
	require.False(t, out.Applied)
	require.Equal(t, types.RejectExecutionFailure, out.Rejection.Code)

	l := eng.Ledger("alpha")
	require.Equal(t, 0, l.OpenCount())
	require.True(t, l.AvailableBalance().Equal(decimal.NewFromInt(10000)))
	require.True(t, l.TotalNotional().IsZero())
}

func TestSubmitBatch_AccountsRunIndependently(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	outs := eng.SubmitBatch(context.Background(), []Submission{
		shortSub("alpha", "ETHUSDT", 4100, 3700),
		shortSub("bravo", "ETHUSDT", 4100, 3700),
	})
	require.Len(t, outs, 2)
	require.True(t, outs[0].Applied)
	require.True(t, outs[1].Applied)
	require.Equal(t, 1, eng.Ledger("alpha").OpenCount())
	require.Equal(t, 1, eng.Ledger("bravo").OpenCount())
}

func TestPerformance_DerivedFromTrades(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	require.True(t, eng.Submit(context.Background(), shortSub("alpha", "ETHUSDT", 4100, 3700)).Applied)

	// Full close at target: +225 realized.
	out := eng.Submit(context.Background(), Submission{
		AccountID: "alpha",
		Decision:  types.Decision{Action: types.ActionCloseShort, Symbol: "ETHUSDT", Confidence: 0.7},
		Market:    bearishMarket(3700),
	})
	require.True(t, out.Applied)

	perf := eng.Performance("alpha")
	require.Equal(t, 1, perf.Trades)
	require.Equal(t, 1, perf.Wins)
	require.Equal(t, 0, perf.Losses)
	require.True(t, perf.TotalPnL.Equal(decimal.NewFromInt(225)), "pnl %s", perf.TotalPnL)
	require.Equal(t, 0, perf.LossStreak)
}

type journalState struct {
	positions []types.Position
	trades    []types.Trade
	pnl       decimal.Decimal
}

func (s journalState) OpenPositions(accountID string) ([]types.Position, error) {
	if accountID != "alpha" {
		return nil, nil
	}
	return s.positions, nil
}

func (s journalState) RecentTrades(accountID string, limit int) ([]types.Trade, error) {
	if accountID != "alpha" {
		return nil, nil
	}
	return s.trades, nil
}

func (s journalState) RealizedPnL(accountID string) (decimal.Decimal, error) {
	if accountID != "alpha" {
		return decimal.Zero, nil
	}
	return s.pnl, nil
}

func TestRecover_RestoresBalanceAndStreak(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	loss := types.Trade{PnL: decimal.NewFromInt(-75), ClosedAt: time.Now()}
	state := journalState{
		positions: []types.Position{{
			ID:             "p1",
			Symbol:         "ETHUSDT",
			Side:           types.SideShort,
			EntryPrice:     decimal.NewFromInt(4000),
			Quantity:       decimal.RequireFromString("0.75"),
			Leverage:       3,
			StopLoss:       decimal.NewFromInt(4100),
			TakeProfit:     decimal.NewFromInt(3700),
			InitialRisk:    decimal.NewFromInt(100),
			ReservedMargin: decimal.NewFromInt(1000),
		}},
		trades: []types.Trade{loss, loss, loss, loss},
		pnl:    decimal.NewFromInt(-300),
	}
	require.NoError(t, eng.Recover(state))

	l := eng.Ledger("alpha")
	require.Equal(t, 1, l.OpenCount())
	// Starting cash carries the journaled -300, minus the 1000 margin the
	// restored position still holds.
	require.True(t, l.AvailableBalance().Equal(decimal.NewFromInt(8700)), "balance %s", l.AvailableBalance())
	require.True(t, l.Equity().Equal(decimal.NewFromInt(9700)), "equity %s", l.Equity())

	// The replayed losses pause alpha; bravo is untouched.
	require.Equal(t, 4, eng.Throttle("alpha").LossStreak())
	require.True(t, eng.Ledger("bravo").AvailableBalance().Equal(decimal.NewFromInt(10000)))
}

func TestStats_CountsByRejectCode(t *testing.T) {
	eng := New(testConfig(), nil, nil, nil)

	eng.Submit(context.Background(), shortSub("alpha", "ETHUSDT", 4100, 3700))
	eng.Submit(context.Background(), shortSub("alpha", "BTCUSDT", 4100, 3850))

	stats := eng.Stats()
	require.Equal(t, int64(2), stats.Submitted)
	require.Equal(t, int64(1), stats.Applied)
	require.Equal(t, int64(1), stats.Rejected[string(types.RejectRiskLimit)])
}
