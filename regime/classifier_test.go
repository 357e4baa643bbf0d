package regime

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sentinelquant/tradegate/marketdata"
	"github.com/sentinelquant/tradegate/types"
)

func upSnap() marketdata.Snapshot {
	return marketdata.Snapshot{
		Price:   decimal.NewFromInt(105),
		EMA20:   decimal.NewFromInt(100),
		ADX:     28,
		RSI:     60,
		RSIPrev: 55,
	}
}

func downSnap() marketdata.Snapshot {
	return marketdata.Snapshot{
		Price:   decimal.NewFromInt(95),
		EMA20:   decimal.NewFromInt(100),
		ADX:     28,
		RSI:     40,
		RSIPrev: 45,
	}
}

func TestClassify_Trends(t *testing.T) {
	tests := []struct {
		name string
		h1   marketdata.Snapshot
		h4   marketdata.Snapshot
		want Trend
	}{
		{"both up", upSnap(), upSnap(), Uptrend},
		{"both down", downSnap(), downSnap(), Downtrend},
		{"up vs ranging", upSnap(), marketdata.Snapshot{}, Ranging},
		{"missing data", marketdata.Snapshot{}, marketdata.Snapshot{}, Ranging},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(marketdata.TimeframeSet{H1: tt.h1, H4: tt.h4})
			require.Equal(t, tt.want, v.Trend)
		})
	}
}

func TestClassify_ConflictResolvesToRanging(t *testing.T) {
	v := Classify(marketdata.TimeframeSet{H1: upSnap(), H4: downSnap()})
	require.Equal(t, Ranging, v.Trend)
	require.True(t, v.Ambiguous)
}

func TestClassify_WeakADXIsRanging(t *testing.T) {
	s := upSnap()
	s.ADX = 15
	v := Classify(marketdata.TimeframeSet{H1: s, H4: s})
	require.Equal(t, Ranging, v.Trend)
	require.False(t, v.Ambiguous)
}

func TestClassify_RSIDirectionRequired(t *testing.T) {
	s := upSnap()
	s.RSIPrev = 70 // falling RSI breaks the uptrend confirmation
	v := Classify(marketdata.TimeframeSet{H1: s, H4: s})
	require.Equal(t, Ranging, v.Trend)
}

func TestVerdict_Strong(t *testing.T) {
	strong := upSnap()
	strong.ADX = 30
	weak := upSnap()
	weak.ADX = 22

	require.True(t, Classify(marketdata.TimeframeSet{H1: strong, H4: strong}).Strong())
	require.False(t, Classify(marketdata.TimeframeSet{H1: strong, H4: weak}).Strong())
}

func TestTimingOK_PullbackToEMA(t *testing.T) {
	m15 := marketdata.Snapshot{
		Price: decimal.NewFromInt(101),
		EMA20: decimal.NewFromInt(100),
		ATR:   decimal.NewFromInt(4), // within 0.5×ATR of the EMA
		RSI:   58,
	}
	v := Classify(marketdata.TimeframeSet{H1: upSnap(), H4: upSnap(), M15: m15})
	require.True(t, v.TimingOK)
}

func TestTimingOK_PullbackTooFar(t *testing.T) {
	m15 := marketdata.Snapshot{
		Price: decimal.NewFromInt(110),
		EMA20: decimal.NewFromInt(100),
		ATR:   decimal.NewFromInt(4),
		RSI:   58,
	}
	v := Classify(marketdata.TimeframeSet{H1: upSnap(), H4: upSnap(), M15: m15})
	require.False(t, v.TimingOK)
}

func TestTimingOK_BreakoutWithVolume(t *testing.T) {
	m3 := marketdata.Snapshot{
		Price:     decimal.NewFromInt(112),
		BBUpper:   decimal.NewFromInt(110),
		BBLower:   decimal.NewFromInt(90),
		Volume:    2000,
		AvgVolume: 1000,
	}
	// Breakout timing fires even in a ranging regime.
	v := Classify(marketdata.TimeframeSet{M3: m3})
	require.Equal(t, Ranging, v.Trend)
	require.True(t, v.TimingOK)
}

func TestTrend_Aligned(t *testing.T) {
	require.True(t, Uptrend.Aligned(types.SideLong))
	require.True(t, Downtrend.Aligned(types.SideShort))
	require.False(t, Uptrend.Aligned(types.SideShort))
	require.False(t, Ranging.Aligned(types.SideLong))
}
