package marketdata

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INDICATOR SNAPSHOTS - Pre-computed per-timeframe market state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Indicator values arrive already computed, once per decision cycle.
// Snapshots are immutable after capture; everything here is read-only math.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Timeframe identifies one of the four analysis intervals.
type Timeframe string

const (
	TF3m  Timeframe = "3m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

// OBVTrend is the short-term direction of on-balance volume.
type OBVTrend string

const (
	OBVUp      OBVTrend = "up"
	OBVDown    OBVTrend = "down"
	OBVNeutral OBVTrend = "neutral"
)

// MACD carries the three MACD components.
type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Snapshot is the indicator state of one symbol on one timeframe.
// Missing indicators are zero values and are treated as "not confirming",
// never as errors.
type Snapshot struct {
	Price decimal.Decimal `json:"price"`
	EMA20 decimal.Decimal `json:"ema_20"`
	EMA50 decimal.Decimal `json:"ema_50"`

	ADX     float64 `json:"adx"`
	RSI     float64 `json:"rsi"`
	RSIPrev float64 `json:"rsi_prev"` // previous bar, for rising/falling
	MACD    MACD    `json:"macd"`

	BBUpper decimal.Decimal `json:"bb_upper"`
	BBMid   decimal.Decimal `json:"bb_mid"`
	BBLower decimal.Decimal `json:"bb_lower"`

	ATR decimal.Decimal `json:"atr"`

	Volume    float64  `json:"volume"`
	AvgVolume float64  `json:"avg_volume"`
	OBV       float64  `json:"obv"`
	OBVTrend  OBVTrend `json:"obv_trend"`

	NearestSupport    decimal.Decimal `json:"nearest_support"`
	NearestResistance decimal.Decimal `json:"nearest_resistance"`

	// RSI/price divergence flag computed upstream alongside the indicators.
	Divergence bool `json:"divergence"`
}

// HasTrendData reports whether the fields the trend rule needs are present.
func (s Snapshot) HasTrendData() bool {
	return !s.Price.IsZero() && !s.EMA20.IsZero() && s.ADX > 0 && s.RSI > 0
}

// RSIRising reports whether RSI increased since the previous bar. A missing
// previous value does not confirm.
func (s Snapshot) RSIRising() bool {
	return s.RSIPrev > 0 && s.RSI > s.RSIPrev
}

// RSIFalling reports whether RSI decreased since the previous bar.
func (s Snapshot) RSIFalling() bool {
	return s.RSIPrev > 0 && s.RSI < s.RSIPrev
}

// VolumeRatio returns current volume over the rolling average (1.0 if the
// average is unknown).
func (s Snapshot) VolumeRatio() float64 {
	if s.AvgVolume <= 0 {
		return 1.0
	}
	return s.Volume / s.AvgVolume
}

// ATRPercent returns ATR as a percentage of price.
func (s Snapshot) ATRPercent() decimal.Decimal {
	if s.Price.IsZero() {
		return decimal.Zero
	}
	return s.ATR.Div(s.Price).Mul(decimal.NewFromInt(100))
}

// BBPosition returns where price sits inside the Bollinger channel, 0 at the
// lower band and 100 at the upper. Returns 50 when bands are unknown.
func (s Snapshot) BBPosition() decimal.Decimal {
	width := s.BBUpper.Sub(s.BBLower)
	if width.IsZero() {
		return decimal.NewFromInt(50)
	}
	return s.Price.Sub(s.BBLower).Div(width).Mul(decimal.NewFromInt(100))
}

// TimeframeSet is the full multi-timeframe view captured for one decision
// cycle: 1h/4h determine trend, 15m/3m determine timing.
type TimeframeSet struct {
	M3  Snapshot `json:"3m"`
	M15 Snapshot `json:"15m"`
	H1  Snapshot `json:"1h"`
	H4  Snapshot `json:"4h"`
}

// EntryPrice returns the freshest price in the set, preferring the 3m bar.
func (tf TimeframeSet) EntryPrice() decimal.Decimal {
	for _, s := range []Snapshot{tf.M3, tf.M15, tf.H1, tf.H4} {
		if !s.Price.IsZero() {
			return s.Price
		}
	}
	return decimal.Zero
}
