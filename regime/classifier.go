package regime

import (
	"github.com/shopspring/decimal"

	"github.com/sentinelquant/tradegate/marketdata"
	"github.com/sentinelquant/tradegate/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REGIME CLASSIFIER - Multi-timeframe trend verdict
// ═══════════════════════════════════════════════════════════════════════════════
//
// 1h and 4h decide the trend; they must agree or the verdict is Ranging.
// 3m/15m never override the higher timeframes, they only set the timing flag.
// Pure function of the snapshot set, never fails: missing data degrades to
// "not confirming".
//
// ═══════════════════════════════════════════════════════════════════════════════

// Trend is the classified market state on the higher timeframes.
type Trend int

const (
	Ranging Trend = iota
	Uptrend
	Downtrend
)

func (t Trend) String() string {
	switch t {
	case Uptrend:
		return "uptrend"
	case Downtrend:
		return "downtrend"
	}
	return "ranging"
}

// Directional reports whether the trend carries a tradable bias.
func (t Trend) Directional() bool {
	return t == Uptrend || t == Downtrend
}

// Aligned reports whether a proposed side trades with the trend.
func (t Trend) Aligned(side types.Side) bool {
	return (t == Uptrend && side == types.SideLong) ||
		(t == Downtrend && side == types.SideShort)
}

// strongADX is the threshold above which a trend counts as strongly trending.
const strongADX = 25

// Verdict is the classifier output consumed by the signal scorer.
type Verdict struct {
	Trend         Trend `json:"trend"`
	ShortTermBias Trend `json:"short_term_bias"` // 3m/15m, entry timing only
	TimingOK      bool  `json:"timing_ok"`
	Ambiguous     bool  `json:"ambiguous"` // 1h/4h conflicted, resolved to Ranging

	adxH1 float64
	adxH4 float64
}

// Strong reports ADX > 25 on both higher timeframes.
func (v Verdict) Strong() bool {
	return v.adxH1 > strongADX && v.adxH4 > strongADX
}

// Classify derives the regime verdict from one cycle's snapshot set.
func Classify(tf marketdata.TimeframeSet) Verdict {
	h1 := trendOf(tf.H1)
	h4 := trendOf(tf.H4)

	v := Verdict{adxH1: tf.H1.ADX, adxH4: tf.H4.ADX}

	switch {
	case h1 == h4:
		v.Trend = h1
	case h1.Directional() && h4.Directional():
		// Conflicting higher-timeframe trend voids a directional bias.
		v.Trend = Ranging
		v.Ambiguous = true
	default:
		v.Trend = Ranging
	}

	v.ShortTermBias = shortTermBias(tf.M3, tf.M15)
	v.TimingOK = timingOK(v.Trend, tf.M3, tf.M15)

	return v
}

// trendOf applies the single-timeframe rule: price vs EMA20, ADX > 20, and
// RSI direction must all confirm. Anything missing means Ranging.
func trendOf(s marketdata.Snapshot) Trend {
	if !s.HasTrendData() || s.ADX <= 20 {
		return Ranging
	}
	switch {
	case s.Price.GreaterThan(s.EMA20) && s.RSIRising():
		return Uptrend
	case s.Price.LessThan(s.EMA20) && s.RSIFalling():
		return Downtrend
	}
	return Ranging
}

// shortTermBias combines 3m and 15m the same way 1h/4h combine: agreement or
// nothing. Used only for entry timing, never to override the verdict.
func shortTermBias(m3, m15 marketdata.Snapshot) Trend {
	b3 := trendOf(m3)
	b15 := trendOf(m15)
	if b3 == b15 {
		return b3
	}
	return Ranging
}

// timingOK checks the lower timeframes for an entry window: a pullback to
// the EMA20 within half an ATR with RSI still on the trend side of 50, or a
// Bollinger-band breakout on elevated volume.
func timingOK(trend Trend, m3, m15 marketdata.Snapshot) bool {
	if breakoutWithVolume(m3) || breakoutWithVolume(m15) {
		return true
	}
	if !trend.Directional() {
		return false
	}
	return pullbackEntry(trend, m15) || pullbackEntry(trend, m3)
}

func pullbackEntry(trend Trend, s marketdata.Snapshot) bool {
	if s.Price.IsZero() || s.EMA20.IsZero() || s.ATR.IsZero() {
		return false
	}
	dist := s.Price.Sub(s.EMA20).Abs()
	if dist.GreaterThan(s.ATR.Mul(decimal.NewFromFloat(0.5))) {
		return false
	}
	if trend == Uptrend {
		return s.RSI > 50
	}
	return s.RSI > 0 && s.RSI < 50
}

func breakoutWithVolume(s marketdata.Snapshot) bool {
	if s.Price.IsZero() || s.BBUpper.IsZero() || s.BBLower.IsZero() {
		return false
	}
	outside := s.Price.GreaterThan(s.BBUpper) || s.Price.LessThan(s.BBLower)
	return outside && s.VolumeRatio() >= 1.5
}
