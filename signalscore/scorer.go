package signalscore

import (
	"fmt"

	"github.com/sentinelquant/tradegate/marketdata"
	"github.com/sentinelquant/tradegate/regime"
	"github.com/sentinelquant/tradegate/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL SCORER - Confirmation scoring for proposed entries
// ═══════════════════════════════════════════════════════════════════════════════
//
// One point per dimension: trend, RSI, MACD, volume/OBV. Trend alignment is
// mandatory unless the reversal predicate fires. Funding never flips the
// accept boolean, it only shifts the leverage tier or nudges confidence.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ReversalPredicate decides whether a counter-trend entry is justified.
// Pluggable so the exact thresholds can be tuned without touching scoring.
type ReversalPredicate func(side types.Side, s marketdata.Snapshot) bool

// DefaultReversal requires an RSI extreme, a price/RSI divergence and a
// volume spike all at once on the 1h bar.
func DefaultReversal(side types.Side, s marketdata.Snapshot) bool {
	if !s.Divergence || s.VolumeRatio() < 2.0 {
		return false
	}
	if side == types.SideLong {
		return s.RSI > 0 && s.RSI <= 25
	}
	return s.RSI >= 75
}

// Score is the per-dimension confirmation result for one proposal.
type Score struct {
	Total int `json:"total"` // 0-4

	TrendAligned  bool `json:"trend_aligned"`
	RSIAligned    bool `json:"rsi_aligned"`
	MACDAligned   bool `json:"macd_aligned"`
	VolumeAligned bool `json:"volume_aligned"`

	Accept   bool `json:"accept"`
	Reversal bool `json:"reversal"` // counter-trend exception fired

	// Funding adjustments, applied downstream
	LeverageTierShift int     `json:"leverage_tier_shift"` // -1 when with-trend side is crowded
	ConfidenceAdj     float64 `json:"confidence_adj"`      // small bump on divergent funding

	Reason string `json:"reason,omitempty"` // set when Accept is false
}

// Scorer evaluates entry proposals against the regime verdict.
type Scorer struct {
	reversal ReversalPredicate
}

// New returns a scorer with the given reversal predicate (nil uses the
// default).
func New(reversal ReversalPredicate) *Scorer {
	if reversal == nil {
		reversal = DefaultReversal
	}
	return &Scorer{reversal: reversal}
}

// Score grades a proposed side against the verdict and indicator set.
// Momentum dimensions read the 1h bar, volume reads 15m.
func (sc *Scorer) Score(side types.Side, v regime.Verdict, tf marketdata.TimeframeSet, funding marketdata.FundingInfo) Score {
	h1 := tf.H1

	s := Score{
		TrendAligned:  v.Trend.Aligned(side),
		RSIAligned:    rsiAligned(side, h1),
		MACDAligned:   macdAligned(side, h1.MACD),
		VolumeAligned: volumeAligned(side, tf.M15),
	}
	for _, hit := range []bool{s.TrendAligned, s.RSIAligned, s.MACDAligned, s.VolumeAligned} {
		if hit {
			s.Total++
		}
	}

	switch {
	case v.Trend.Directional() && !s.TrendAligned:
		// Counter-trend: only the reversal exception gets through.
		if sc.reversal(side, h1) {
			s.Reversal = true
			s.Accept = true
		} else {
			s.Reason = fmt.Sprintf("%s against %s regime, no reversal setup", side, v.Trend)
		}

	case !v.Trend.Directional():
		// Ranging needs a breakout with volume behind it, then two
		// confirming dimensions (trend cannot score here).
		if !v.TimingOK {
			s.Reason = "ranging regime without breakout confirmation"
		} else if s.Total >= 2 {
			s.Accept = true
		} else {
			s.Reason = fmt.Sprintf("score %d/4 below threshold in ranging regime", s.Total)
		}

	default:
		// With-trend: trend + one more dimension, or a strongly trending
		// regime with RSI on side.
		switch {
		case s.Total >= 2:
			s.Accept = true
		case v.Strong() && s.RSIAligned:
			s.Accept = true
		default:
			s.Reason = fmt.Sprintf("score %d/4 below threshold", s.Total)
		}
	}

	// Funding adjusts sizing and confidence, never the verdict.
	switch funding.Crowding() {
	case marketdata.CrowdLong:
		if side == types.SideLong {
			s.LeverageTierShift = -1
		} else {
			s.ConfidenceAdj = 0.05
		}
	case marketdata.CrowdShort:
		if side == types.SideShort {
			s.LeverageTierShift = -1
		} else {
			s.ConfidenceAdj = 0.05
		}
	}

	return s
}

func rsiAligned(side types.Side, s marketdata.Snapshot) bool {
	if s.RSI <= 0 {
		return false
	}
	if side == types.SideLong {
		return s.RSI > 50 || s.RSIRising()
	}
	return s.RSI < 50 || s.RSIFalling()
}

func macdAligned(side types.Side, m marketdata.MACD) bool {
	if m.Line == 0 && m.Signal == 0 && m.Histogram == 0 {
		return false
	}
	if side == types.SideLong {
		return m.Histogram > 0 && m.Line > m.Signal
	}
	return m.Histogram < 0 && m.Line < m.Signal
}

func volumeAligned(side types.Side, s marketdata.Snapshot) bool {
	switch s.OBVTrend {
	case marketdata.OBVUp:
		return side == types.SideLong
	case marketdata.OBVDown:
		return side == types.SideShort
	}
	// OBV flat or unknown: elevated volume counts for either side.
	return s.AvgVolume > 0 && s.VolumeRatio() >= 1.5
}
