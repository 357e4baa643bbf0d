package risksizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sentinelquant/tradegate/config"
	"github.com/sentinelquant/tradegate/marketdata"
	"github.com/sentinelquant/tradegate/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK SIZER - Stop-first order construction
// ═══════════════════════════════════════════════════════════════════════════════
//
// The stop is placed first (ATR or structure, whichever is tighter above the
// volatility floor), the take-profit must clear the minimum risk-reward, and
// only then is size computed under the percentage caps. Requested size and
// leverage may be reduced to fit the caps; the adjusted numbers are returned
// in the plan. A rejection always names the specific limit hit.
//
// ═══════════════════════════════════════════════════════════════════════════════

// leverageTiers are the allowed leverage steps; crowded funding drops one.
var leverageTiers = []int{1, 2, 3, 5, 10, 20}

// AccountView is the read-only account state the sizer needs, captured under
// the engine's per-account lock.
type AccountView struct {
	Equity           decimal.Decimal
	AvailableBalance decimal.Decimal
	OpenPositions    int
	SymbolNotional   decimal.Decimal // open notional on the proposal's symbol
	TotalNotional    decimal.Decimal // open notional across all symbols
}

// Sizer turns accepted candidates into concrete order plans.
type Sizer struct {
	limits config.RiskLimits
	minQty func(symbol string) decimal.Decimal
}

// New builds a sizer over the given limits. minQty resolves the exchange
// minimum order quantity per symbol.
func New(limits config.RiskLimits, minQty func(string) decimal.Decimal) *Sizer {
	return &Sizer{limits: limits, minQty: minQty}
}

var oneHundred = decimal.NewFromInt(100)

func pctOf(pct, base decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(oneHundred)
}

// Plan sizes an accepted open candidate. tierShift is the leverage tier
// adjustment from funding crowding (0 or -1). Returns the concrete order
// plan or the rejection naming the limit that failed.
func (s *Sizer) Plan(d types.Decision, entry decimal.Decimal, snap marketdata.Snapshot, acct AccountView, tierShift int) (*types.OrderPlan, *types.Rejection) {
	side := d.Action.Side()

	if acct.OpenPositions >= s.limits.MaxPositions {
		return nil, types.RejectLimit(types.LimitMaxPositions,
			fmt.Sprintf("%d positions open, limit %d", acct.OpenPositions, s.limits.MaxPositions))
	}
	if entry.IsZero() || entry.IsNegative() {
		return nil, &types.Rejection{Code: types.RejectMalformedDecision, Detail: "no usable entry price"}
	}

	stop, rej := s.placeStop(side, entry, snap, d.StopLoss)
	if rej != nil {
		return nil, rej
	}
	risk := entry.Sub(stop).Abs()

	target, rr, rej := s.placeTarget(side, entry, risk, snap, d.TakeProfit)
	if rej != nil {
		return nil, rej
	}

	leverage := s.chooseLeverage(d.Leverage, tierShift)

	margin, notional, rej := s.sizePosition(d, entry, acct, leverage)
	if rej != nil {
		return nil, rej
	}

	quantity := notional.Div(entry)
	minQty := s.minQty(d.Symbol)
	if quantity.LessThan(minQty) {
		// Round the order up to the exchange minimum if the caps allow it,
		// otherwise the account simply cannot afford this symbol.
		minNotional := minQty.Mul(entry)
		minMargin := minNotional.Div(decimal.NewFromInt(int64(leverage)))
		capped, _, capRej := s.capNotional(minNotional, acct)
		if capRej != nil || capped.LessThan(minNotional) || minMargin.GreaterThan(s.marginCap(acct)) {
			return nil, types.RejectLimit(types.LimitMinNotional,
				fmt.Sprintf("minimum quantity %s %s needs %s notional", minQty, d.Symbol, minNotional.StringFixed(2)))
		}
		quantity = minQty
		notional = minNotional
		margin = minMargin
	}

	return &types.OrderPlan{
		Symbol:          d.Symbol,
		Side:            side,
		Leverage:        leverage,
		PositionSizeUSD: margin,
		Quantity:        quantity,
		Entry:           entry,
		StopLoss:        stop,
		TakeProfit:      target,
		RiskReward:      rr,
	}, nil
}

// placeStop honors a valid proposed stop; otherwise it derives one from the
// tighter of the ATR stop and structural stop. Either way the volatility
// floor applies.
func (s *Sizer) placeStop(side types.Side, entry decimal.Decimal, snap marketdata.Snapshot, proposed decimal.Decimal) (decimal.Decimal, *types.Rejection) {
	var stop decimal.Decimal
	if validStop(side, entry, proposed) {
		stop = proposed
	} else {
		var candidates []decimal.Decimal
		if !snap.ATR.IsZero() {
			dist := snap.ATR.Mul(s.limits.ATRStopMultiple)
			candidates = append(candidates, offsetAgainst(side, entry, dist))
		}
		if structural := structuralStop(side, entry, snap); validStop(side, entry, structural) {
			candidates = append(candidates, structural)
		}
		if len(candidates) == 0 {
			// No ATR, no structure, no usable proposal: fall back to the
			// configured percentage stop.
			dist := pctOf(s.limits.StopLossPct, entry)
			candidates = append(candidates, offsetAgainst(side, entry, dist))
		}
		stop = candidates[0]
		for _, c := range candidates[1:] {
			if c.Sub(entry).Abs().LessThan(stop.Sub(entry).Abs()) {
				stop = c
			}
		}
	}

	floor := pctOf(s.limits.StopFloorPct, entry)
	if !snap.ATR.IsZero() {
		if atrFloor := snap.ATR.Mul(s.limits.StopFloorATR); atrFloor.GreaterThan(floor) {
			floor = atrFloor
		}
	}
	if stop.Sub(entry).Abs().LessThan(floor) {
		return decimal.Zero, types.RejectLimit(types.LimitStopTooTight,
			fmt.Sprintf("stop distance %s below floor %s", stop.Sub(entry).Abs(), floor))
	}
	return stop, nil
}

// placeTarget honors a proposed take-profit if it clears the minimum
// risk-reward, derives one otherwise, and rejects when structure leaves no
// room for the required reward.
func (s *Sizer) placeTarget(side types.Side, entry, risk decimal.Decimal, snap marketdata.Snapshot, proposed decimal.Decimal) (decimal.Decimal, decimal.Decimal, *types.Rejection) {
	requiredReward := risk.Mul(s.limits.MinRiskReward)

	target := proposed
	if validTarget(side, entry, proposed) {
		if reward := target.Sub(entry).Abs(); reward.LessThan(requiredReward) {
			rr := decimal.Zero
			if !risk.IsZero() {
				rr = reward.Div(risk)
			}
			return decimal.Zero, decimal.Zero, types.RejectLimit(types.LimitMinRiskReward,
				fmt.Sprintf("risk-reward %s below minimum %s", rr.StringFixed(2), s.limits.MinRiskReward))
		}
	} else {
		// Derived targets aim for the configured take-profit distance, never
		// below the required reward, and stop short of structure in the way.
		dist := requiredReward
		if tp := pctOf(s.limits.TakeProfitPct, entry); tp.GreaterThan(dist) {
			dist = tp
		}
		if wall := structuralWall(side, entry, snap); !wall.IsZero() {
			if wd := wall.Sub(entry).Abs(); wd.LessThan(dist) {
				dist = wd
			}
		}
		target = offsetWith(side, entry, dist)
	}

	// Structure closer than the required reward means the trade has no room.
	if wall := structuralWall(side, entry, snap); !wall.IsZero() {
		if wall.Sub(entry).Abs().LessThan(requiredReward) {
			return decimal.Zero, decimal.Zero, types.RejectLimit(types.LimitInsufficientRoom,
				fmt.Sprintf("structure at %s inside required reward %s", wall, requiredReward))
		}
	}

	rr := decimal.Zero
	if !risk.IsZero() {
		rr = target.Sub(entry).Abs().Div(risk)
	}
	return target, rr, nil
}

// chooseLeverage snaps the request down onto the tier ladder, caps it at
// the configured maximum and applies the crowding shift.
func (s *Sizer) chooseLeverage(requested, tierShift int) int {
	if requested < 1 {
		requested = 1
	}
	if requested > s.limits.MaxLeverage {
		requested = s.limits.MaxLeverage
	}
	idx := 0
	for i, t := range leverageTiers {
		if t <= requested {
			idx = i
		}
	}
	idx += tierShift
	if idx < 0 {
		idx = 0
	}
	return leverageTiers[idx]
}

// sizePosition computes margin and notional under the per-trade and
// headroom caps, shrinking the request transparently where needed.
func (s *Sizer) sizePosition(d types.Decision, entry decimal.Decimal, acct AccountView, leverage int) (margin, notional decimal.Decimal, rej *types.Rejection) {
	marginCap := s.marginCap(acct)
	if marginCap.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, types.RejectLimit(types.LimitSingleTradePct,
			fmt.Sprintf("available balance %s leaves no per-trade budget", acct.AvailableBalance.StringFixed(2)))
	}

	margin = d.PositionSizeUSD
	if margin.GreaterThan(marginCap) {
		margin = marginCap
	}
	notional = margin.Mul(decimal.NewFromInt(int64(leverage)))

	notional, _, capRej := s.capNotional(notional, acct)
	if capRej != nil {
		return decimal.Zero, decimal.Zero, capRej
	}
	margin = notional.Div(decimal.NewFromInt(int64(leverage)))
	return margin, notional, nil
}

// marginCap is the per-trade margin budget: a percentage of the account's
// usable budget (free balance under the account usage cap), lower once
// positions are already open.
func (s *Sizer) marginCap(acct AccountView) decimal.Decimal {
	tradePct := s.limits.MaxSingleTradePct
	if acct.OpenPositions > 0 {
		tradePct = s.limits.MaxSingleTradeWithPositionsPct
	}
	budget := pctOf(s.limits.MaxAccountUsagePct, acct.AvailableBalance)
	return pctOf(tradePct, budget)
}

// capNotional shrinks a notional to the symbol and total headroom, rejecting
// when either headroom is already exhausted. The returned limit names which
// cap bound the result, empty when the request fit as-is.
func (s *Sizer) capNotional(notional decimal.Decimal, acct AccountView) (decimal.Decimal, string, *types.Rejection) {
	symbolRoom := pctOf(s.limits.MaxPositionSizePct, acct.Equity).Sub(acct.SymbolNotional)
	totalRoom := pctOf(s.limits.MaxTotalPositionPct, acct.Equity).Sub(acct.TotalNotional)

	if symbolRoom.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, "", types.RejectLimit(types.LimitPositionSizePct,
			fmt.Sprintf("symbol notional %s already at cap", acct.SymbolNotional.StringFixed(2)))
	}
	if totalRoom.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, "", types.RejectLimit(types.LimitTotalPositionPct,
			fmt.Sprintf("total notional %s already at cap", acct.TotalNotional.StringFixed(2)))
	}

	limit := ""
	if notional.GreaterThan(symbolRoom) {
		notional = symbolRoom
		limit = types.LimitPositionSizePct
	}
	if notional.GreaterThan(totalRoom) {
		notional = totalRoom
		limit = types.LimitTotalPositionPct
	}
	return notional, limit, nil
}

func validStop(side types.Side, entry, stop decimal.Decimal) bool {
	if stop.IsZero() || stop.IsNegative() {
		return false
	}
	if side == types.SideLong {
		return stop.LessThan(entry)
	}
	return stop.GreaterThan(entry)
}

func validTarget(side types.Side, entry, target decimal.Decimal) bool {
	if target.IsZero() || target.IsNegative() {
		return false
	}
	if side == types.SideLong {
		return target.GreaterThan(entry)
	}
	return target.LessThan(entry)
}

// offsetAgainst moves from entry in the losing direction (stop side).
func offsetAgainst(side types.Side, entry, dist decimal.Decimal) decimal.Decimal {
	if side == types.SideLong {
		return entry.Sub(dist)
	}
	return entry.Add(dist)
}

// offsetWith moves from entry in the winning direction (target side).
func offsetWith(side types.Side, entry, dist decimal.Decimal) decimal.Decimal {
	if side == types.SideLong {
		return entry.Add(dist)
	}
	return entry.Sub(dist)
}

// structuralStop is the support (long) or resistance (short) level behind
// the entry, zero when unknown or on the wrong side.
func structuralStop(side types.Side, entry decimal.Decimal, snap marketdata.Snapshot) decimal.Decimal {
	if side == types.SideLong {
		if !snap.NearestSupport.IsZero() && snap.NearestSupport.LessThan(entry) {
			return snap.NearestSupport
		}
		return decimal.Zero
	}
	if !snap.NearestResistance.IsZero() && snap.NearestResistance.GreaterThan(entry) {
		return snap.NearestResistance
	}
	return decimal.Zero
}

// structuralWall is the level in the profit direction that caps the move:
// resistance for longs, support for shorts. Zero when unknown.
func structuralWall(side types.Side, entry decimal.Decimal, snap marketdata.Snapshot) decimal.Decimal {
	if side == types.SideLong {
		if !snap.NearestResistance.IsZero() && snap.NearestResistance.GreaterThan(entry) {
			return snap.NearestResistance
		}
		return decimal.Zero
	}
	if !snap.NearestSupport.IsZero() && snap.NearestSupport.LessThan(entry) {
		return snap.NearestSupport
	}
	return decimal.Zero
}
