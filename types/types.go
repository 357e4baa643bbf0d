package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Action is a proposed trading action from the external reasoning process.
type Action string

const (
	ActionOpenLong   Action = "open_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
	ActionHold       Action = "hold"
	ActionWait       Action = "wait"
)

// IsOpen reports whether the action opens new exposure.
func (a Action) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// IsClose reports whether the action reduces exposure.
func (a Action) IsClose() bool {
	return a == ActionCloseLong || a == ActionCloseShort
}

// IsNoop reports whether the action mutates nothing.
func (a Action) IsNoop() bool {
	return a == ActionHold || a == ActionWait
}

// Valid reports whether the action is one of the six known verbs.
func (a Action) Valid() bool {
	return a.IsOpen() || a.IsClose() || a.IsNoop()
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Side maps an open/close action to the position side it targets.
func (a Action) Side() Side {
	switch a {
	case ActionOpenLong, ActionCloseLong:
		return SideLong
	case ActionOpenShort, ActionCloseShort:
		return SideShort
	}
	return ""
}

// PositionStatus is the lifecycle state of a position slot.
type PositionStatus string

const (
	StatusOpening         PositionStatus = "opening"
	StatusOpen            PositionStatus = "open"
	StatusPartiallyClosed PositionStatus = "partially_closed"
	StatusClosed          PositionStatus = "closed"
)

// Decision is one proposed action from the external reasoning collaborator.
// Reasoning and Confidence are audit passthrough, never interpreted.
type Decision struct {
	Action     Action  `json:"action"`
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`

	// Open parameters
	Leverage        int             `json:"leverage,omitempty"`
	PositionSizeUSD decimal.Decimal `json:"position_size_usd,omitempty"`
	StopLoss        decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit      decimal.Decimal `json:"take_profit,omitempty"`

	// Close parameters; absence of both means full close.
	CloseQuantity    *decimal.Decimal `json:"close_quantity,omitempty"`
	CloseQuantityPct *decimal.Decimal `json:"close_quantity_pct,omitempty"`
}

// Position is one open slot in the ledger, keyed by symbol within an account.
type Position struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Leverage   int             `json:"leverage"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	OpenedAt   time.Time       `json:"opened_at"`
	Status     PositionStatus  `json:"status"`

	// InitialRisk is the entry-to-stop distance fixed at open (the 1R
	// unit). Stop amendments never change it.
	InitialRisk decimal.Decimal `json:"initial_risk"`

	// ReservedMargin is the collateral actually held for this position,
	// summed across pyramid adds and released pro-rata on closes.
	ReservedMargin decimal.Decimal `json:"reserved_margin"`

	// Realized bookkeeping across partial closes: quantity-weighted R of
	// the closed portions and how much quantity has been closed so far.
	RealizedR      decimal.Decimal `json:"realized_r"`
	ClosedQuantity decimal.Decimal `json:"closed_quantity"`
}

// Notional returns the position value in quote currency at entry.
func (p *Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// Margin returns the collateral the position consumes: the reserved amount
// when tracked, derived from notional otherwise.
func (p *Position) Margin() decimal.Decimal {
	if !p.ReservedMargin.IsZero() {
		return p.ReservedMargin
	}
	if p.Leverage <= 0 {
		return p.Notional()
	}
	return p.Notional().Div(decimal.NewFromInt(int64(p.Leverage)))
}

// UnrealizedPnL returns mark-to-market profit at the given price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// RiskDistance returns the initial entry-to-stop distance (1R unit). The
// current stop is only consulted for positions restored without one, so a
// later move to breakeven never collapses the unit to zero.
func (p *Position) RiskDistance() decimal.Decimal {
	if !p.InitialRisk.IsZero() {
		return p.InitialRisk
	}
	return p.EntryPrice.Sub(p.StopLoss).Abs()
}

// RMultiple expresses unrealized profit at mark in units of initial risk.
func (p *Position) RMultiple(mark decimal.Decimal) decimal.Decimal {
	risk := p.RiskDistance()
	if risk.IsZero() {
		return decimal.Zero
	}
	move := mark.Sub(p.EntryPrice)
	if p.Side == SideShort {
		move = move.Neg()
	}
	return move.Div(risk)
}

// Trade is the immutable record appended when a position fully or partially
// closes. Feeds throttle loss-streak and frequency counters.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	PnL        decimal.Decimal `json:"pnl"`
	RMultiple  decimal.Decimal `json:"r_multiple"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// IsLoss reports whether the trade realized a negative P/L.
func (t Trade) IsLoss() bool {
	return t.PnL.IsNegative()
}

// OrderPlan is the normalized order instruction for an accepted open,
// ready for the execution collaborator.
type OrderPlan struct {
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Leverage        int             `json:"leverage"`
	PositionSizeUSD decimal.Decimal `json:"position_size_usd"` // margin
	Quantity        decimal.Decimal `json:"quantity"`
	Entry           decimal.Decimal `json:"entry"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit"`
	RiskReward      decimal.Decimal `json:"risk_reward"`
}

// Notional returns quantity × entry.
func (o *OrderPlan) Notional() decimal.Decimal {
	return o.Entry.Mul(o.Quantity)
}

// CloseInstruction is the normalized result of an accepted close.
type CloseInstruction struct {
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	FullyClosed bool            `json:"fully_closed"`
}
