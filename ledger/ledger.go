package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sentinelquant/tradegate/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION LEDGER - Per-account state machine and trade history
// ═══════════════════════════════════════════════════════════════════════════════
//
// One ledger per account, one slot per symbol:
//
//   Flat → Opening → Open → PartiallyClosed → Closed → Flat
//
// Margin is reserved at Opening and either committed on fill confirmation or
// refunded on revert, so a dead order never holds headroom. Trades are
// append-only. The no-average-down rule lives here so it holds no matter
// which path tries to mutate the slot.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	one = decimal.NewFromInt(1)

	// dustFraction is the smallest share of an open position a close may
	// realize. Below it the instruction is treated as malformed.
	dustFraction = decimal.New(1, -6)
)

// Ledger holds all mutable position state for one account.
type Ledger struct {
	mu sync.RWMutex

	accountID string
	balance   decimal.Decimal // free cash, margin already subtracted

	positions map[string]*types.Position // open slots, keyed by symbol
	pending   map[string]*pendingOpen    // Opening reservations, keyed by symbol
	trades    []types.Trade

	now func() time.Time
}

type pendingOpen struct {
	position *types.Position
	margin   decimal.Decimal
}

// New creates a ledger for one account with its starting cash balance.
func New(accountID string, balance decimal.Decimal) *Ledger {
	return &Ledger{
		accountID: accountID,
		balance:   balance,
		positions: make(map[string]*types.Position),
		pending:   make(map[string]*pendingOpen),
		now:       time.Now,
	}
}

// AccountID returns the owning account.
func (l *Ledger) AccountID() string { return l.accountID }

// ───────────────────────────────────────────────────────────────────────────────
// Read views
// ───────────────────────────────────────────────────────────────────────────────

// AvailableBalance is free cash after margin reservations.
func (l *Ledger) AvailableBalance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// Equity is cash plus committed and reserved margin, at entry prices.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	eq := l.balance
	for _, p := range l.positions {
		eq = eq.Add(p.Margin())
	}
	for _, r := range l.pending {
		eq = eq.Add(r.margin)
	}
	return eq
}

// OpenCount counts slots holding exposure, reservations included.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions) + len(l.pending)
}

// SymbolNotional is the entry notional currently held on one symbol,
// reservations included.
func (l *Ledger) SymbolNotional(symbol string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := decimal.Zero
	if p, ok := l.positions[symbol]; ok {
		n = n.Add(p.Notional())
	}
	if r, ok := l.pending[symbol]; ok {
		n = n.Add(r.position.Notional())
	}
	return n
}

// TotalNotional is the entry notional across all slots, reservations
// included.
func (l *Ledger) TotalNotional() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := decimal.Zero
	for _, p := range l.positions {
		n = n.Add(p.Notional())
	}
	for _, r := range l.pending {
		n = n.Add(r.position.Notional())
	}
	return n
}

// Position returns a copy of the open slot for a symbol, nil when flat.
func (l *Ledger) Position(symbol string) *types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[symbol]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Positions returns copies of every open slot.
func (l *Ledger) Positions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Trades returns the append-only trade history, oldest first.
func (l *Ledger) Trades() []types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// ───────────────────────────────────────────────────────────────────────────────
// Open path: Reserve → ConfirmFill | Revert
// ───────────────────────────────────────────────────────────────────────────────

// CheckIncrease enforces the no-average-down rule for a proposed open while
// a slot already holds the symbol. Returns nil when the slot is flat or the
// add is a permitted pyramid (same side, unrealized P/L at mark ≥ 0).
func (l *Ledger) CheckIncrease(symbol string, side types.Side, mark decimal.Decimal) *types.Rejection {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.pending[symbol]; ok {
		return &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("%s has a fill pending, slot is busy", symbol),
		}
	}
	p, ok := l.positions[symbol]
	if !ok {
		return nil
	}
	if p.Side != side {
		return &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("%s already open %s, close it before reversing", symbol, p.Side),
		}
	}
	if mark.IsZero() {
		return &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("cannot value existing %s position, add refused", symbol),
		}
	}
	if p.UnrealizedPnL(mark).IsNegative() {
		return &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("%s %s is underwater, averaging down refused", symbol, p.Side),
		}
	}
	return nil
}

// Reserve takes margin and the symbol slot for an accepted order plan,
// moving the slot to Opening until the fill is confirmed or reverted.
func (l *Ledger) Reserve(plan *types.OrderPlan) (*types.Position, *types.Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[plan.Symbol]; ok {
		return nil, &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("%s has a fill pending, slot is busy", plan.Symbol),
		}
	}
	if p, ok := l.positions[plan.Symbol]; ok && p.Side != plan.Side {
		return nil, &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("%s already open %s", plan.Symbol, p.Side),
		}
	}

	margin := plan.PositionSizeUSD
	if margin.GreaterThan(l.balance) {
		return nil, types.RejectLimit(types.LimitSingleTradePct,
			fmt.Sprintf("margin %s exceeds free balance %s", margin.StringFixed(2), l.balance.StringFixed(2)))
	}

	pos := &types.Position{
		ID:             uuid.New().String(),
		Symbol:         plan.Symbol,
		Side:           plan.Side,
		EntryPrice:     plan.Entry,
		Quantity:       plan.Quantity,
		Leverage:       plan.Leverage,
		StopLoss:       plan.StopLoss,
		TakeProfit:     plan.TakeProfit,
		OpenedAt:       l.now(),
		Status:         types.StatusOpening,
		InitialRisk:    plan.Entry.Sub(plan.StopLoss).Abs(),
		ReservedMargin: margin,
	}

	l.balance = l.balance.Sub(margin)
	l.pending[plan.Symbol] = &pendingOpen{position: pos, margin: margin}

	cp := *pos
	return &cp, nil
}

// ConfirmFill commits a reservation: the slot becomes Open, or merges into
// an existing same-side position at the weighted average entry.
func (l *Ledger) ConfirmFill(symbol string) (*types.Position, *types.Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.pending[symbol]
	if !ok {
		return nil, &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("no pending open for %s", symbol),
		}
	}
	delete(l.pending, symbol)

	if existing, ok := l.positions[symbol]; ok {
		// Pyramid add: average the entry, sum the quantity and reserved
		// margin, adopt the new protective levels (the add was sized
		// against them). The 1R unit is rebased on the merged entry so
		// later triggers measure the combined position.
		add := r.position
		totalQty := existing.Quantity.Add(add.Quantity)
		existing.EntryPrice = existing.EntryPrice.Mul(existing.Quantity).
			Add(add.EntryPrice.Mul(add.Quantity)).Div(totalQty)
		existing.Quantity = totalQty
		existing.StopLoss = add.StopLoss
		existing.TakeProfit = add.TakeProfit
		existing.InitialRisk = existing.EntryPrice.Sub(add.StopLoss).Abs()
		existing.ReservedMargin = existing.ReservedMargin.Add(r.margin)
		if add.Leverage > existing.Leverage {
			existing.Leverage = add.Leverage
		}
		existing.Status = types.StatusOpen
		cp := *existing
		return &cp, nil
	}

	r.position.Status = types.StatusOpen
	l.positions[symbol] = r.position
	cp := *r.position
	return &cp, nil
}

// Revert cancels a reservation after a fill timeout or rejection, refunding
// the reserved margin and returning the slot to Flat.
func (l *Ledger) Revert(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.pending[symbol]
	if !ok {
		return false
	}
	delete(l.pending, symbol)
	l.balance = l.balance.Add(r.margin)
	return true
}

// ───────────────────────────────────────────────────────────────────────────────
// Close path
// ───────────────────────────────────────────────────────────────────────────────

// Close reduces or flattens the slot at the given exit price. A nil
// quantity and nil pct means full close; pct accepts 0-1 or 0-100 scales.
// Returns the instruction and, when quantity realizes, the appended trade.
func (l *Ledger) Close(symbol string, side types.Side, quantity, pct *decimal.Decimal, exit decimal.Decimal) (*types.CloseInstruction, *types.Trade, *types.Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return nil, nil, &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("no open position on %s", symbol),
		}
	}
	if p.Side != side {
		return nil, nil, &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("%s is open %s, not %s", symbol, p.Side, side),
		}
	}
	if exit.IsZero() || exit.IsNegative() {
		return nil, nil, &types.Rejection{
			Code:   types.RejectMalformedDecision,
			Detail: "no usable exit price",
		}
	}

	closeQty, rej := resolveCloseQuantity(p.Quantity, quantity, pct)
	if rej != nil {
		return nil, nil, rej
	}
	// A close too small to matter must not realize a trade: a dust loss
	// would still advance the loss-streak counter.
	if closeQty.LessThan(p.Quantity.Mul(dustFraction)) {
		return nil, nil, &types.Rejection{
			Code:   types.RejectMalformedDecision,
			Detail: fmt.Sprintf("close quantity %s is below the %s dust floor", closeQty, p.Quantity.Mul(dustFraction)),
		}
	}
	full := closeQty.GreaterThanOrEqual(p.Quantity)
	if full {
		closeQty = p.Quantity
	}

	trade := l.realize(p, closeQty, exit)

	if full {
		delete(l.positions, symbol)
	} else {
		p.Quantity = p.Quantity.Sub(closeQty)
		p.Status = types.StatusPartiallyClosed
	}

	return &types.CloseInstruction{
		Symbol:      symbol,
		Side:        side,
		Quantity:    closeQty,
		FullyClosed: full,
	}, trade, nil
}

// realize books the closed quantity: the reserved margin is released
// pro-rata by quantity, P/L goes to cash, the trade is appended. Called
// before the slot quantity is reduced; callers hold the lock.
func (l *Ledger) realize(p *types.Position, qty, exit decimal.Decimal) *types.Trade {
	pnl := exit.Sub(p.EntryPrice)
	if p.Side == types.SideShort {
		pnl = pnl.Neg()
	}
	pnl = pnl.Mul(qty)

	marginShare := p.Margin().Mul(qty).Div(p.Quantity)
	p.ReservedMargin = p.Margin().Sub(marginShare)
	l.balance = l.balance.Add(marginShare).Add(pnl)

	rm := p.RMultiple(exit)
	closed := p.ClosedQuantity.Add(qty)
	p.RealizedR = p.RealizedR.Mul(p.ClosedQuantity).Add(rm.Mul(qty)).Div(closed)
	p.ClosedQuantity = closed

	trade := types.Trade{
		ID:         uuid.New().String(),
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exit,
		Quantity:   qty,
		PnL:        pnl,
		RMultiple:  rm,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   l.now(),
	}
	l.trades = append(l.trades, trade)
	return &trade
}

// resolveCloseQuantity normalizes the three close forms. pct tolerates both
// fraction (0.5) and percent (50) scales.
func resolveCloseQuantity(openQty decimal.Decimal, quantity, pct *decimal.Decimal) (decimal.Decimal, *types.Rejection) {
	switch {
	case quantity != nil:
		if quantity.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, &types.Rejection{
				Code:   types.RejectMalformedDecision,
				Detail: "close_quantity must be positive",
			}
		}
		return *quantity, nil
	case pct != nil:
		f := *pct
		if f.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, &types.Rejection{
				Code:   types.RejectMalformedDecision,
				Detail: "close_quantity_pct must be positive",
			}
		}
		if f.GreaterThan(one) {
			f = f.Div(decimal.NewFromInt(100))
		}
		// Anything still above 100% closes everything.
		if f.GreaterThan(one) {
			f = one
		}
		return openQty.Mul(f), nil
	}
	return openQty, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Amendments and advisories
// ───────────────────────────────────────────────────────────────────────────────

// MoveStop tightens the protective stop. Moves that widen risk are refused.
func (l *Ledger) MoveStop(symbol string, newStop decimal.Decimal) *types.Rejection {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("no open position on %s", symbol),
		}
	}
	worse := (p.Side == types.SideLong && newStop.LessThan(p.StopLoss)) ||
		(p.Side == types.SideShort && newStop.GreaterThan(p.StopLoss))
	if worse {
		return &types.Rejection{
			Code:   types.RejectInvalidTransition,
			Detail: fmt.Sprintf("stop %s would widen risk on %s", newStop, symbol),
		}
	}
	p.StopLoss = newStop
	return nil
}

// AdvisoryKind names a profit-management trigger.
type AdvisoryKind string

const (
	AdviseBreakeven    AdvisoryKind = "move_stop_breakeven" // ≥ 1R
	AdvisePartialClose AdvisoryKind = "partial_close"       // ≥ 2R
	AdviseTakeRunner   AdvisoryKind = "take_runner"         // ≥ 3R
)

// Advisory is a recommendation only; acting on it still goes through the
// normal decision pipeline.
type Advisory struct {
	Symbol    string          `json:"symbol"`
	Kind      AdvisoryKind    `json:"kind"`
	RMultiple decimal.Decimal `json:"r_multiple"`
}

// Advisories evaluates the R-multiple triggers for every open slot at the
// given marks (symbol → price). Slots without a mark are skipped.
func (l *Ledger) Advisories(marks map[string]decimal.Decimal) []Advisory {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Advisory
	for sym, p := range l.positions {
		mark, ok := marks[sym]
		if !ok || mark.IsZero() || p.RiskDistance().IsZero() {
			continue
		}
		r := p.RMultiple(mark)
		switch {
		case r.GreaterThanOrEqual(decimal.NewFromInt(3)):
			out = append(out, Advisory{Symbol: sym, Kind: AdviseTakeRunner, RMultiple: r})
		case r.GreaterThanOrEqual(decimal.NewFromInt(2)):
			out = append(out, Advisory{Symbol: sym, Kind: AdvisePartialClose, RMultiple: r})
		case r.GreaterThanOrEqual(one) && !stopAtBreakeven(p):
			out = append(out, Advisory{Symbol: sym, Kind: AdviseBreakeven, RMultiple: r})
		}
	}
	return out
}

func stopAtBreakeven(p *types.Position) bool {
	if p.Side == types.SideLong {
		return p.StopLoss.GreaterThanOrEqual(p.EntryPrice)
	}
	return p.StopLoss.LessThanOrEqual(p.EntryPrice)
}

// ───────────────────────────────────────────────────────────────────────────────
// Crash recovery
// ───────────────────────────────────────────────────────────────────────────────

// RestorePosition reinstates an open slot loaded from storage. Reserved
// margin is deducted from the balance the ledger was constructed with;
// records predating margin tracking fall back to the derived amount.
func (l *Ledger) RestorePosition(p types.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p.Status = types.StatusOpen
	if p.ReservedMargin.IsZero() {
		p.ReservedMargin = p.Margin()
	}
	cp := p
	l.positions[p.Symbol] = &cp
	l.balance = l.balance.Sub(cp.ReservedMargin)
}

// RestoreRealized folds previously realized P/L back into the cash balance,
// so a restart does not reset the account to its configured starting cash.
func (l *Ledger) RestoreRealized(pnl decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(pnl)
}

// RestoreTrades reloads the trade history, oldest first.
func (l *Ledger) RestoreTrades(trades []types.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, trades...)
}
