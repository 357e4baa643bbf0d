package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelquant/tradegate/config"
	"github.com/sentinelquant/tradegate/ledger"
	"github.com/sentinelquant/tradegate/marketdata"
	"github.com/sentinelquant/tradegate/regime"
	"github.com/sentinelquant/tradegate/risksizer"
	"github.com/sentinelquant/tradegate/signalscore"
	"github.com/sentinelquant/tradegate/throttle"
	"github.com/sentinelquant/tradegate/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION ENGINE - Pipeline orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// One decision at a time per account:
//
//   validate → regime → signal → risk → throttle → ledger
//
// Each stage either refines the decision or terminates it with a rejection.
// Every submission resolves to exactly one of {applied, rejected}; a failed
// or timed-out fill reverts the reservation so no headroom leaks. Different
// accounts never contend on a lock.
//
// ═══════════════════════════════════════════════════════════════════════════════

// FillAcknowledger confirms an order fill with the external execution
// collaborator. A nil acknowledger (dry run) confirms immediately.
type FillAcknowledger interface {
	AwaitFill(ctx context.Context, accountID string, plan *types.OrderPlan) error
}

// Journal persists outcomes and ledger state. All methods are best-effort
// from the engine's point of view; persistence errors are logged, never
// surfaced into the outcome.
type Journal interface {
	LogDecision(accountID string, d types.Decision, out types.Outcome) error
	SavePosition(accountID string, p types.Position) error
	DeletePosition(accountID, symbol string) error
	SaveTrade(accountID string, t types.Trade) error
}

// Notifier pushes human-facing alerts. May be nil.
type Notifier interface {
	NotifyOpen(accountID string, plan *types.OrderPlan)
	NotifyClose(accountID string, trade *types.Trade)
	NotifyRejection(accountID, symbol string, rej *types.Rejection)
}

// Submission is one decision cycle for one account.
type Submission struct {
	AccountID string                  `json:"account_id"`
	Decision  types.Decision          `json:"decision"`
	Market    marketdata.TimeframeSet `json:"market"`
	Funding   marketdata.FundingInfo  `json:"funding"`
}

// account pairs the per-account state with the lock that serializes its
// decision cycles.
type account struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	throttle *throttle.Controller
}

// Stats are process-lifetime counters, per reject code.
type Stats struct {
	Submitted int64            `json:"submitted"`
	Applied   int64            `json:"applied"`
	Rejected  map[string]int64 `json:"rejected"`
}

// Engine runs the full decision pipeline.
type Engine struct {
	cfg    *config.Config
	scorer *signalscore.Scorer
	sizer  *risksizer.Sizer

	journal  Journal
	notifier Notifier
	fills    FillAcknowledger

	accounts map[string]*account

	statsMu sync.Mutex
	stats   Stats
}

// New builds an engine serving the configured accounts. journal, notifier
// and fills may each be nil.
func New(cfg *config.Config, journal Journal, notifier Notifier, fills FillAcknowledger) *Engine {
	log.Info().
		Strs("accounts", cfg.Accounts).
		Int("max_positions", cfg.Risk.MaxPositions).
		Int("max_leverage", cfg.Risk.MaxLeverage).
		Str("min_risk_reward", cfg.Risk.MinRiskReward.String()).
		Int("opens_per_hour", cfg.Throttle.MaxPerHour).
		Int("opens_per_day", cfg.Throttle.MaxPerDay).
		Msg("Decision engine configured")
	return &Engine{
		cfg:    cfg,
		scorer: signalscore.New(nil),
		sizer:  risksizer.New(cfg.Risk, cfg.MinQuantity),
		accounts: lo.SliceToMap(cfg.Accounts, func(id string) (string, *account) {
			return id, &account{
				ledger:   ledger.New(id, cfg.InitialBalance),
				throttle: throttle.New(cfg.Throttle),
			}
		}),
		journal:  journal,
		notifier: notifier,
		fills:    fills,
		stats:    Stats{Rejected: make(map[string]int64)},
	}
}

// Ledger exposes one account's ledger, mainly for recovery and tests.
func (e *Engine) Ledger(accountID string) *ledger.Ledger {
	if a, ok := e.accounts[accountID]; ok {
		return a.ledger
	}
	return nil
}

// Throttle exposes one account's throttle controller, for operator
// overrides and recovery.
func (e *Engine) Throttle(accountID string) *throttle.Controller {
	if a, ok := e.accounts[accountID]; ok {
		return a.throttle
	}
	return nil
}

// Stats returns a copy of the lifetime counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := Stats{
		Submitted: e.stats.Submitted,
		Applied:   e.stats.Applied,
		Rejected:  make(map[string]int64, len(e.stats.Rejected)),
	}
	for k, v := range e.stats.Rejected {
		out.Rejected[k] = v
	}
	return out
}

// Submit runs one decision through the pipeline. Cycles for the same
// account are serialized; different accounts proceed in parallel.
func (e *Engine) Submit(ctx context.Context, sub Submission) types.Outcome {
	d := sub.Decision

	out := e.process(ctx, sub)

	e.record(sub.AccountID, d, out)
	return out
}

// SubmitBatch runs one cycle per account concurrently and returns outcomes
// in input order.
func (e *Engine) SubmitBatch(ctx context.Context, subs []Submission) []types.Outcome {
	outs := make([]types.Outcome, len(subs))
	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			outs[i] = e.Submit(ctx, sub)
			return nil
		})
	}
	g.Wait() // goroutines never return errors; Wait just joins them
	return outs
}

// Advisories evaluates profit-management triggers for one account at the
// given marks. Recommendations only; acting on one is a new Submit.
func (e *Engine) Advisories(accountID string, marks map[string]decimal.Decimal) []ledger.Advisory {
	a, ok := e.accounts[accountID]
	if !ok {
		return nil
	}
	return a.ledger.Advisories(marks)
}

// Performance summarizes one account's realized results.
type Performance struct {
	Trades     int             `json:"trades"`
	Wins       int             `json:"wins"`
	Losses     int             `json:"losses"`
	TotalPnL   decimal.Decimal `json:"total_pnl"`
	LossStreak int             `json:"loss_streak"`
}

// Performance derives win/loss counters and realized P/L from one account's
// trade history.
func (e *Engine) Performance(accountID string) Performance {
	a, ok := e.accounts[accountID]
	if !ok {
		return Performance{}
	}
	trades := a.ledger.Trades()
	losses := lo.CountBy(trades, types.Trade.IsLoss)
	return Performance{
		Trades: len(trades),
		Wins:   len(trades) - losses,
		Losses: losses,
		TotalPnL: lo.Reduce(trades, func(sum decimal.Decimal, t types.Trade, _ int) decimal.Decimal {
			return sum.Add(t.PnL)
		}, decimal.Zero),
		LossStreak: a.throttle.LossStreak(),
	}
}

func (e *Engine) process(ctx context.Context, sub Submission) types.Outcome {
	d := sub.Decision

	if rej := validate(d); rej != nil {
		return types.Rejected(d, rej)
	}

	a, ok := e.accounts[sub.AccountID]
	if !ok {
		return types.Rejected(d, &types.Rejection{
			Code:   types.RejectMalformedDecision,
			Detail: fmt.Sprintf("unknown account %q", sub.AccountID),
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case d.Action.IsNoop():
		return types.Outcome{Applied: true, Confidence: d.Confidence, Reasoning: d.Reasoning}
	case d.Action.IsClose():
		return e.processClose(a, sub)
	default:
		return e.processOpen(ctx, a, sub)
	}
}

// processClose reduces or flattens a position. Closes skip the signal and
// throttle gates entirely: risk reduction is always allowed.
func (e *Engine) processClose(a *account, sub Submission) types.Outcome {
	d := sub.Decision

	exit := sub.Market.EntryPrice()
	instr, trade, rej := a.ledger.Close(d.Symbol, d.Action.Side(), d.CloseQuantity, d.CloseQuantityPct, exit)
	if rej != nil {
		return types.Rejected(d, rej)
	}

	a.throttle.RecordTrade(*trade)

	if e.journal != nil {
		if err := e.journal.SaveTrade(a.ledger.AccountID(), *trade); err != nil {
			log.Error().Err(err).Msg("Failed to persist trade")
		}
		if instr.FullyClosed {
			if err := e.journal.DeletePosition(a.ledger.AccountID(), d.Symbol); err != nil {
				log.Error().Err(err).Msg("Failed to delete persisted position")
			}
		} else if p := a.ledger.Position(d.Symbol); p != nil {
			if err := e.journal.SavePosition(a.ledger.AccountID(), *p); err != nil {
				log.Error().Err(err).Msg("Failed to persist position")
			}
		}
	}
	if e.notifier != nil {
		e.notifier.NotifyClose(a.ledger.AccountID(), trade)
	}

	log.Info().
		Str("account", a.ledger.AccountID()).
		Str("symbol", d.Symbol).
		Str("pnl", trade.PnL.StringFixed(2)).
		Bool("full", instr.FullyClosed).
		Msg("💰 Position closed")

	return types.Outcome{Applied: true, Close: instr, Confidence: d.Confidence, Reasoning: d.Reasoning}
}

// processOpen runs the full gate sequence for a new or pyramided entry.
func (e *Engine) processOpen(ctx context.Context, a *account, sub Submission) types.Outcome {
	d := sub.Decision
	side := d.Action.Side()
	entry := sub.Market.EntryPrice()

	verdict := regime.Classify(sub.Market)
	if verdict.Ambiguous {
		log.Debug().Str("symbol", d.Symbol).Msg("Higher timeframes conflict, treating as ranging")
	}

	score := e.scorer.Score(side, verdict, sub.Market, sub.Funding)
	if !score.Accept {
		return types.Rejected(d, &types.Rejection{
			Code:   types.RejectSignalUnconfirmed,
			Detail: score.Reason,
		})
	}
	confidence := lo.Clamp(d.Confidence+score.ConfidenceAdj, 0, 1)

	if rej := a.ledger.CheckIncrease(d.Symbol, side, entry); rej != nil {
		return types.Rejected(d, rej)
	}

	acct := risksizer.AccountView{
		Equity:           a.ledger.Equity(),
		AvailableBalance: a.ledger.AvailableBalance(),
		OpenPositions:    a.ledger.OpenCount(),
		SymbolNotional:   a.ledger.SymbolNotional(d.Symbol),
		TotalNotional:    a.ledger.TotalNotional(),
	}
	plan, rej := e.sizer.Plan(d, entry, sub.Market.H1, acct, score.LeverageTierShift)
	if rej != nil {
		if e.notifier != nil {
			e.notifier.NotifyRejection(a.ledger.AccountID(), d.Symbol, rej)
		}
		return types.Rejected(d, rej)
	}

	if rej := a.throttle.CheckOpen(); rej != nil {
		if e.notifier != nil {
			e.notifier.NotifyRejection(a.ledger.AccountID(), d.Symbol, rej)
		}
		return types.Rejected(d, rej)
	}

	if _, rej := a.ledger.Reserve(plan); rej != nil {
		return types.Rejected(d, rej)
	}

	if err := e.awaitFill(ctx, a.ledger.AccountID(), plan); err != nil {
		a.ledger.Revert(plan.Symbol)
		return types.Rejected(d, &types.Rejection{
			Code:   types.RejectExecutionFailure,
			Detail: fmt.Sprintf("fill not confirmed: %v", err),
		})
	}

	pos, rej := a.ledger.ConfirmFill(plan.Symbol)
	if rej != nil {
		return types.Rejected(d, rej)
	}
	a.throttle.RecordOpen()

	if e.journal != nil {
		if err := e.journal.SavePosition(a.ledger.AccountID(), *pos); err != nil {
			log.Error().Err(err).Msg("Failed to persist position")
		}
	}
	if e.notifier != nil {
		e.notifier.NotifyOpen(a.ledger.AccountID(), plan)
	}

	log.Info().
		Str("account", a.ledger.AccountID()).
		Str("symbol", plan.Symbol).
		Str("side", string(plan.Side)).
		Int("leverage", plan.Leverage).
		Str("margin", plan.PositionSizeUSD.StringFixed(2)).
		Str("rr", plan.RiskReward.StringFixed(2)).
		Bool("reversal", score.Reversal).
		Msg("🚀 Position opened")

	return types.Outcome{Applied: true, Order: plan, Confidence: confidence, Reasoning: d.Reasoning}
}

// awaitFill blocks on the external fill acknowledgement up to the
// configured timeout. Nil acknowledger confirms instantly.
func (e *Engine) awaitFill(ctx context.Context, accountID string, plan *types.OrderPlan) error {
	if e.fills == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FillAckTimeout)
	defer cancel()
	return e.fills.AwaitFill(ctx, accountID, plan)
}

// validate rejects structurally broken decisions before any state is
// touched. Fail-closed and idempotent: the same input always yields the
// same rejection.
func validate(d types.Decision) *types.Rejection {
	malformed := func(detail string) *types.Rejection {
		return &types.Rejection{Code: types.RejectMalformedDecision, Detail: detail}
	}
	if !d.Action.Valid() {
		return malformed(fmt.Sprintf("unknown action %q", d.Action))
	}
	if d.Symbol == "" && !d.Action.IsNoop() {
		return malformed("missing symbol")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return malformed(fmt.Sprintf("confidence %v outside [0,1]", d.Confidence))
	}
	if d.Action.IsOpen() {
		if d.Leverage < 1 {
			return malformed("leverage must be >= 1")
		}
		if d.PositionSizeUSD.LessThanOrEqual(decimal.Zero) {
			return malformed("position_size_usd must be positive")
		}
	}
	if d.Action.IsClose() {
		if d.CloseQuantity != nil && d.CloseQuantity.LessThanOrEqual(decimal.Zero) {
			return malformed("close_quantity must be positive")
		}
		if d.CloseQuantityPct != nil && d.CloseQuantityPct.LessThanOrEqual(decimal.Zero) {
			return malformed("close_quantity_pct must be positive")
		}
	}
	return nil
}

// record updates counters and journals the outcome.
func (e *Engine) record(accountID string, d types.Decision, out types.Outcome) {
	e.statsMu.Lock()
	e.stats.Submitted++
	if out.Applied {
		e.stats.Applied++
	} else if out.Rejection != nil {
		e.stats.Rejected[string(out.Rejection.Code)]++
	}
	e.statsMu.Unlock()

	if !out.Applied && out.Rejection != nil {
		log.Warn().
			Str("account", accountID).
			Str("symbol", d.Symbol).
			Str("action", string(d.Action)).
			Str("reason", out.Rejection.Reason()).
			Msg("⛔ Decision rejected")
	}

	if e.journal != nil {
		if err := e.journal.LogDecision(accountID, d, out); err != nil {
			log.Error().Err(err).Msg("Failed to journal decision")
		}
	}
}
