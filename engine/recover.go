package engine

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinelquant/tradegate/types"
)

// Recoverer loads persisted state after a restart.
type Recoverer interface {
	OpenPositions(accountID string) ([]types.Position, error)
	RecentTrades(accountID string, limit int) ([]types.Trade, error)
	RealizedPnL(accountID string) (decimal.Decimal, error)
}

// recoveryTradeDepth bounds how much history is replayed into the throttle
// loss-streak counter. The streak pauses at 4, so a short tail suffices.
const recoveryTradeDepth = 50

// Recover reloads every account's open positions, folds journaled realized
// P/L back into the cash balance, and replays recent trades into the
// loss-streak counter. Call once, before the first Submit.
func (e *Engine) Recover(src Recoverer) error {
	for id, a := range e.accounts {
		pnl, err := src.RealizedPnL(id)
		if err != nil {
			return fmt.Errorf("failed to load realized pnl for %s: %w", id, err)
		}
		a.ledger.RestoreRealized(pnl)

		positions, err := src.OpenPositions(id)
		if err != nil {
			return fmt.Errorf("failed to load positions for %s: %w", id, err)
		}
		for _, p := range positions {
			a.ledger.RestorePosition(p)
		}

		trades, err := src.RecentTrades(id, recoveryTradeDepth)
		if err != nil {
			return fmt.Errorf("failed to load trades for %s: %w", id, err)
		}
		// RecentTrades returns newest first; replay in close order.
		sort.Slice(trades, func(i, j int) bool {
			return trades[i].ClosedAt.Before(trades[j].ClosedAt)
		})
		a.ledger.RestoreTrades(trades)
		for _, t := range trades {
			a.throttle.RecordTrade(t)
		}

		if len(positions) > 0 || len(trades) > 0 || !pnl.IsZero() {
			log.Info().
				Str("account", id).
				Int("positions", len(positions)).
				Int("trades", len(trades)).
				Str("realized_pnl", pnl.StringFixed(2)).
				Int("loss_streak", a.throttle.LossStreak()).
				Msg("🔄 Account state recovered")
		}
	}
	return nil
}
