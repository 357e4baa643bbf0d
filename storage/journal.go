package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sentinelquant/tradegate/types"
)

// Journal persists decision outcomes, open positions and realized trades so
// the engine can recover its ledgers after a restart.
type Journal struct {
	db *gorm.DB
}

// Models

// DecisionRecord is one pipeline outcome, applied or rejected. Append-only.
type DecisionRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	AccountID  string `gorm:"index"`
	Symbol     string `gorm:"index"`
	Action     string
	Applied    bool
	RejectCode string `gorm:"index"`
	Limit      string
	Detail     string
	Confidence float64
	Reasoning  string
	CreatedAt  time.Time
}

// PositionRecord mirrors one open ledger slot; deleted when the slot closes.
type PositionRecord struct {
	ID             string `gorm:"primaryKey"`
	AccountID      string `gorm:"index"`
	Symbol         string `gorm:"index"`
	Side           string
	EntryPrice     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage       int
	StopLoss       decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit     decimal.Decimal `gorm:"type:decimal(20,8)"`
	InitialRisk    decimal.Decimal `gorm:"type:decimal(20,8)"`
	ReservedMargin decimal.Decimal `gorm:"type:decimal(20,8)"`
	RealizedR      decimal.Decimal `gorm:"type:decimal(10,4)"`
	ClosedQuantity decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status         string
	OpenedAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TradeRecord is one realized close, full or partial.
type TradeRecord struct {
	ID         string `gorm:"primaryKey"`
	AccountID  string `gorm:"index"`
	Symbol     string `gorm:"index"`
	Side       string
	EntryPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,8)"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:decimal(20,8)"`
	RMultiple  decimal.Decimal `gorm:"type:decimal(10,4)"`
	OpenedAt   time.Time
	ClosedAt   time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// New opens the journal. A postgres:// or postgresql:// path selects
// PostgreSQL; anything else is treated as a SQLite file path.
func New(dbPath string) (*Journal, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Journal connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&DecisionRecord{}, &PositionRecord{}, &TradeRecord{}); err != nil {
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Decision operations

// LogDecision appends one pipeline outcome for audit.
func (j *Journal) LogDecision(accountID string, d types.Decision, out types.Outcome) error {
	rec := &DecisionRecord{
		AccountID:  accountID,
		Symbol:     d.Symbol,
		Action:     string(d.Action),
		Applied:    out.Applied,
		Confidence: out.Confidence,
		Reasoning:  out.Reasoning,
	}
	if out.Rejection != nil {
		rec.RejectCode = string(out.Rejection.Code)
		rec.Limit = out.Rejection.Limit
		rec.Detail = out.Rejection.Detail
	}
	return j.db.Create(rec).Error
}

// RecentDecisions returns the latest outcomes for one account.
func (j *Journal) RecentDecisions(accountID string, limit int) ([]DecisionRecord, error) {
	var recs []DecisionRecord
	err := j.db.Where("account_id = ?", accountID).
		Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// Position operations

// SavePosition upserts the persisted mirror of one open slot.
func (j *Journal) SavePosition(accountID string, p types.Position) error {
	rec := &PositionRecord{
		ID:             p.ID,
		AccountID:      accountID,
		Symbol:         p.Symbol,
		Side:           string(p.Side),
		EntryPrice:     p.EntryPrice,
		Quantity:       p.Quantity,
		Leverage:       p.Leverage,
		StopLoss:       p.StopLoss,
		TakeProfit:     p.TakeProfit,
		InitialRisk:    p.InitialRisk,
		ReservedMargin: p.ReservedMargin,
		RealizedR:      p.RealizedR,
		ClosedQuantity: p.ClosedQuantity,
		Status:         string(p.Status),
		OpenedAt:       p.OpenedAt,
	}
	return j.db.Save(rec).Error
}

// DeletePosition removes the mirror once the slot returns to Flat.
func (j *Journal) DeletePosition(accountID, symbol string) error {
	return j.db.Where("account_id = ? AND symbol = ?", accountID, symbol).
		Delete(&PositionRecord{}).Error
}

// OpenPositions loads every persisted slot for one account, for recovery.
func (j *Journal) OpenPositions(accountID string) ([]types.Position, error) {
	var recs []PositionRecord
	if err := j.db.Where("account_id = ?", accountID).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(recs))
	for _, r := range recs {
		out = append(out, types.Position{
			ID:             r.ID,
			Symbol:         r.Symbol,
			Side:           types.Side(r.Side),
			EntryPrice:     r.EntryPrice,
			Quantity:       r.Quantity,
			Leverage:       r.Leverage,
			StopLoss:       r.StopLoss,
			TakeProfit:     r.TakeProfit,
			InitialRisk:    r.InitialRisk,
			ReservedMargin: r.ReservedMargin,
			RealizedR:      r.RealizedR,
			ClosedQuantity: r.ClosedQuantity,
			OpenedAt:       r.OpenedAt,
			Status:         types.PositionStatus(r.Status),
		})
	}
	return out, nil
}

// Trade operations

// SaveTrade appends one realized trade.
func (j *Journal) SaveTrade(accountID string, t types.Trade) error {
	rec := &TradeRecord{
		ID:         t.ID,
		AccountID:  accountID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		PnL:        t.PnL,
		RMultiple:  t.RMultiple,
		OpenedAt:   t.OpenedAt,
		ClosedAt:   t.ClosedAt,
	}
	return j.db.Create(rec).Error
}

// RecentTrades returns the latest realized trades, newest first.
func (j *Journal) RecentTrades(accountID string, limit int) ([]types.Trade, error) {
	var recs []TradeRecord
	err := j.db.Where("account_id = ?", accountID).
		Order("closed_at DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Trade, 0, len(recs))
	for _, r := range recs {
		out = append(out, types.Trade{
			ID:         r.ID,
			Symbol:     r.Symbol,
			Side:       types.Side(r.Side),
			EntryPrice: r.EntryPrice,
			ExitPrice:  r.ExitPrice,
			Quantity:   r.Quantity,
			PnL:        r.PnL,
			RMultiple:  r.RMultiple,
			OpenedAt:   r.OpenedAt,
			ClosedAt:   r.ClosedAt,
		})
	}
	return out, nil
}

// RealizedPnL sums every journaled trade P/L for one account, for restoring
// the cash balance after a restart.
func (j *Journal) RealizedPnL(accountID string) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := j.db.Model(&TradeRecord{}).Where("account_id = ?", accountID).
		Select("COALESCE(SUM(pnl), 0) as total").Scan(&result).Error
	return result.Total, err
}

// Stats aggregates per-account performance counters.
func (j *Journal) Stats(accountID string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var decisionCount int64
	j.db.Model(&DecisionRecord{}).Where("account_id = ?", accountID).Count(&decisionCount)
	stats["total_decisions"] = decisionCount

	var appliedCount int64
	j.db.Model(&DecisionRecord{}).Where("account_id = ? AND applied = ?", accountID, true).Count(&appliedCount)
	stats["applied_decisions"] = appliedCount

	var tradeCount int64
	j.db.Model(&TradeRecord{}).Where("account_id = ?", accountID).Count(&tradeCount)
	stats["total_trades"] = tradeCount

	var winCount int64
	j.db.Model(&TradeRecord{}).Where("account_id = ? AND pnl >= 0", accountID).Count(&winCount)
	stats["winning_trades"] = winCount

	var pnlResult struct {
		Total decimal.Decimal
	}
	j.db.Model(&TradeRecord{}).Where("account_id = ?", accountID).
		Select("COALESCE(SUM(pnl), 0) as total").Scan(&pnlResult)
	stats["total_pnl"] = pnlResult.Total

	type rejectCount struct {
		RejectCode string
		Count      int64
	}
	var rejects []rejectCount
	j.db.Model(&DecisionRecord{}).Where("account_id = ? AND applied = ?", accountID, false).
		Select("reject_code, count(*) as count").Group("reject_code").Scan(&rejects)
	byCode := make(map[string]int64)
	for _, rc := range rejects {
		byCode[rc.RejectCode] = rc.Count
	}
	stats["rejections_by_code"] = byCode

	return stats, nil
}
