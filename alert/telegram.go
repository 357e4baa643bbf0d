package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/sentinelquant/tradegate/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM ALERTS - Trade and rejection notifications
// ═══════════════════════════════════════════════════════════════════════════════
//
// Optional: a missing token disables alerts entirely and every call becomes
// a no-op. Send failures are logged and swallowed; alerting never blocks or
// fails a decision.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier pushes decision outcomes to a Telegram chat.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New creates a notifier. An empty token returns a disabled notifier and no
// error.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram alerts disabled")
		return &Notifier{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram alerts enabled")
	return &Notifier{api: api, chatID: chatID}, nil
}

// Enabled reports whether alerts will actually be sent.
func (n *Notifier) Enabled() bool { return n != nil && n.api != nil }

// NotifyOpen announces an accepted and filled open.
func (n *Notifier) NotifyOpen(accountID string, plan *types.OrderPlan) {
	if !n.Enabled() {
		return
	}
	emoji := "📈"
	if plan.Side == types.SideShort {
		emoji = "📉"
	}
	n.send(fmt.Sprintf(
		"%s *OPEN %s* `%s`\nAccount: %s\nEntry: %s  Qty: %s  Lev: %dx\nStop: %s  Target: %s  R:R %s",
		emoji, plan.Side, plan.Symbol, accountID,
		plan.Entry.StringFixed(4), plan.Quantity, plan.Leverage,
		plan.StopLoss.StringFixed(4), plan.TakeProfit.StringFixed(4), plan.RiskReward.StringFixed(2)))
}

// NotifyClose announces a realized close with its P/L.
func (n *Notifier) NotifyClose(accountID string, trade *types.Trade) {
	if !n.Enabled() {
		return
	}
	emoji := "✅"
	if trade.IsLoss() {
		emoji = "🔻"
	}
	n.send(fmt.Sprintf(
		"%s *CLOSE %s* `%s`\nAccount: %s\nExit: %s  Qty: %s\nP/L: %s (%sR)",
		emoji, trade.Side, trade.Symbol, accountID,
		trade.ExitPrice.StringFixed(4), trade.Quantity,
		trade.PnL.StringFixed(2), trade.RMultiple.StringFixed(2)))
}

// NotifyRejection surfaces throttle and risk rejections worth a human look.
func (n *Notifier) NotifyRejection(accountID, symbol string, rej *types.Rejection) {
	if !n.Enabled() {
		return
	}
	if rej.Code != types.RejectThrottleBlocked && rej.Code != types.RejectRiskLimit {
		return
	}
	n.send(fmt.Sprintf("⛔ *REJECTED* `%s`\nAccount: %s\nReason: %s", symbol, accountID, rej.String()))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Failed to send Telegram alert")
	}
}
