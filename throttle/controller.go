package throttle

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentinelquant/tradegate/config"
	"github.com/sentinelquant/tradegate/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// THROTTLE CONTROLLER - Per-account frequency and loss-streak gate
// ═══════════════════════════════════════════════════════════════════════════════
//
// One controller per account; state is never shared across accounts. Only
// opens are gated. Closes go straight through: reducing risk is always
// allowed, including during a loss-streak pause.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Controller tracks rolling open timestamps and the consecutive-loss
// counter for one account.
type Controller struct {
	mu  sync.Mutex
	cfg config.ThrottleConfig

	opens      []time.Time // accepted opens, oldest first
	lossStreak int

	now func() time.Time
}

// New builds a controller for one account.
func New(cfg config.ThrottleConfig) *Controller {
	return &Controller{cfg: cfg, now: time.Now}
}

// CheckOpen gates a new open. Returns nil when allowed, otherwise a
// throttle rejection with the remaining cooldown.
func (c *Controller) CheckOpen() *types.Rejection {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)

	if c.lossStreak >= c.cfg.LossStreakPause {
		return &types.Rejection{
			Code:   types.RejectThrottleBlocked,
			Detail: fmt.Sprintf("%d consecutive losses, paused until a winning trade", c.lossStreak),
		}
	}

	if n := c.countSince(now.Add(-time.Hour)); n >= c.cfg.MaxPerHour {
		return c.blocked(now, time.Hour, n, c.cfg.MaxPerHour)
	}
	if n := len(c.opens); n >= c.cfg.MaxPerDay {
		return c.blocked(now, 24*time.Hour, n, c.cfg.MaxPerDay)
	}
	return nil
}

// RecordOpen stamps an accepted open. Call only after the full pipeline
// accepted the decision.
func (c *Controller) RecordOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.prune(now)
	c.opens = append(c.opens, now)
}

// RecordTrade updates the consecutive-loss counter from a realized trade.
// A win resets the streak; a loss extends it.
func (c *Controller) RecordTrade(t types.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.IsLoss() {
		c.lossStreak++
	} else {
		c.lossStreak = 0
	}
}

// ClearLossStreak is the operator override that lifts a loss-streak pause.
func (c *Controller) ClearLossStreak() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lossStreak = 0
}

// LossStreak returns the current consecutive-loss count.
func (c *Controller) LossStreak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lossStreak
}

// OpensInWindow counts accepted opens in the trailing window.
func (c *Controller) OpensInWindow(window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.prune(now)
	return c.countSince(now.Add(-window))
}

// prune drops timestamps older than the 24h window. Callers hold the lock.
func (c *Controller) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(c.opens) && c.opens[i].Before(cutoff) {
		i++
	}
	c.opens = c.opens[i:]
}

func (c *Controller) countSince(cutoff time.Time) int {
	n := 0
	for _, ts := range c.opens {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// blocked builds a frequency rejection with the time until the oldest open
// in the violated window rolls off.
func (c *Controller) blocked(now time.Time, window time.Duration, n, limit int) *types.Rejection {
	var cooldown time.Duration
	cutoff := now.Add(-window)
	for _, ts := range c.opens {
		if !ts.Before(cutoff) {
			cooldown = ts.Add(window).Sub(now)
			break
		}
	}
	return &types.Rejection{
		Code:     types.RejectThrottleBlocked,
		Detail:   fmt.Sprintf("%d opens in last %s, limit %d", n, window, limit),
		Cooldown: cooldown,
	}
}
