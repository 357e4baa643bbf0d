package types

import (
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REJECTION TAXONOMY - Machine-readable reason codes
// ═══════════════════════════════════════════════════════════════════════════════
//
// A rejection is not a Go error: the engine ran correctly and said no.
// Every input decision resolves to exactly one of {applied, rejected}.
//
// ═══════════════════════════════════════════════════════════════════════════════

// RejectCode classifies why a decision was refused.
type RejectCode string

const (
	RejectMalformedDecision RejectCode = "malformed_decision"
	RejectSignalUnconfirmed RejectCode = "signal_unconfirmed"
	RejectRiskLimit         RejectCode = "risk_limit_violation"
	RejectThrottleBlocked   RejectCode = "throttle_blocked"
	RejectInvalidTransition RejectCode = "invalid_transition"
	RejectExecutionFailure  RejectCode = "execution_failure"
)

// Limit names reported with RejectRiskLimit.
const (
	LimitMaxPositions     = "max_positions"
	LimitMaxLeverage      = "max_leverage"
	LimitMinRiskReward    = "min_risk_reward"
	LimitStopTooTight     = "stop_too_tight"
	LimitInsufficientRoom = "insufficient_room"
	LimitSingleTradePct   = "max_single_trade_pct"
	LimitPositionSizePct  = "max_position_size_pct"
	LimitTotalPositionPct = "max_total_position_pct"
	LimitMinNotional      = "min_notional"
)

// Rejection carries the reason a decision was refused, with enough detail
// for the caller to audit or retry.
type Rejection struct {
	Code     RejectCode    `json:"code"`
	Limit    string        `json:"limit,omitempty"`    // set for risk_limit_violation
	Detail   string        `json:"detail,omitempty"`   // human-readable context
	Cooldown time.Duration `json:"cooldown,omitempty"` // set for throttle_blocked
}

// Reason returns the canonical "code: limit" form used in logs and tests.
func (r *Rejection) Reason() string {
	if r.Limit != "" {
		return fmt.Sprintf("%s: %s", r.Code, r.Limit)
	}
	return string(r.Code)
}

func (r *Rejection) String() string {
	if r.Detail != "" {
		return r.Reason() + " (" + r.Detail + ")"
	}
	return r.Reason()
}

// RejectLimit builds a risk-limit rejection naming the specific limit hit.
func RejectLimit(limit, detail string) *Rejection {
	return &Rejection{Code: RejectRiskLimit, Limit: limit, Detail: detail}
}

// Outcome is the engine's answer for one submitted decision: exactly one of
// an applied instruction or a rejection, plus audit passthrough.
type Outcome struct {
	Applied    bool              `json:"applied"`
	Order      *OrderPlan        `json:"order,omitempty"`
	Close      *CloseInstruction `json:"close,omitempty"`
	Rejection  *Rejection        `json:"rejection,omitempty"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// Rejected builds a rejection outcome preserving the caller's audit fields.
func Rejected(d Decision, rej *Rejection) Outcome {
	return Outcome{Rejection: rej, Confidence: d.Confidence, Reasoning: d.Reasoning}
}
