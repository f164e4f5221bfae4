package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INTENT / RESULT - the executor boundary
// ═══════════════════════════════════════════════════════════════════════════════

// Urgency hints the executor how aggressively to work the order.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyImmediate Urgency = "immediate" // emergency exits
)

// Intent is the single sized action the decision engine may emit per cycle.
// Emitting it is non-blocking; the result arrives later as an ExecResult.
type Intent struct {
	ID         string `json:"id"`
	PositionID string `json:"position_id"`
	Instrument string `json:"instrument"`
	Venue      string `json:"venue"`
	Timeframe  string `json:"timeframe"`

	Action       Action          `json:"action"`
	SizeFraction decimal.Decimal `json:"size_fraction"` // [0,1] of Denominator
	Denominator  Denominator     `json:"denominator"`
	Urgency      Urgency         `json:"urgency"`
	ReasonCodes  []string        `json:"reason_codes"`

	// Decision context, carried for audit and learning. TradeID is the open
	// trade at decision time, so fills that land after closure still attach
	// to the right learning rows.
	TradeID    string    `json:"trade_id,omitempty"`
	PatternKey string    `json:"pattern_key"`
	Category   Category  `json:"category"`
	Scope      Scope     `json:"scope"`
	Aggro      float64   `json:"aggro"`       // A score at decision time
	ExitAssert float64   `json:"exit_assert"` // E score at decision time
	TrendScore float64   `json:"trend_score"`
	BarTime    time.Time `json:"bar_time"`
	WindowBar  time.Time `json:"window_bar"`      // state-entry bar at decision time
	Level      float64   `json:"level,omitempty"` // nearest S/R level, for trim cooldowns
	CreatedAt  time.Time `json:"created_at"`
}

// ResultStatus is the executor's verdict on one intent.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultSkipped ResultStatus = "skipped"
	ResultError   ResultStatus = "error"
	ResultPartial ResultStatus = "partial"
)

// ExecResult is the callback payload that actually mutates position money
// fields. It may arrive arbitrarily late or never.
type ExecResult struct {
	IntentID   string          `json:"intent_id"`
	PositionID string          `json:"position_id"`
	Status     ResultStatus    `json:"status"`
	QtyDelta   decimal.Decimal `json:"qty_delta"` // signed: buys positive
	Price      decimal.Decimal `json:"price"`
	Fees       decimal.Decimal `json:"fees"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
