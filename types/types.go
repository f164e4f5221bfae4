package types

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// State is the trend-confidence regime of one position/timeframe.
type State int

const (
	StateFlat     State = iota // S0: no trend, positions close here
	StateEarly                 // S1: price above fast anchor, pre-breakout
	StateBreakout              // S2: confirmed above breakout anchor
	StateAligned               // S3: full moving-average alignment
	StateReserved              // S4: reserved for future use
)

func (s State) String() string {
	if s < StateFlat || s > StateReserved {
		return fmt.Sprintf("S?(%d)", int(s))
	}
	return [...]string{"S0", "S1", "S2", "S3", "S4"}[s]
}

// Action is the kind of trading intent the engine can emit.
type Action string

const (
	ActionHold          Action = "hold"
	ActionAdd           Action = "add"
	ActionTrim          Action = "trim"
	ActionExit          Action = "exit"
	ActionEmergencyExit Action = "emergency_exit"
)

// Denominator says which base a size fraction applies to.
type Denominator string

const (
	DenomHoldings          Denominator = "holdings"
	DenomRemainingCapacity Denominator = "remaining_capacity"
)

// Category keys the per-position execution history. One mark per category,
// overwritten on every executed action of that kind.
type Category string

const (
	CatEntry     Category = "entry"     // buy_signal fired in S1/S2
	CatDip       Category = "dip"       // buy_flag fired in S3
	CatReclaim   Category = "reclaim"   // reclaim_flag re-entry
	CatTrim      Category = "trim"      // partial exit
	CatEmergency Category = "emergency" // emergency full exit
)

// EntryCategories are the categories that add to a position. Episode windows
// match against these when deciding whether a chance was acted on.
var EntryCategories = []Category{CatEntry, CatDip, CatReclaim}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusDormant   PositionStatus = "dormant"
	StatusWatchlist PositionStatus = "watchlist"
	StatusActive    PositionStatus = "active"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEATURE RECORD - external input, one per position per bar close
// ═══════════════════════════════════════════════════════════════════════════════

// FeatureRecord is the per-bar technical snapshot the core consumes. Moving
// averages and slopes are ordered fastest to slowest; at least three averages
// are required (entry anchor, breakout anchor, terminal anchor).
type FeatureRecord struct {
	Instrument    string    `json:"instrument"`
	Timeframe     string    `json:"timeframe"`
	Price         float64   `json:"price"`
	MAs           []float64 `json:"mas"`
	Slopes        []float64 `json:"slopes"`
	Volatility    float64   `json:"volatility"`
	TrendStrength float64   `json:"trend_strength"`
	Levels        []float64 `json:"levels"` // support/resistance, any order
	BarTime       time.Time `json:"bar_time"`
}

// Valid reports whether the record is usable. A bad record skips the bar, it
// never coerces to defaults (that could fabricate a transition).
func (f *FeatureRecord) Valid() error {
	if f == nil {
		return fmt.Errorf("nil feature record")
	}
	if f.BarTime.IsZero() {
		return fmt.Errorf("missing bar timestamp")
	}
	if len(f.MAs) < 3 {
		return fmt.Errorf("need at least 3 moving averages, got %d", len(f.MAs))
	}
	if len(f.Slopes) != len(f.MAs) {
		return fmt.Errorf("slopes length %d does not match MAs length %d", len(f.Slopes), len(f.MAs))
	}
	if !finite(f.Price) || f.Price <= 0 {
		return fmt.Errorf("bad price %v", f.Price)
	}
	if !finite(f.Volatility) || f.Volatility < 0 {
		return fmt.Errorf("bad volatility %v", f.Volatility)
	}
	for i, ma := range f.MAs {
		if !finite(ma) || ma <= 0 {
			return fmt.Errorf("bad MA[%d] %v", i, ma)
		}
	}
	for i, s := range f.Slopes {
		if !finite(s) {
			return fmt.Errorf("bad slope[%d] %v", i, s)
		}
	}
	if !finite(f.TrendStrength) {
		return fmt.Errorf("bad trend strength %v", f.TrendStrength)
	}
	return nil
}

// AnchorFast is the S0→S1 structural anchor.
func (f *FeatureRecord) AnchorFast() float64 { return f.MAs[0] }

// AnchorBreakout is the S1→S2 confirmation anchor.
func (f *FeatureRecord) AnchorBreakout() float64 { return f.MAs[1] }

// AnchorTerminal is the slowest average; falling below it invalidates the trend.
func (f *FeatureRecord) AnchorTerminal() float64 { return f.MAs[len(f.MAs)-1] }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATE SNAPSHOT
// ═══════════════════════════════════════════════════════════════════════════════

// StateSnapshot is the serialized machine state carried on a position. It is
// always computed whole from one feature record; never mixed across bars.
type StateSnapshot struct {
	State     State `json:"state"`
	PrevState State `json:"prev_state"`

	BuySignal     bool `json:"buy_signal"`     // entry gate true this bar (S1/S2)
	BuyFlag       bool `json:"buy_flag"`       // dip re-entry chance (S3)
	TrimFlag      bool `json:"trim_flag"`      // exhaustion near resistance (S2/S3)
	EmergencyExit bool `json:"emergency_exit"` // below terminal anchor while in S3
	ReclaimFlag   bool `json:"reclaim_flag"`   // recovered above terminal anchor

	TrendScore      float64 `json:"trend_score"`      // [0,1] composite strength
	ExhaustionScore float64 `json:"exhaustion_score"` // [0,1] overbought
	DipScore        float64 `json:"dip_score"`        // [0,1] dip quality

	BarsInState   int       `json:"bars_in_state"`
	StateEntryBar time.Time `json:"state_entry_bar"` // bar that entered current state
	LastBar       time.Time `json:"last_bar"`

	// EmergencyArmed survives across bars: set when price drops below the
	// terminal anchor in S3, cleared when it reclaims it.
	EmergencyArmed bool `json:"emergency_armed"`
}

// Transition is a state edge taken on one bar. From == To means no change.
type Transition struct {
	From State
	To   State
}

func (t Transition) Occurred() bool { return t.From != t.To }

func (t Transition) String() string {
	return fmt.Sprintf("%s→%s", t.From, t.To)
}

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION
// ═══════════════════════════════════════════════════════════════════════════════

// Mark records the last executed action of one category.
type Mark struct {
	At        time.Time `json:"at"`
	Bar       time.Time `json:"bar"`             // bar timestamp of the decision
	WindowBar time.Time `json:"window_bar"`      // state-entry bar at fire time
	TradeID   string    `json:"trade_id"`        // parent trade
	Level     float64   `json:"level,omitempty"` // nearest S/R level at fire time
}

// ExecHistory keeps one mark per action category.
type ExecHistory map[Category]Mark

func (h ExecHistory) Get(c Category) (Mark, bool) {
	m, ok := h[c]
	return m, ok
}

func (h ExecHistory) Set(c Category, m Mark) { h[c] = m }

// Clone returns a deep copy.
func (h ExecHistory) Clone() ExecHistory {
	out := make(ExecHistory, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Position is the unit of portfolio state. Owned by the engine; money fields
// are mutated only through the apply-result path.
type Position struct {
	ID         string         `json:"id"`
	Instrument string         `json:"instrument"`
	Venue      string         `json:"venue"`
	Timeframe  string         `json:"timeframe"`
	Status     PositionStatus `json:"status"`

	Quantity      decimal.Decimal `json:"quantity"`
	Allocated     decimal.Decimal `json:"allocated"`      // cumulative money in
	Extracted     decimal.Decimal `json:"extracted"`      // cumulative money out
	AllocationCap decimal.Decimal `json:"allocation_cap"` // budget for this position
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	AvgExitPrice  decimal.Decimal `json:"avg_exit_price"`

	OpenTradeID string        `json:"open_trade_id,omitempty"`
	History     ExecHistory   `json:"history"`
	Snapshot    StateSnapshot `json:"snapshot"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deployed is allocated minus extracted money, floored at zero.
func (p *Position) Deployed() decimal.Decimal {
	d := p.Allocated.Sub(p.Extracted)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// RemainingCapacity is how much of the allocation budget is still undeployed.
func (p *Position) RemainingCapacity() decimal.Decimal {
	r := p.AllocationCap.Sub(p.Deployed())
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// DeployedRatio is deployed / cap in [0,1].
func (p *Position) DeployedRatio() float64 {
	if p.AllocationCap.IsZero() {
		return 0
	}
	r, _ := p.Deployed().Div(p.AllocationCap).Float64()
	return clamp01(r)
}

// ProfitRatio is profit (realized plus mark-to-market) relative to allocated
// money. Negative while the position is under water.
func (p *Position) ProfitRatio(markPrice decimal.Decimal) float64 {
	if p.Allocated.IsZero() {
		return 0
	}
	markValue := p.Quantity.Mul(markPrice)
	pnl := p.Extracted.Add(markValue).Sub(p.Allocated)
	r, _ := pnl.Div(p.Allocated).Float64()
	return r
}

// ClosedTrade is the summary appended to the history log when a position
// closes (state reaches S0).
type ClosedTrade struct {
	TradeID       string          `json:"trade_id"`
	PositionID    string          `json:"position_id"`
	Instrument    string          `json:"instrument"`
	Venue         string          `json:"venue"`
	Timeframe     string          `json:"timeframe"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	AvgExitPrice  decimal.Decimal `json:"avg_exit_price"`
	Allocated     decimal.Decimal `json:"allocated"`
	Extracted     decimal.Decimal `json:"extracted"`
	Outcome       float64         `json:"outcome"` // risk-adjusted return
	OutcomeKnown  bool            `json:"outcome_known"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      time.Time       `json:"closed_at"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
