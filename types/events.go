package types

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// LEARNING DATA - episodes, windows, trade events, lessons, overrides
// ═══════════════════════════════════════════════════════════════════════════════

// EpisodeOutcome resolves what an opportunity episode amounted to.
type EpisodeOutcome string

const (
	OutcomePending     EpisodeOutcome = "pending"
	OutcomeSuccess     EpisodeOutcome = "success"
	OutcomeFailure     EpisodeOutcome = "failure"
	OutcomeMissed      EpisodeOutcome = "missed"
	OutcomeCorrectSkip EpisodeOutcome = "correct_skip"
)

// WindowSample is one per-bar diagnostic sample taken while a window is open.
type WindowSample struct {
	Bar        time.Time `json:"bar"`
	Price      float64   `json:"price"`
	TrendScore float64   `json:"trend_score"`
	Exhaustion float64   `json:"exhaustion"`
	DipScore   float64   `json:"dip_score"`
}

// Window is a sub-interval of an episode where the gating conditions held.
type Window struct {
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"` // zero while open
	Samples   []WindowSample `json:"samples"`
	EnteredAt *time.Time     `json:"entered_at,omitempty"`
	Category  Category       `json:"category"` // which action the window gated
}

func (w *Window) Open() bool    { return w.End.IsZero() }
func (w *Window) Entered() bool { return w.EnteredAt != nil }

// Episode is one tracked opportunity, from a qualifying transition until it
// resolves. Reversions pause it without finalizing.
type Episode struct {
	ID             string             `json:"id"`
	PositionID     string             `json:"position_id"`
	PatternKey     string             `json:"pattern_key"`
	Origin         State              `json:"origin"` // state the episode started from
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"` // zero while open
	Windows        []Window           `json:"windows"`
	Entered        bool               `json:"entered"`
	Outcome        EpisodeOutcome     `json:"outcome"`
	Paused         bool               `json:"paused"`
	Scope          Scope              `json:"scope"`
	FactorsAtEntry map[string]float64 `json:"factors_at_entry,omitempty"`
}

// TradeEvent is one row of the learning log: a gated chance that was acted on
// or skipped, with its resolved outcome.
type TradeEvent struct {
	ID         string             `json:"id"`
	TradeID    string             `json:"trade_id"` // parent trade (dedup key)
	PositionID string             `json:"position_id"`
	PatternKey string             `json:"pattern_key"`
	Category   Category           `json:"category"`
	Scope      Scope              `json:"scope"`
	Acted      bool               `json:"acted"`
	Outcome    float64            `json:"outcome"` // risk-adjusted return
	OutcomeSet bool               `json:"outcome_set"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	At         time.Time          `json:"at"`
}

// Lesson is the mined aggregate over one (pattern, category, scope-subset)
// slice. Read-only to everything but the learner.
type Lesson struct {
	PatternKey string    `json:"pattern_key"`
	Category   Category  `json:"category"`
	Scope      Scope     `json:"scope"` // subset, may be empty
	N          int       `json:"n"`     // distinct trades after dedup
	Mean       float64   `json:"mean"`
	Variance   float64   `json:"variance"`
	Delta      float64   `json:"delta"` // mean - group baseline
	Edge       float64   `json:"edge"`
	Confidence float64   `json:"confidence"`
	Decay      float64   `json:"decay"` // decay multiplier applied to edge
	MinedAt    time.Time `json:"mined_at"`
}

// OverrideClass picks which knob an override scales.
type OverrideClass string

const (
	OverrideSizing    OverrideClass = "sizing"
	OverrideThreshold OverrideClass = "threshold"
)

// Override is a materialized multiplier adjustment, looked up by
// (pattern, category, scope) with subset matching at decision time.
type Override struct {
	Class      OverrideClass `json:"class"`
	PatternKey string        `json:"pattern_key"`
	Category   Category      `json:"category"`
	Scope      Scope         `json:"scope"` // subset
	Multiplier float64       `json:"multiplier"`
	Confidence float64       `json:"confidence"`
}
