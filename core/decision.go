package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/trendpilot/episode"
	"github.com/web3guy0/trendpilot/internal/config"
	"github.com/web3guy0/trendpilot/overrides"
	"github.com/web3guy0/trendpilot/risk"
	"github.com/web3guy0/trendpilot/signal"
	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION LADDER - one sized intent per position per cycle, first match wins
// ═══════════════════════════════════════════════════════════════════════════════
//
//   1. emergency exit     full liquidation, once per unresolved emergency
//   2. trim               tiered on E, cooldown-gated, ≤50% of holdings
//   3. entry/add          tiered on A, once per state window, override-scaled
//   4. hold               nil intent, no event
//
// ═══════════════════════════════════════════════════════════════════════════════

// Trim and exit actions carry their own pattern keys; entries reuse the
// episode patterns so lessons line up with tracked windows.
const (
	patternS2Trim = "s2-trim"
	patternS3Trim = "s3-trim"
	patternExit   = "trend-exit"
)

// DecisionInput is everything one cycle's ladder run needs. The position's
// snapshot must already be advanced to the current bar.
type DecisionInput struct {
	Position   *types.Position
	Feature    *types.FeatureRecord
	Aggro      float64
	ExitAssert float64
	Scope      types.Scope
	Thresholds config.GateThresholds
	Gate       *risk.Gate
}

// Decider turns an evaluated snapshot into at most one intent.
type Decider struct {
	sizer   *risk.Sizer
	store   *overrides.Store
	breaker *risk.CircuitBreaker
}

func NewDecider(sizer *risk.Sizer, store *overrides.Store, breaker *risk.CircuitBreaker) *Decider {
	return &Decider{sizer: sizer, store: store, breaker: breaker}
}

// Decide runs the priority ladder. A nil return is a hold.
func (d *Decider) Decide(in DecisionInput) *types.Intent {
	pos := in.Position
	snap := pos.Snapshot
	f := in.Feature
	mark := decimal.NewFromFloat(f.Price)

	// 1. Emergency exit: terminal anchor pierced while the stack still holds.
	if snap.EmergencyExit && pos.Quantity.IsPositive() {
		if !in.Gate.EmergencyAllowed(pos.History) {
			return nil
		}
		return d.intent(in, types.ActionEmergencyExit, types.CatEmergency, patternExit,
			decimal.NewFromInt(1), types.DenomHoldings, types.UrgencyImmediate,
			[]string{"terminal_anchor_pierced"})
	}

	// 2. Trim: exhaustion near resistance, S2/S3 only.
	if snap.TrimFlag && trimState(snap.State) && pos.Quantity.IsPositive() {
		level, haveLevel := signal.NearestLevel(f)
		if in.Gate.TrimAllowed(pos.History, f.BarTime, in.Thresholds.TrimCooldownBars, level, haveLevel) {
			size := d.sizer.TrimSize(in.ExitAssert, pos.DeployedRatio(), pos.ProfitRatio(mark))
			if size.IsPositive() {
				it := d.intent(in, types.ActionTrim, types.CatTrim, trimPattern(snap.State),
					size, types.DenomHoldings, types.UrgencyNormal,
					[]string{"exhaustion_at_resistance"})
				it.Level = level
				return it
			}
		}
	}

	// 3. Entry/add: reclaim beats fresh signal beats dip.
	if cat, reason, ok := entryCandidate(snap); ok {
		if d.breaker.EntriesBlocked() {
			log.Debug().Str("position", pos.ID).Msg("Entry suppressed: circuit breaker open")
			return nil
		}
		if !in.Gate.FlagAllowed(pos.History, cat, snap.StateEntryBar) {
			return nil
		}
		if !pos.RemainingCapacity().IsPositive() {
			return nil
		}
		pattern := entryPattern(cat, snap.State)
		mult := d.store.Current().Sizing(pattern, cat, in.Scope)
		size := d.sizer.EntrySize(in.Aggro, pos.ProfitRatio(mark), mult)
		if size.IsPositive() {
			return d.intent(in, types.ActionAdd, cat, pattern,
				size, types.DenomRemainingCapacity, types.UrgencyNormal, []string{reason})
		}
	}

	// 4. Hold.
	return nil
}

func (d *Decider) intent(in DecisionInput, action types.Action, cat types.Category, pattern string,
	size decimal.Decimal, denom types.Denominator, urgency types.Urgency, reasons []string) *types.Intent {

	pos := in.Position
	snap := pos.Snapshot
	return &types.Intent{
		ID:           uuid.NewString(),
		PositionID:   pos.ID,
		TradeID:      pos.OpenTradeID,
		Instrument:   pos.Instrument,
		Venue:        pos.Venue,
		Timeframe:    pos.Timeframe,
		Action:       action,
		SizeFraction: size,
		Denominator:  denom,
		Urgency:      urgency,
		ReasonCodes:  reasons,
		PatternKey:   pattern,
		Category:     cat,
		Scope:        in.Scope.Clone(),
		Aggro:        in.Aggro,
		ExitAssert:   in.ExitAssert,
		TrendScore:   snap.TrendScore,
		BarTime:      in.Feature.BarTime,
		WindowBar:    snap.StateEntryBar,
		CreatedAt:    time.Now(),
	}
}

func trimState(s types.State) bool {
	return s == types.StateBreakout || s == types.StateAligned
}

func trimPattern(s types.State) string {
	if s == types.StateBreakout {
		return patternS2Trim
	}
	return patternS3Trim
}

// entryCandidate picks the highest-priority entry flag set this bar.
func entryCandidate(snap types.StateSnapshot) (types.Category, string, bool) {
	switch {
	case snap.ReclaimFlag:
		return types.CatReclaim, "terminal_anchor_reclaimed", true
	case snap.BuySignal:
		return types.CatEntry, "entry_gate", true
	case snap.BuyFlag:
		return types.CatDip, "dip_quality", true
	}
	return "", "", false
}

func entryPattern(cat types.Category, s types.State) string {
	if cat == types.CatDip || cat == types.CatReclaim {
		return episode.PatternS3Ride
	}
	if s == types.StateBreakout {
		return episode.PatternS2Retest
	}
	return episode.PatternS1Entry
}

// entryPatternForState keys the pre-evaluation threshold override lookup.
func entryPatternForState(s types.State) (string, types.Category) {
	switch s {
	case types.StateBreakout:
		return episode.PatternS2Retest, types.CatEntry
	case types.StateAligned:
		return episode.PatternS3Ride, types.CatDip
	default:
		return episode.PatternS1Entry, types.CatEntry
	}
}
