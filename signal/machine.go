package signal

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/internal/config"
	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL STATE MACHINE - 5-state trend model, advanced once per bar close
// ═══════════════════════════════════════════════════════════════════════════════
//
// States:
//   S0 flat → S1 above fast anchor → S2 above breakout anchor → S3 aligned
//
// Reversions (S2→S1, S3→S2) reduce confidence without ending anything.
// Falling below the terminal (slowest) anchor invalidates the trend → S0.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrStaleBar means the feature record is not newer than the last evaluated
// bar; the caller keeps the previous snapshot untouched.
var ErrStaleBar = errors.New("feature record bar is not newer than last evaluated bar")

// Machine advances state snapshots. It is stateless itself: all per-position
// state lives in the snapshot, so one Machine serves every position.
type Machine struct{}

func NewMachine() *Machine { return &Machine{} }

// Evaluate advances one snapshot by one bar. On a malformed or stale record
// it returns the previous snapshot unchanged together with the error — a bad
// bar must never fabricate a transition.
func (m *Machine) Evaluate(prev types.StateSnapshot, f *types.FeatureRecord, th config.GateThresholds) (types.StateSnapshot, types.Transition, error) {
	noop := types.Transition{From: prev.State, To: prev.State}

	if err := f.Valid(); err != nil {
		return prev, noop, fmt.Errorf("invalid feature record: %w", err)
	}
	if !prev.LastBar.IsZero() && !f.BarTime.After(prev.LastBar) {
		return prev, noop, ErrStaleBar
	}

	next := types.StateSnapshot{
		PrevState:      prev.State,
		LastBar:        f.BarTime,
		EmergencyArmed: prev.EmergencyArmed,
	}

	next.State = m.nextState(prev.State, f)
	tr := types.Transition{From: prev.State, To: next.State}

	if tr.Occurred() {
		next.StateEntryBar = f.BarTime
		next.BarsInState = 0
		log.Debug().
			Str("instrument", f.Instrument).
			Str("timeframe", f.Timeframe).
			Stringer("transition", tr).
			Float64("price", f.Price).
			Msg("State transition")
	} else {
		next.StateEntryBar = prev.StateEntryBar
		next.BarsInState = prev.BarsInState + 1
	}

	m.evaluateFlags(&next, f, th)
	return next, tr, nil
}

// nextState resolves the single edge taken this bar. Only defined edges move
// the state; everything else holds.
func (m *Machine) nextState(s types.State, f *types.FeatureRecord) types.State {
	price := f.Price

	switch s {
	case types.StateFlat:
		// S0→S1: cross above the fast structural anchor with positive
		// short-term slope.
		if price > f.AnchorFast() && f.Slopes[0] > 0 {
			return types.StateEarly
		}

	case types.StateEarly:
		// Before full alignment the slowest average can sit above price, so
		// invalidation means dropping below the whole tracked stack.
		if belowAll(f) {
			return types.StateFlat
		}
		if price > f.AnchorBreakout() {
			return types.StateBreakout
		}

	case types.StateBreakout:
		if belowAll(f) {
			return types.StateFlat
		}
		if aligned(f) && price > f.AnchorBreakout() {
			return types.StateAligned
		}
		if price < f.AnchorBreakout() {
			return types.StateEarly // reversion, not a failure
		}

	case types.StateAligned:
		if price < f.AnchorTerminal() {
			// While the stack is still fully aligned this is an emergency
			// pierce, handled by flags; the trend is invalidated only once
			// alignment breaks too.
			if aligned(f) {
				return types.StateAligned
			}
			return types.StateFlat
		}
		if price < f.AnchorBreakout() {
			return types.StateBreakout
		}

	case types.StateReserved:
		return types.StateFlat
	}
	return s
}

// evaluateFlags fills scores and boolean flags from the current bar only.
func (m *Machine) evaluateFlags(snap *types.StateSnapshot, f *types.FeatureRecord, th config.GateThresholds) {
	snap.TrendScore = CompositeStrength(f, th)

	switch snap.State {
	case types.StateEarly, types.StateBreakout:
		anchor := f.AnchorFast()
		if snap.State == types.StateBreakout {
			anchor = f.AnchorBreakout()
		}
		gate := EntryGate(f, anchor, th)
		snap.BuySignal = gate.Pass()
		snap.TrendScore = gate.Score

		// Exhaustion is tracked from S2 on so a trim stays valid through a
		// same-day S3→S2 reversion.
		if snap.State == types.StateBreakout {
			snap.ExhaustionScore = ExhaustionScore(f)
			snap.TrimFlag = m.trimGate(snap.ExhaustionScore, f, th)
		}

	case types.StateAligned:
		snap.ExhaustionScore = ExhaustionScore(f)
		snap.DipScore = DipScore(f, th)
		snap.TrimFlag = m.trimGate(snap.ExhaustionScore, f, th)
		snap.BuyFlag = snap.DipScore > th.DipMin

		if f.Price < f.AnchorTerminal() {
			snap.EmergencyExit = true
			snap.EmergencyArmed = true
		}
	}

	// Reclaim: price recovered above the terminal anchor after an emergency
	// pierce. Permits a defensive re-entry distinct from a fresh entry.
	if snap.EmergencyArmed && !snap.EmergencyExit && f.Price > f.AnchorTerminal() {
		snap.ReclaimFlag = true
		snap.EmergencyArmed = false
	}
	if snap.State == types.StateFlat {
		snap.EmergencyArmed = false
	}
}

// trimGate: exhaustion above threshold and a resistance level within reach.
func (m *Machine) trimGate(ox float64, f *types.FeatureRecord, th config.GateThresholds) bool {
	if ox <= th.TrimExhaustion {
		return false
	}
	_, ok := resistanceWithin(f.Price, f.Levels, f.Volatility, th.ResistanceVolMult)
	return ok
}

// NearestLevel exposes the closest support/resistance level for cooldown
// bookkeeping in the decision engine.
func NearestLevel(f *types.FeatureRecord) (float64, bool) {
	if len(f.Levels) == 0 {
		return 0, false
	}
	lv, _ := nearestLevel(f.Price, f.Levels)
	return lv, true
}
