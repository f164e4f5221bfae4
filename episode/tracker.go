package episode

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EPISODE TRACKER - turns state transitions into labeled learning data
// ═══════════════════════════════════════════════════════════════════════════════
//
// An episode opens on a qualifying transition and resolves when the trend
// either reaches its next confirmation state or collapses back to flat.
// Inside an episode, windows record the exact bars where an action was
// gated; each closed window becomes one trade event, labeled acted/skipped
// against the position's execution marks.
//
// Pattern keys:
//   s1-entry  — opened on S0→S1, gates entry, resolves at S2 or S0
//   s2-retest — opened on S1→S2 (or S3→S2), gates add, resolves at S3 or S0
//   s3-ride   — opened on S2→S3, gates dip buys, resolves on leaving S3
//
// S2→S1 reversions PAUSE the s2 episode instead of finalizing it; the same
// episode resumes if price reconfirms. Only a fall to S0 is terminal.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PatternS1Entry  = "s1-entry"
	PatternS2Retest = "s2-retest"
	PatternS3Ride   = "s3-ride"
)

// Tracker maintains open episodes per position. Safe for concurrent use,
// though the engine serializes calls per position anyway.
type Tracker struct {
	mu       sync.Mutex
	episodes map[string][]*types.Episode // positionID → open episodes
	claimed  map[string]map[int64]bool   // episodeID → claimed mark timestamps
}

func NewTracker() *Tracker {
	return &Tracker{
		episodes: make(map[string][]*types.Episode),
		claimed:  make(map[string]map[int64]bool),
	}
}

// Observe ingests one completed bar for a position: the transition the state
// machine took, the updated snapshot on the position, and the bar's feature
// record. Returns the trade events of any episodes finalized this bar.
func (t *Tracker) Observe(pos *types.Position, tr types.Transition, f *types.FeatureRecord, scope types.Scope) []types.TradeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	bar := f.BarTime
	snap := pos.Snapshot

	t.handleTransition(pos, tr, bar, scope)

	var out []types.TradeEvent
	for _, ep := range t.episodes[pos.ID] {
		// An episode opened by this very transition cannot also be
		// resolved by it.
		if !ep.Start.Equal(bar) {
			if done, outcome := t.resolves(ep, tr); done {
				out = append(out, t.finalize(pos, ep, outcome, bar, f.Price)...)
				continue
			}
		}
		if ep.Paused {
			continue
		}
		t.updateWindows(pos, ep, snap, f)
		t.claimMarks(pos, ep)
	}
	t.sweep(pos.ID)
	return out
}

// Open returns copies of the open episodes for a position, for persistence
// and inspection.
func (t *Tracker) Open(positionID string) []types.Episode {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Episode, 0, len(t.episodes[positionID]))
	for _, ep := range t.episodes[positionID] {
		out = append(out, *ep)
	}
	return out
}

// Restore re-seeds open episodes after a restart.
func (t *Tracker) Restore(positionID string, eps []types.Episode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range eps {
		ep := eps[i]
		t.episodes[positionID] = append(t.episodes[positionID], &ep)
		t.claimed[ep.ID] = make(map[int64]bool)
	}
}

// ─────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────

func (t *Tracker) handleTransition(pos *types.Position, tr types.Transition, bar time.Time, scope types.Scope) {
	if !tr.Occurred() {
		return
	}

	switch {
	case tr.From == types.StateFlat && tr.To == types.StateEarly:
		t.open(pos, PatternS1Entry, tr.To, bar, scope)

	case tr.To == types.StateBreakout && (tr.From == types.StateEarly || tr.From == types.StateAligned):
		// Reconfirmation resumes a paused retest episode instead of
		// opening a second one for the same structure.
		if ep := t.paused(pos.ID, PatternS2Retest); ep != nil && tr.From == types.StateEarly {
			ep.Paused = false
			log.Debug().Str("episode", ep.ID).Msg("Episode resumed")
			return
		}
		t.open(pos, PatternS2Retest, tr.To, bar, scope)

	case tr.From == types.StateBreakout && tr.To == types.StateAligned:
		t.open(pos, PatternS3Ride, tr.To, bar, scope)

	case tr.From == types.StateBreakout && tr.To == types.StateEarly:
		if ep := t.find(pos.ID, PatternS2Retest); ep != nil {
			ep.Paused = true
			t.closeOpenWindow(ep, bar)
			log.Debug().Str("episode", ep.ID).Msg("Episode paused on reversion")
		}
	}
}

func (t *Tracker) open(pos *types.Position, pattern string, origin types.State, bar time.Time, scope types.Scope) {
	ep := &types.Episode{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		PatternKey: pattern,
		Origin:     origin,
		Start:      bar,
		Outcome:    types.OutcomePending,
		Scope:      scope.Clone(),
	}
	t.episodes[pos.ID] = append(t.episodes[pos.ID], ep)
	t.claimed[ep.ID] = make(map[int64]bool)
	log.Debug().
		Str("position", pos.ID).
		Str("pattern", pattern).
		Time("bar", bar).
		Msg("📖 Episode opened")
}

// resolves decides whether a transition finalizes an episode, and with which
// directional outcome (reached vs collapsed). Acted/skipped is folded in by
// finalize.
func (t *Tracker) resolves(ep *types.Episode, tr types.Transition) (bool, bool) {
	if !tr.Occurred() {
		return false, false
	}
	switch ep.PatternKey {
	case PatternS1Entry:
		if tr.To == types.StateBreakout || tr.To == types.StateAligned {
			return true, true
		}
		if tr.To == types.StateFlat {
			return true, false
		}
	case PatternS2Retest:
		if tr.To == types.StateAligned {
			return true, true
		}
		if tr.To == types.StateFlat {
			return true, false
		}
		// S2→S1 pauses, handled in handleTransition.
	case PatternS3Ride:
		if tr.From == types.StateAligned && tr.To == types.StateBreakout {
			return true, true
		}
		if tr.From == types.StateAligned && tr.To == types.StateFlat {
			return true, false
		}
	}
	return false, false
}

func (t *Tracker) finalize(pos *types.Position, ep *types.Episode, reached bool, bar time.Time, finalPrice float64) []types.TradeEvent {
	// Fills land asynchronously after the bar that emitted the intent, so a
	// mark may appear between the window's last observation and the resolving
	// transition. Claim once more before labeling.
	t.claimMarks(pos, ep)
	t.closeOpenWindow(ep, bar)
	ep.End = bar

	switch {
	case reached && ep.Entered:
		ep.Outcome = types.OutcomeSuccess
	case reached && !ep.Entered:
		ep.Outcome = types.OutcomeMissed
	case !reached && ep.Entered:
		ep.Outcome = types.OutcomeFailure
	default:
		ep.Outcome = types.OutcomeCorrectSkip
	}

	events := t.emit(pos, ep, finalPrice, bar)

	log.Info().
		Str("position", pos.ID).
		Str("pattern", ep.PatternKey).
		Str("outcome", string(ep.Outcome)).
		Int("windows", len(ep.Windows)).
		Int("events", len(events)).
		Msg("📕 Episode finalized")
	return events
}

// emit produces one trade event per closed window. Acted events keep a
// pending outcome (resolved when the parent trade closes); skipped events
// get a counterfactual outcome from the price move between the window and
// the episode's end.
func (t *Tracker) emit(pos *types.Position, ep *types.Episode, finalPrice float64, bar time.Time) []types.TradeEvent {
	events := make([]types.TradeEvent, 0, len(ep.Windows))
	for i := range ep.Windows {
		w := &ep.Windows[i]
		if len(w.Samples) == 0 {
			continue
		}
		ev := types.TradeEvent{
			ID:         uuid.NewString(),
			TradeID:    t.tradeID(pos, ep),
			PositionID: pos.ID,
			PatternKey: ep.PatternKey,
			Category:   w.Category,
			Scope:      ep.Scope.Clone(),
			Acted:      w.Entered(),
			At:         bar,
		}
		if !ev.Acted {
			ref := w.Samples[len(w.Samples)-1].Price
			if ref > 0 {
				ev.Outcome = (finalPrice - ref) / ref
				ev.OutcomeSet = true
			}
		}
		if ep.FactorsAtEntry != nil {
			ev.Factors = ep.FactorsAtEntry
		}
		events = append(events, ev)
	}
	return events
}

// tradeID picks the dedup key for events: the open trade when one exists,
// otherwise the episode itself (pure skips have no trade to attach to).
func (t *Tracker) tradeID(pos *types.Position, ep *types.Episode) string {
	if pos.OpenTradeID != "" {
		return pos.OpenTradeID
	}
	return ep.ID
}

func (t *Tracker) find(positionID, pattern string) *types.Episode {
	for _, ep := range t.episodes[positionID] {
		if ep.PatternKey == pattern && !ep.Paused {
			return ep
		}
	}
	return nil
}

func (t *Tracker) paused(positionID, pattern string) *types.Episode {
	for _, ep := range t.episodes[positionID] {
		if ep.PatternKey == pattern && ep.Paused {
			return ep
		}
	}
	return nil
}

func (t *Tracker) sweep(positionID string) {
	open := t.episodes[positionID][:0]
	for _, ep := range t.episodes[positionID] {
		if ep.End.IsZero() {
			open = append(open, ep)
		} else {
			delete(t.claimed, ep.ID)
		}
	}
	if len(open) == 0 {
		delete(t.episodes, positionID)
		return
	}
	t.episodes[positionID] = open
}

// ─────────────────────────────────────────────
// Windows
// ─────────────────────────────────────────────

// gateFor maps an episode to the flag and action category its windows track.
func gateFor(ep *types.Episode, snap types.StateSnapshot) (bool, types.Category) {
	if ep.PatternKey == PatternS3Ride {
		return snap.BuyFlag, types.CatDip
	}
	return snap.BuySignal, types.CatEntry
}

func (t *Tracker) updateWindows(pos *types.Position, ep *types.Episode, snap types.StateSnapshot, f *types.FeatureRecord) {
	gated, cat := gateFor(ep, snap)
	w := openWindow(ep)

	if !gated {
		if w != nil {
			w.End = f.BarTime
		}
		return
	}

	if w == nil {
		ep.Windows = append(ep.Windows, types.Window{Start: f.BarTime, Category: cat})
		w = &ep.Windows[len(ep.Windows)-1]
	}
	w.Samples = append(w.Samples, types.WindowSample{
		Bar:        f.BarTime,
		Price:      f.Price,
		TrendScore: snap.TrendScore,
		Exhaustion: snap.ExhaustionScore,
		DipScore:   snap.DipScore,
	})
}

func openWindow(ep *types.Episode) *types.Window {
	for i := range ep.Windows {
		if ep.Windows[i].Open() {
			return &ep.Windows[i]
		}
	}
	return nil
}

func (t *Tracker) closeOpenWindow(ep *types.Episode, bar time.Time) {
	if w := openWindow(ep); w != nil {
		w.End = bar
	}
}

// claimMarks matches execution marks against the episode's open window. Each
// mark timestamp is claimed at most once per episode, so an overwritten mark
// slot still labels only the window it actually fired in.
func (t *Tracker) claimMarks(pos *types.Position, ep *types.Episode) {
	w := openWindow(ep)
	if w == nil {
		return
	}
	for _, cat := range claimCategories(w.Category) {
		m, ok := pos.History.Get(cat)
		if !ok || m.Bar.Before(w.Start) {
			continue
		}
		key := m.At.UnixNano()
		if t.claimed[ep.ID][key] {
			continue
		}
		t.claimed[ep.ID][key] = true
		at := m.At
		w.EnteredAt = &at
		ep.Entered = true
		ep.FactorsAtEntry = map[string]float64{
			"trend_score": pos.Snapshot.TrendScore,
			"exhaustion":  pos.Snapshot.ExhaustionScore,
			"dip_score":   pos.Snapshot.DipScore,
		}
	}
}

// claimCategories: dip windows also accept reclaim re-entries, since both
// fire inside an aligned trend.
func claimCategories(cat types.Category) []types.Category {
	if cat == types.CatDip {
		return []types.Category{types.CatDip, types.CatReclaim}
	}
	return []types.Category{cat}
}
