package learner

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/overrides"
	"github.com/web3guy0/trendpilot/types"
)

var minedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func event(trade string, n int, outcome float64, scope types.Scope) types.TradeEvent {
	return types.TradeEvent{
		ID:         fmt.Sprintf("ev-%s-%d", trade, n),
		TradeID:    trade,
		PatternKey: "s1-entry",
		Category:   types.CatEntry,
		Scope:      scope,
		Outcome:    outcome,
		OutcomeSet: true,
		At:         minedAt.Add(time.Duration(n) * time.Minute),
	}
}

// Forty raw events spread over only twelve distinct trades must not clear
// the minimum-support bar.
func TestMinimumSupportCountsTradesNotEvents(t *testing.T) {
	m := NewMiner(33, 0.05)

	var events []types.TradeEvent
	n := 0
	for i := 0; i < 40; i++ {
		trade := fmt.Sprintf("trade-%d", i%12)
		events = append(events, event(trade, n, 0.5, types.Scope{"timeframe": "15m"}))
		n++
	}

	require.Empty(t, m.Mine(events, minedAt))
}

func TestSubsetMiningWithPrune(t *testing.T) {
	m := NewMiner(33, 0.05)

	var events []types.TradeEvent
	n := 0
	// 40 strong trades on the 15m timeframe.
	for i := 0; i < 40; i++ {
		events = append(events, event(fmt.Sprintf("a-%d", i), n, 0.5, types.Scope{"timeframe": "15m"}))
		n++
	}
	// 20 weak trades on 1h: under the minimum, the branch is pruned.
	for i := 0; i < 20; i++ {
		events = append(events, event(fmt.Sprintf("b-%d", i), n, -0.4, types.Scope{"timeframe": "1h"}))
		n++
	}

	lessons := m.Mine(events, minedAt)

	// Both the group baseline and the 15m subset clear the support bar; the
	// 1h branch is pruned. The baseline has zero delta by construction.
	require.Len(t, lessons, 2)
	require.Empty(t, lessons[0].Scope)
	require.InDelta(t, 0.0, lessons[0].Delta, 1e-9)

	l := lessons[1]
	require.Equal(t, "s1-entry", l.PatternKey)
	require.Equal(t, types.CatEntry, l.Category)
	require.Equal(t, "15m", l.Scope["timeframe"])
	require.Equal(t, 40, l.N)
	require.InDelta(t, 0.3, l.Delta, 1e-9, "0.5 slice mean vs 0.2 group baseline")
	require.Greater(t, l.Edge, 0.05)
	require.Greater(t, l.Confidence, 0.0)
	require.LessOrEqual(t, l.Confidence, 1.0)
}

// Sub-threshold slices still persist as lessons (audit and decay state) but
// never reach the override set.
func TestWeakEdgeLessonsKeptButNotMaterialized(t *testing.T) {
	m := NewMiner(10, 0.05)

	var events []types.TradeEvent
	for i := 0; i < 20; i++ {
		events = append(events, event(fmt.Sprintf("t-%d", i), i, 0.001, types.Scope{"timeframe": "15m"}))
	}

	lessons := m.Mine(events, minedAt)
	require.NotEmpty(t, lessons)
	for _, l := range lessons {
		require.Less(t, math.Abs(l.Edge), 0.05)
	}
	require.Empty(t, overrides.Materialize(lessons, 0.05))
}

func TestUnresolvedOutcomesIgnored(t *testing.T) {
	m := NewMiner(33, 0.05)

	var events []types.TradeEvent
	for i := 0; i < 50; i++ {
		ev := event(fmt.Sprintf("t-%d", i), i, 0.5, types.Scope{"timeframe": "15m"})
		ev.OutcomeSet = false
		events = append(events, ev)
	}
	require.Empty(t, m.Mine(events, minedAt))
}

func TestDedupKeepsEarliestPerTrade(t *testing.T) {
	events := []types.TradeEvent{
		event("t-1", 5, 0.9, types.Scope{}),
		event("t-1", 1, 0.1, types.Scope{}),
		event("t-2", 3, 0.4, types.Scope{}),
	}
	got := dedupByTrade(events)

	require.Len(t, got, 2)
	require.Equal(t, "t-1", got[0].TradeID)
	require.InDelta(t, 0.1, got[0].Outcome, 1e-9, "earliest event wins")
	require.Equal(t, "t-2", got[1].TradeID)
}

func TestDecayMultiplier(t *testing.T) {
	// Constant magnitudes: no decay.
	require.Equal(t, 1.0, decayMultiplier([]float64{0.5, 0.5, 0.5, 0.5}))

	// Growing magnitudes: no decay.
	require.Equal(t, 1.0, decayMultiplier([]float64{0.1, 0.2, 0.4}))

	// Halving each step: roughly a third of the edge remains.
	d := decayMultiplier([]float64{0.8, 0.4, 0.2, 0.1})
	require.InDelta(t, 0.3536, d, 1e-3)

	// Steep collapse is floored, never zeroed.
	require.Equal(t, 0.1, decayMultiplier([]float64{10, 0.001, 0.000001, 0.0000001}))

	// Too short to fit.
	require.Equal(t, 1.0, decayMultiplier([]float64{0.9, 0.1}))
}

func TestRecentSegmentSplitsAtSignFlip(t *testing.T) {
	got := recentSegment([]float64{-0.5, -0.4, 0.3, 0.2, 0.1})
	require.Equal(t, []float64{0.3, 0.2, 0.1}, got)

	// Single-sign series: whole thing.
	require.Len(t, recentSegment([]float64{0.1, 0.2, 0.3}), 3)
}
