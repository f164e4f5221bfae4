package learner

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PATTERN MINER - recursive scope-subset search over the trade event log
// ═══════════════════════════════════════════════════════════════════════════════
//
// For each (pattern key, action category) group: dedup events by parent
// trade id (one outcome per trade), then walk scope subsets starting from
// the empty subset, adding one dimension at a time in the fixed ScopeDims
// order. A branch is pruned BEFORE recursing once its sample count falls
// under the minimum, which bounds the search. Every surviving subset becomes
// one Lesson; whether its edge is big enough to act on is decided when
// overrides are materialized, so the persisted lesson table keeps the full
// audit and decay state.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Miner struct {
	minSamples int
	minEdge    float64
	dims       []string
}

func NewMiner(minSamples int, minEdge float64) *Miner {
	return &Miner{
		minSamples: minSamples,
		minEdge:    minEdge,
		dims:       types.ScopeDims[:],
	}
}

// Mine runs one full pass over the event log and returns every lesson that
// clears the minimum support. Events without a resolved outcome are ignored.
func (m *Miner) Mine(events []types.TradeEvent, now time.Time) []types.Lesson {
	groups := make(map[groupKey][]types.TradeEvent)
	for _, ev := range events {
		if !ev.OutcomeSet {
			continue
		}
		k := groupKey{pattern: ev.PatternKey, category: ev.Category}
		groups[k] = append(groups[k], ev)
	}

	var lessons []types.Lesson
	for k, evs := range groups {
		deduped := dedupByTrade(evs)
		if len(deduped) < m.minSamples {
			continue
		}
		baseline := computeStats(outcomesOf(deduped)).mean
		m.search(k, deduped, types.Scope{}, 0, baseline, now, &lessons)
	}

	log.Info().
		Int("events", len(events)).
		Int("groups", len(groups)).
		Int("lessons", len(lessons)).
		Msg("🧠 Mining pass complete")
	return lessons
}

type groupKey struct {
	pattern  string
	category types.Category
}

// dedupByTrade keeps the earliest event per parent trade id, so a trade that
// produced several events contributes exactly one outcome sample.
func dedupByTrade(events []types.TradeEvent) []types.TradeEvent {
	sorted := make([]types.TradeEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	seen := make(map[string]bool, len(sorted))
	out := sorted[:0]
	for _, ev := range sorted {
		if seen[ev.TradeID] {
			continue
		}
		seen[ev.TradeID] = true
		out = append(out, ev)
	}
	return out
}

// search records the lesson for the current subset, then branches into
// deeper subsets. events arrive chronologically sorted (dedupByTrade sorts)
// and already satisfy the minimum-sample prune.
func (m *Miner) search(k groupKey, events []types.TradeEvent, subset types.Scope, dimIdx int, baseline float64, now time.Time, out *[]types.Lesson) {
	*out = append(*out, m.lesson(k, events, subset, baseline, now))

	for di := dimIdx; di < len(m.dims); di++ {
		dim := m.dims[di]
		byValue := make(map[string][]types.TradeEvent)
		for _, ev := range events {
			if v, ok := ev.Scope[dim]; ok {
				byValue[v] = append(byValue[v], ev)
			}
		}
		for v, slice := range byValue {
			if len(slice) < m.minSamples {
				continue // prune before recursing
			}
			m.search(k, slice, subset.With(dim, v), di+1, baseline, now, out)
		}
	}
}

func (m *Miner) lesson(k groupKey, events []types.TradeEvent, subset types.Scope, baseline float64, now time.Time) types.Lesson {
	outcomes := outcomesOf(events)
	stats := computeStats(outcomes)
	decay := decayMultiplier(outcomes)
	edge := stats.edge(baseline, decay)

	return types.Lesson{
		PatternKey: k.pattern,
		Category:   k.category,
		Scope:      subset.Clone(),
		N:          stats.n,
		Mean:       stats.mean,
		Variance:   stats.variance,
		Delta:      stats.mean - baseline,
		Edge:       edge,
		Confidence: stats.confidence(),
		Decay:      decay,
		MinedAt:    now,
	}
}

func outcomesOf(events []types.TradeEvent) []float64 {
	out := make([]float64, len(events))
	for i, ev := range events {
		out[i] = ev.Outcome
	}
	return out
}
