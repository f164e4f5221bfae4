package overrides

import (
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MATERIALIZER - lessons → overrides
// ═══════════════════════════════════════════════════════════════════════════════

// Sizing multipliers may swing wide; threshold multipliers stay near 1 so a
// single lesson can never blow a gate open.
const (
	sizingMin = 0.3
	sizingMax = 3.0

	thresholdMin = 0.8
	thresholdMax = 1.25
)

// Materialize converts lessons into one override per knob, keeping only
// those whose edge magnitude clears minEdge — the rest stay persisted as
// lessons but adjust nothing. Entry-category lessons also adjust gate
// thresholds: a positive edge loosens the gate (multiplier below 1), a
// negative edge tightens it. Emergency exits are never override-scaled.
func Materialize(lessons []types.Lesson, minEdge float64) []types.Override {
	out := make([]types.Override, 0, len(lessons))
	for _, l := range lessons {
		if l.Category == types.CatEmergency {
			continue
		}
		if l.Edge < minEdge && l.Edge > -minEdge {
			continue
		}

		out = append(out, types.Override{
			Class:      types.OverrideSizing,
			PatternKey: l.PatternKey,
			Category:   l.Category,
			Scope:      l.Scope.Clone(),
			Multiplier: clamp(1+l.Edge, sizingMin, sizingMax),
			Confidence: l.Confidence,
		})

		if isEntryCategory(l.Category) {
			out = append(out, types.Override{
				Class:      types.OverrideThreshold,
				PatternKey: l.PatternKey,
				Category:   l.Category,
				Scope:      l.Scope.Clone(),
				Multiplier: clamp(1-l.Edge/2, thresholdMin, thresholdMax),
				Confidence: l.Confidence,
			})
		}
	}

	log.Debug().
		Int("lessons", len(lessons)).
		Int("overrides", len(out)).
		Msg("Materialized overrides")
	return out
}

func isEntryCategory(c types.Category) bool {
	for _, ec := range types.EntryCategories {
		if c == ec {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
