package risk

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION GATES - cooldown and dedup rules for the decision ladder
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flag truth is the state machine's job; these gates decide whether an
// already-true flag may ACT this cycle given the execution history.
//
// ═══════════════════════════════════════════════════════════════════════════════

// levelChangeTol: support/resistance levels closer than this relative
// distance count as the same level for cooldown purposes.
const levelChangeTol = 0.001

// Gate enforces per-position action gating.
type Gate struct {
	barDuration time.Duration
}

func NewGate(barDuration time.Duration) *Gate {
	return &Gate{barDuration: barDuration}
}

// EmergencyAllowed permits at most one emergency exit per unresolved
// emergency episode: blocked while an emergency mark exists with no full
// re-entry after it.
func (g *Gate) EmergencyAllowed(h types.ExecHistory) bool {
	em, ok := h.Get(types.CatEmergency)
	if !ok {
		return true
	}
	for _, cat := range types.EntryCategories {
		if m, ok := h.Get(cat); ok && m.At.After(em.At) {
			return true
		}
	}
	log.Debug().Time("last_emergency", em.At).Msg("🚫 Emergency exit already fired this episode")
	return false
}

// TrimAllowed enforces the trim cooldown: no repeat trim within cooldownBars
// unless price has moved to a materially different support/resistance level
// since the last trim.
func (g *Gate) TrimAllowed(h types.ExecHistory, barTime time.Time, cooldownBars int, nearestLevel float64, haveLevel bool) bool {
	m, ok := h.Get(types.CatTrim)
	if !ok {
		return true
	}
	elapsed := barTime.Sub(m.Bar)
	if g.barDuration > 0 && elapsed >= time.Duration(cooldownBars)*g.barDuration {
		return true
	}
	// Level-change override on the cooldown.
	if haveLevel && m.Level != 0 && relDiff(nearestLevel, m.Level) > levelChangeTol {
		log.Debug().
			Float64("prev_level", m.Level).
			Float64("level", nearestLevel).
			Msg("Trim cooldown waived: level changed")
		return true
	}
	return false
}

// FlagAllowed permits each entry flag type to fire at most once per
// qualifying state window. A trim after the last firing re-arms the flag for
// the same window.
func (g *Gate) FlagAllowed(h types.ExecHistory, cat types.Category, windowBar time.Time) bool {
	m, ok := h.Get(cat)
	if !ok {
		return true
	}
	if !m.WindowBar.Equal(windowBar) {
		return true // new window
	}
	if trim, ok := h.Get(types.CatTrim); ok && trim.At.After(m.At) {
		return true // trim resets the add-gate
	}
	return false
}

func relDiff(a, b float64) float64 {
	base := math.Max(math.Abs(a), math.Abs(b))
	if base == 0 {
		return 0
	}
	return math.Abs(a-b) / base
}
