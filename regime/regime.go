package regime

import (
	"sync"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REGIME DETECTOR - aggressiveness / exit-assertiveness from rolling stats
// ═══════════════════════════════════════════════════════════════════════════════
//
// A ∈ [0,1] drives entry sizing tiers, E ∈ [0,1] drives trim tiers. Both are
// derived per instrument/timeframe from exponentially-weighted rolling
// statistics of the feature flow:
//
//   A — smoothed trend strength, leaning on the share of rising averages
//   E — smoothed exhaustion, leaning on volatility expansion vs its own
//       rolling norm
//
// Unseen keys fall back to a deliberately timid default: small entries,
// middling trims.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	emaAlpha = 0.1

	defaultAggro      = 0.2
	defaultExitAssert = 0.5
)

type rolling struct {
	trend      float64 // EMA of trend strength
	exhaustion float64 // EMA of exhaustion score
	relVol     float64 // EMA of volatility/price
	slopeShare float64 // EMA of the non-negative slope fraction
	samples    int
}

func (r *rolling) update(f *types.FeatureRecord, snap types.StateSnapshot) {
	rv := 0.0
	if f.Price > 0 {
		rv = f.Volatility / f.Price
	}
	pos := 0.0
	for _, s := range f.Slopes {
		if s >= 0 {
			pos++
		}
	}
	share := pos / float64(len(f.Slopes))

	if r.samples == 0 {
		r.trend = f.TrendStrength
		r.exhaustion = snap.ExhaustionScore
		r.relVol = rv
		r.slopeShare = share
	} else {
		r.trend += emaAlpha * (f.TrendStrength - r.trend)
		r.exhaustion += emaAlpha * (snap.ExhaustionScore - r.exhaustion)
		r.relVol += emaAlpha * (rv - r.relVol)
		r.slopeShare += emaAlpha * (share - r.slopeShare)
	}
	r.samples++
}

func (r *rolling) aggro() float64 {
	return clamp01(0.7*r.trend + 0.3*r.slopeShare)
}

func (r *rolling) exitAssert(f *types.FeatureRecord) float64 {
	expansion := 0.0
	if r.relVol > 0 && f != nil && f.Price > 0 {
		ratio := (f.Volatility / f.Price) / r.relVol
		// ratio 1 = normal vol; anything past 2× saturates.
		expansion = clamp01(ratio - 1)
	}
	return clamp01(0.6*r.exhaustion + 0.4*expansion)
}

// Detector keeps rolling state per instrument/timeframe.
type Detector struct {
	mu     sync.RWMutex
	state  map[string]*rolling
	latest map[string]*types.FeatureRecord
}

func NewDetector() *Detector {
	return &Detector{
		state:  make(map[string]*rolling),
		latest: make(map[string]*types.FeatureRecord),
	}
}

// Update ingests one bar. Called by the engine after the state machine ran,
// so the snapshot scores are current.
func (d *Detector) Update(f *types.FeatureRecord, snap types.StateSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := f.Instrument + "/" + f.Timeframe
	r, ok := d.state[k]
	if !ok {
		r = &rolling{}
		d.state[k] = r
	}
	r.update(f, snap)
	d.latest[k] = f
}

// Scores returns (A, E) for the key, defaults when nothing has been seen.
func (d *Detector) Scores(instrument, timeframe string) (float64, float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	k := instrument + "/" + timeframe
	r, ok := d.state[k]
	if !ok || r.samples == 0 {
		return defaultAggro, defaultExitAssert
	}
	return r.aggro(), r.exitAssert(d.latest[k])
}

// Band is the coarse regime scope value for the key.
func (d *Detector) Band(instrument, timeframe string) string {
	a, _ := d.Scores(instrument, timeframe)
	return types.RegimeBand(a)
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
