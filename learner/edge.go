package learner

import (
	"math"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EDGE STATISTICS - how much a (pattern, scope) slice actually beats baseline
// ═══════════════════════════════════════════════════════════════════════════════
//
// edge = delta × reliability × (support + magnitude + stability) × decay
//
//   delta       mean(slice) − mean(group baseline)
//   reliability 1 / (1 + shrunk variance), variance shrunk toward a unit
//               prior with pseudo-count k=10 so tiny slices don't look
//               spuriously reliable
//   support     1 − e^(−n/50), saturating sample-count weight
//   magnitude   sigmoid of the mean outcome
//   stability   1 / (1 + raw variance)
//   decay       [0.1, 1.0] multiplier from the recent-outcome trend fit
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	shrinkagePrior    = 10.0 // pseudo-count toward the prior variance
	priorVariance     = 1.0
	supportScale      = 50.0
	decayMinFit       = 3 // segments shorter than this don't get a decay fit
	decayFloor        = 0.1
	logMagnitudeFloor = 1e-9
)

type sliceStats struct {
	n        int
	mean     float64
	variance float64
}

func computeStats(outcomes []float64) sliceStats {
	n := len(outcomes)
	if n == 0 {
		return sliceStats{}
	}
	var sum float64
	for _, o := range outcomes {
		sum += o
	}
	mean := sum / float64(n)
	var ss float64
	for _, o := range outcomes {
		d := o - mean
		ss += d * d
	}
	return sliceStats{n: n, mean: mean, variance: ss / float64(n)}
}

func (s sliceStats) reliability() float64 {
	fn := float64(s.n)
	shrunk := (fn*s.variance + shrinkagePrior*priorVariance) / (fn + shrinkagePrior)
	return 1 / (1 + shrunk)
}

func (s sliceStats) support() float64 {
	return 1 - math.Exp(-float64(s.n)/supportScale)
}

func (s sliceStats) magnitude() float64 {
	return sigmoid(s.mean)
}

func (s sliceStats) stability() float64 {
	return 1 / (1 + s.variance)
}

// confidence weighs how much an override built from this slice should count
// at blend time: plenty of samples AND consistent outcomes.
func (s sliceStats) confidence() float64 {
	return clampF(s.support()*s.stability(), 0, 1)
}

func (s sliceStats) edge(baseline, decay float64) float64 {
	delta := s.mean - baseline
	return delta * s.reliability() * (s.support() + s.magnitude() + s.stability()) * decay
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// ─────────────────────────────────────────────
// Decay fit
// ─────────────────────────────────────────────

// decayMultiplier estimates how much of the slice's edge survives today.
// Outcomes must be in chronological order. The magnitude of the outcome
// series is fit with a log-linear trend (an exponential decay toward zero in
// the original space, sign preserved); if the series crosses zero, only the
// most recent sign-consistent segment is fit. A shrinking trend discounts
// the edge by the fitted fraction remaining at the series' end, floored at
// 0.1; a flat or growing trend leaves it untouched.
func decayMultiplier(outcomes []float64) float64 {
	seg := recentSegment(outcomes)
	if len(seg) < decayMinFit {
		return 1.0
	}
	slope := logMagnitudeSlope(seg)
	if slope >= 0 {
		return 1.0
	}
	remaining := math.Exp(slope * float64(len(seg)-1) / 2)
	return clampF(remaining, decayFloor, 1.0)
}

// recentSegment returns the trailing run of outcomes sharing one sign.
// Zeros extend whichever run they fall inside.
func recentSegment(outcomes []float64) []float64 {
	if len(outcomes) == 0 {
		return nil
	}
	sign := 0.0
	start := 0
	for i := len(outcomes) - 1; i >= 0; i-- {
		o := outcomes[i]
		if o == 0 {
			continue
		}
		if sign == 0 {
			sign = math.Copysign(1, o)
			continue
		}
		if math.Copysign(1, o) != sign {
			start = i + 1
			break
		}
	}
	return outcomes[start:]
}

// logMagnitudeSlope is the least-squares slope of ln|outcome| against the
// sample index.
func logMagnitudeSlope(outcomes []float64) float64 {
	n := float64(len(outcomes))
	var sumX, sumY, sumXY, sumXX float64
	for i, o := range outcomes {
		x := float64(i)
		y := math.Log(math.Max(math.Abs(o), logMagnitudeFloor))
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
