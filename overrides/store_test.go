package overrides

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/types"
)

func TestBlendWeighting(t *testing.T) {
	store := NewStore()
	store.Replace([]types.Override{
		{Class: types.OverrideSizing, Scope: types.Scope{}, Multiplier: 1.1, Confidence: 0.8},
		{Class: types.OverrideSizing, Scope: types.Scope{"timeframe": "15m"}, Multiplier: 1.15, Confidence: 0.9},
		// Mismatched subset key: must be excluded entirely.
		{Class: types.OverrideSizing, Scope: types.Scope{"timeframe": "1h"}, Multiplier: 5.0, Confidence: 1.0},
	})

	scope := types.Scope{"timeframe": "15m", "venue": "paper"}
	got := store.Current().Sizing("s1-entry", types.CatEntry, scope)

	w1 := 0.8 * math.Pow(1, 1.5)
	w2 := 0.9 * math.Pow(2, 1.5)
	want := (1.1*w1 + 1.15*w2) / (w1 + w2)
	require.InDelta(t, want, got, 1e-6)
}

func TestNoMatchIsNeutral(t *testing.T) {
	store := NewStore()
	require.Equal(t, 1.0, store.Current().Sizing("s1-entry", types.CatEntry, types.Scope{"timeframe": "15m"}))

	store.Replace([]types.Override{
		{Class: types.OverrideThreshold, Scope: types.Scope{}, Multiplier: 0.9, Confidence: 1.0},
	})
	// Sizing lookup must not see threshold overrides.
	require.Equal(t, 1.0, store.Current().Sizing("s1-entry", types.CatEntry, types.Scope{}))
}

func TestPatternAndCategoryFilters(t *testing.T) {
	store := NewStore()
	store.Replace([]types.Override{
		{Class: types.OverrideSizing, PatternKey: "s3-ride", Category: types.CatDip, Scope: types.Scope{}, Multiplier: 2.0, Confidence: 1.0},
	})
	set := store.Current()

	require.Equal(t, 2.0, set.Sizing("s3-ride", types.CatDip, types.Scope{}))
	require.Equal(t, 1.0, set.Sizing("s1-entry", types.CatDip, types.Scope{}), "other pattern excluded")
	require.Equal(t, 1.0, set.Sizing("s3-ride", types.CatTrim, types.Scope{}), "other category excluded")
}

// TestAtomicReplace hammers Replace while readers blend; every observed set
// must be internally consistent (all multipliers from one generation).
func TestAtomicReplace(t *testing.T) {
	store := NewStore()
	scope := types.Scope{"timeframe": "15m"}

	gen := func(mult float64) []types.Override {
		return []types.Override{
			{Class: types.OverrideSizing, Scope: types.Scope{}, Multiplier: mult, Confidence: 1.0},
			{Class: types.OverrideSizing, Scope: types.Scope{"timeframe": "15m"}, Multiplier: mult, Confidence: 1.0},
		}
	}
	store.Replace(gen(1.0))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			store.Replace(gen(1.0 + float64(i%7)/10))
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				set := store.Current()
				got := set.Sizing("x", types.CatEntry, scope)
				// Both overrides in a generation share one multiplier, so any
				// blend must return exactly that multiplier.
				if len(set.Overrides) > 0 {
					want := set.Overrides[0].Multiplier
					if math.Abs(got-want) > 1e-9 {
						t.Errorf("torn read: blend %v from set with multiplier %v", got, want)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	require.Greater(t, store.Current().Version, int64(400))
}

func TestMaterialize(t *testing.T) {
	lessons := []types.Lesson{
		{PatternKey: "s1-entry", Category: types.CatEntry, Scope: types.Scope{"timeframe": "15m"}, Edge: 0.4, Confidence: 0.7},
		{PatternKey: "s3-ride", Category: types.CatTrim, Scope: types.Scope{}, Edge: -0.9, Confidence: 0.5},
		{PatternKey: "s3-ride", Category: types.CatEmergency, Scope: types.Scope{}, Edge: 3.0, Confidence: 0.9},
		{PatternKey: "s2-retest", Category: types.CatEntry, Scope: types.Scope{}, Edge: 0.01, Confidence: 0.9},
	}

	got := Materialize(lessons, 0.05)

	// entry lesson → sizing + threshold, trim lesson → sizing only,
	// emergency lesson → nothing, weak-edge lesson → nothing.
	require.Len(t, got, 3)

	require.Equal(t, types.OverrideSizing, got[0].Class)
	require.InDelta(t, 1.4, got[0].Multiplier, 1e-9)

	require.Equal(t, types.OverrideThreshold, got[1].Class)
	require.InDelta(t, 0.8, got[1].Multiplier, 1e-9, "threshold clamped at lower bound")

	require.Equal(t, types.OverrideSizing, got[2].Class)
	require.Equal(t, types.CatTrim, got[2].Category)
	require.InDelta(t, 0.3, got[2].Multiplier, 1e-9, "sizing clamped at lower bound")
}
