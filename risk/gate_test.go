package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3guy0/trendpilot/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEmergencyOncePerEpisode(t *testing.T) {
	g := NewGate(15 * time.Minute)

	h := types.ExecHistory{}
	require.True(t, g.EmergencyAllowed(h), "clean history")

	h.Set(types.CatEmergency, types.Mark{At: t0})
	require.False(t, g.EmergencyAllowed(h), "unresolved emergency blocks a second one")

	// A re-entry after the emergency starts a fresh episode.
	h.Set(types.CatEntry, types.Mark{At: t0.Add(time.Hour)})
	require.True(t, g.EmergencyAllowed(h))

	// Stale entry from BEFORE the emergency does not count.
	h2 := types.ExecHistory{}
	h2.Set(types.CatEntry, types.Mark{At: t0.Add(-time.Hour)})
	h2.Set(types.CatEmergency, types.Mark{At: t0})
	require.False(t, g.EmergencyAllowed(h2))
}

func TestTrimCooldown(t *testing.T) {
	bar := 15 * time.Minute
	g := NewGate(bar)
	cooldownBars := 5

	h := types.ExecHistory{}
	require.True(t, g.TrimAllowed(h, t0, cooldownBars, 100, true), "no prior trim")

	h.Set(types.CatTrim, types.Mark{At: t0, Bar: t0, Level: 100})

	// Inside the cooldown at the same level: blocked.
	inside := t0.Add(2 * bar)
	require.False(t, g.TrimAllowed(h, inside, cooldownBars, 100, true))

	// Inside the cooldown but price reached a different level: waived.
	require.True(t, g.TrimAllowed(h, inside, cooldownBars, 110, true))

	// Tiny level wobble is not a level change.
	require.False(t, g.TrimAllowed(h, inside, cooldownBars, 100.05, true))

	// Cooldown elapsed: allowed regardless of level.
	require.True(t, g.TrimAllowed(h, t0.Add(5*bar), cooldownBars, 100, true))
}

func TestFlagOncePerWindow(t *testing.T) {
	g := NewGate(15 * time.Minute)
	win := t0

	h := types.ExecHistory{}
	require.True(t, g.FlagAllowed(h, types.CatDip, win), "first firing in window")

	h.Set(types.CatDip, types.Mark{At: t0.Add(time.Minute), WindowBar: win})
	require.False(t, g.FlagAllowed(h, types.CatDip, win), "same window blocked")

	// A new qualifying window re-arms the flag.
	require.True(t, g.FlagAllowed(h, types.CatDip, win.Add(time.Hour)))

	// A trim after the last firing re-arms it within the same window.
	h.Set(types.CatTrim, types.Mark{At: t0.Add(2 * time.Minute)})
	require.True(t, g.FlagAllowed(h, types.CatDip, win))
}
