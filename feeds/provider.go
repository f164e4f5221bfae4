package feeds

import (
	"context"
	"fmt"
	"sync"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEATURE PROVIDER - per-bar technical snapshots for the core
// ═══════════════════════════════════════════════════════════════════════════════

// Provider serves the latest closed-bar feature record per instrument and
// timeframe. A missing record is an error, not a zero value: the core skips
// the cycle rather than evaluating fabricated features.
type Provider interface {
	Latest(ctx context.Context, instrument, timeframe string) (*types.FeatureRecord, error)
}

// ErrNoRecord is returned when no bar has arrived yet for the key.
var ErrNoRecord = fmt.Errorf("no feature record available")

// ─────────────────────────────────────────────
// Replay provider
// ─────────────────────────────────────────────

// Replay serves a scripted sequence of records, one per Advance call. Used
// in tests and backtest harnesses.
type Replay struct {
	mu      sync.Mutex
	records map[string][]*types.FeatureRecord // instrument/timeframe → sequence
	cursor  map[string]int
}

func NewReplay() *Replay {
	return &Replay{
		records: make(map[string][]*types.FeatureRecord),
		cursor:  make(map[string]int),
	}
}

func (r *Replay) Load(instrument, timeframe string, records []*types.FeatureRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key(instrument, timeframe)] = records
	r.cursor[key(instrument, timeframe)] = -1
}

// Advance moves to the next bar. Returns false when the script is exhausted.
func (r *Replay) Advance(instrument, timeframe string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(instrument, timeframe)
	if r.cursor[k]+1 >= len(r.records[k]) {
		return false
	}
	r.cursor[k]++
	return true
}

func (r *Replay) Latest(_ context.Context, instrument, timeframe string) (*types.FeatureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(instrument, timeframe)
	i := r.cursor[k]
	if i < 0 || i >= len(r.records[k]) {
		return nil, ErrNoRecord
	}
	return r.records[k][i], nil
}

func key(instrument, timeframe string) string {
	return instrument + "/" + timeframe
}
