package exec

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTOR BOUNDARY - fire intent, await result later
// ═══════════════════════════════════════════════════════════════════════════════
//
// The core emits an intent and returns; the venue's result arrives later on
// the Results channel and is what actually mutates position money fields.
// One implementation per venue; the core only depends on the interface.
//
// Intent Flow:
//   Engine → Pending.Register → Executor.Execute → venue
//                                      ↓
//                              Results channel
//                                ↓    ↓    ↓
//                          SUCCESS  SKIPPED  ERROR
//
// ═══════════════════════════════════════════════════════════════════════════════

// Executor places sized intents on a venue.
type Executor interface {
	// Prepare validates the intent against venue constraints without
	// placing anything. A rejection here is synchronous and final.
	Prepare(ctx context.Context, intent types.Intent) error

	// Execute places the intent. Non-blocking: the outcome arrives on
	// Results, possibly much later or never.
	Execute(ctx context.Context, intent types.Intent) error

	// Results is the asynchronous outcome stream.
	Results() <-chan types.ExecResult
}

// ─────────────────────────────────────────────
// Pending intent tracking
// ─────────────────────────────────────────────

// Pending tracks in-flight intents per position. The engine refuses to emit
// a second intent for a position while one is outstanding, and the sweep
// turns silent intents into explicit timeout results so the position can
// re-evaluate from current truth on the next bar.
type Pending struct {
	mu      sync.Mutex
	byPos   map[string]pendingIntent // positionID → outstanding intent
	timeout time.Duration
	expired chan types.ExecResult
}

type pendingIntent struct {
	intent types.Intent
	since  time.Time
}

func NewPending(timeout time.Duration) *Pending {
	return &Pending{
		byPos:   make(map[string]pendingIntent),
		timeout: timeout,
		expired: make(chan types.ExecResult, 64),
	}
}

// Outstanding reports whether a position has an unresolved intent.
func (p *Pending) Outstanding(positionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byPos[positionID]
	return ok
}

// Register records an intent as in-flight. Returns false if the position
// already has one outstanding (the caller must not execute).
func (p *Pending) Register(intent types.Intent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byPos[intent.PositionID]; ok {
		return false
	}
	p.byPos[intent.PositionID] = pendingIntent{intent: intent, since: time.Now()}
	return true
}

// Resolve clears the outstanding slot when a result arrives and hands back
// the original intent for the apply step. A late result for an intent the
// sweep already expired returns false; the caller must drop it rather than
// double-apply.
func (p *Pending) Resolve(res types.ExecResult) (types.Intent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.byPos[res.PositionID]
	if !ok || cur.intent.ID != res.IntentID {
		return types.Intent{}, false
	}
	delete(p.byPos, res.PositionID)
	return cur.intent, true
}

// Sweep expires intents older than the timeout, emitting an error result
// for each on the Expired channel.
func (p *Pending) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	expired := 0
	for posID, pi := range p.byPos {
		if now.Sub(pi.since) < p.timeout {
			continue
		}
		delete(p.byPos, posID)
		expired++
		log.Warn().
			Str("intent", pi.intent.ID).
			Str("position", posID).
			Str("action", string(pi.intent.Action)).
			Dur("age", now.Sub(pi.since)).
			Msg("⏰ Intent timed out, treating as unresolved")
		select {
		case p.expired <- types.ExecResult{
			IntentID:   pi.intent.ID,
			PositionID: posID,
			Status:     types.ResultError,
			Reason:     "timeout",
			Timestamp:  now,
		}:
		default:
			// Channel full; the slot is already cleared, which is what
			// unblocks the position.
		}
	}
	return expired
}

// Expired is the stream of timeout results.
func (p *Pending) Expired() <-chan types.ExecResult {
	return p.expired
}
