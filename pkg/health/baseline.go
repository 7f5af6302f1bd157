// Package health implements the fleet's liveness probing: the
// block-progression baseline rule shared by every node family,
// progressive alert scheduling, the two-phase monitor cycle, and the
// auto-restore trigger. Grounded on original_source's
// health/{cosmos,monitor,auto_restore}.rs (see DESIGN.md); the
// teacher's own pkg/health (generic HTTP/TCP/exec checkers) does not
// carry this domain's stateful baseline semantics and was not
// reusable beyond the general shape of "one file per concern".
package health

import (
	"sync"
	"time"

	"github.com/cuemby/fleetops/pkg/types"
)

const unhealthyGracePeriod = 5 * time.Minute

// BaselineTracker holds one BlockProgressionState per node, guarded
// by its own mutex (spec §9: "keep them independent so tests can
// reset one without the others").
type BaselineTracker struct {
	mu     sync.Mutex
	states map[string]*types.BlockProgressionState
}

// NewBaselineTracker constructs an empty tracker.
func NewBaselineTracker() *BaselineTracker {
	return &BaselineTracker{states: make(map[string]*types.BlockProgressionState)}
}

// Observe applies the block-progression rule of spec §4.5 for one
// fresh height observation on node, returning whether the node is
// healthy after this observation.
func (b *BaselineTracker) Observe(node string, height int64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[node]
	if !ok {
		b.states[node] = &types.BlockProgressionState{LastHeight: height, LastUpdated: now}
		return true
	}

	if s.UnhealthyBaseline != nil {
		if height > *s.UnhealthyBaseline {
			s.UnhealthyBaseline = nil
			s.UnhealthySince = nil
			s.LastHeight = height
			s.LastUpdated = now
			return true
		}
		s.LastHeight = height
		s.LastUpdated = now
		return false
	}

	if height > s.LastHeight {
		s.LastHeight = height
		s.LastUpdated = now
		return true
	}

	if now.Sub(s.LastUpdated) >= unhealthyGracePeriod {
		baseline := height
		s.UnhealthyBaseline = &baseline
		since := now
		s.UnhealthySince = &since
		return false
	}

	// Grace period: only last_height advances, last_updated is left
	// alone so the 5-minute window is measured from the original stall
	// timestamp, not reset by every same-height probe.
	s.LastHeight = height
	return true
}

// Reset clears a node's baseline state, used when tests want to
// re-initialise a single node without affecting others.
func (b *BaselineTracker) Reset(node string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, node)
}

// Snapshot returns a copy of a node's current state, or nil if unset.
func (b *BaselineTracker) Snapshot(node string) *types.BlockProgressionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[node]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}
