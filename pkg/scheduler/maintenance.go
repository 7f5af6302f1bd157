package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetops/pkg/errs"
	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/types"
)

// MaintenanceTracker is the single source of truth for per-target
// mutual exclusion and open maintenance windows (spec §4.1). A
// window's existence for a target *is* the lock on that target;
// there is deliberately no separate lock map, because a node "locked
// but not monitored-as-in-maintenance" (or vice versa) is exactly the
// bug class this structure exists to remove.
type MaintenanceTracker struct {
	mu      sync.Mutex
	windows map[string]types.MaintenanceWindow
}

// NewMaintenanceTracker constructs an empty tracker.
func NewMaintenanceTracker() *MaintenanceTracker {
	return &MaintenanceTracker{windows: make(map[string]types.MaintenanceWindow)}
}

// TryStart atomically checks that no window is open for target, then
// opens one. Concurrent callers for the same target: exactly one
// returns nil; the rest get an error wrapping errs.ErrLockBusy that
// names the operation type holding the window.
func (m *MaintenanceTracker) TryStart(target string, opType types.OperationType, estimatedMinutes int, server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, busy := m.windows[target]; busy {
		return fmt.Errorf("%w (held by %s)", errs.ErrLockBusy, existing.OperationType)
	}

	m.windows[target] = types.MaintenanceWindow{
		Target:                   target,
		OperationType:            opType,
		StartedAt:                time.Now(),
		EstimatedDurationMinutes: estimatedMinutes,
		Server:                   server,
	}
	return nil
}

// End closes the window for target. Absent is non-fatal: it is
// logged, not raised, matching the original's "end on an operation
// that never opened a window" tolerance.
func (m *MaintenanceTracker) End(target string) {
	m.mu.Lock()
	_, existed := m.windows[target]
	delete(m.windows, target)
	m.mu.Unlock()

	if !existed {
		log.WithComponent("maintenance").Warn().Str("target", target).Msg("end requested for target with no open maintenance window")
	}
}

// IsActive reports whether target currently has an open window.
func (m *MaintenanceTracker) IsActive(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.windows[target]
	return ok
}

// SweepExpired force-closes windows older than cutoffHours, a safety
// valve for windows whose operation crashed without calling End.
// Observationally equivalent to End for each affected target.
func (m *MaintenanceTracker) SweepExpired(cutoffHours int) int {
	cutoff := time.Now().Add(-time.Duration(cutoffHours) * time.Hour)

	m.mu.Lock()
	var removed []string
	for target, w := range m.windows {
		if w.StartedAt.Before(cutoff) {
			removed = append(removed, target)
		}
	}
	for _, target := range removed {
		delete(m.windows, target)
	}
	m.mu.Unlock()

	logger := log.WithComponent("maintenance")
	for _, target := range removed {
		logger.Warn().Str("target", target).Int("cutoff_hours", cutoffHours).Msg("force-removed stuck maintenance window")
	}
	return len(removed)
}

// AllInMaintenance returns a snapshot of every open window, for
// internal diagnostics and tests only — not exposed over HTTP (spec §1
// places read-only web views out of scope).
func (m *MaintenanceTracker) AllInMaintenance() []types.MaintenanceWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MaintenanceWindow, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, w)
	}
	return out
}

// Overdue returns windows that have run longer than their own
// estimated duration, for internal diagnostics.
func (m *MaintenanceTracker) Overdue(now time.Time) []types.MaintenanceWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.MaintenanceWindow
	for _, w := range m.windows {
		if now.Sub(w.StartedAt) > time.Duration(w.EstimatedDurationMinutes)*time.Minute {
			out = append(out, w)
		}
	}
	return out
}
