// Package manager holds the manager-tier components: OperationExecutor
// (this file) and AgentClient (agentclient.go). Grounded on
// original_source/manager/src/services/operation_executor.rs and
// http/agent_manager.rs; style (structured client wrapper, per-call
// context, one background goroutine per operation) carried over from
// the teacher's pkg/worker sequential-pipeline idiom.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/fleetops/pkg/alert"
	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/metrics"
	"github.com/cuemby/fleetops/pkg/scheduler"
	"github.com/cuemby/fleetops/pkg/storage"
	"github.com/cuemby/fleetops/pkg/types"
	"github.com/google/uuid"
)

// TargetResolver maps a target name to the server host it lives on,
// for alert payloads and for the lock's server field. Implemented by
// the manager's config-backed registry; kept as a narrow function type
// here to avoid this package depending on pkg/config.
type TargetResolver func(target string) (server string, ok bool)

// OperationExecutor is the single entry point used by the scheduler,
// the manager API and the auto-restore path (spec §4.3).
type OperationExecutor struct {
	store   storage.Store
	locks   *scheduler.MaintenanceTracker
	alerts  *alert.Service
	resolve TargetResolver
	cleanup time.Duration
}

// NewOperationExecutor constructs an OperationExecutor.
func NewOperationExecutor(store storage.Store, locks *scheduler.MaintenanceTracker, alerts *alert.Service, resolve TargetResolver) *OperationExecutor {
	return &OperationExecutor{store: store, locks: locks, alerts: alerts, resolve: resolve, cleanup: time.Hour}
}

// estimatedMinutesFor is a coarse per-type duration estimate used only
// for the maintenance window's informational field (which
// MaintenanceTracker.Overdue compares against); the sweeper's cutoff
// does not depend on it, and it is not a timeout (spec: no client-side
// timeouts on long operations).
func estimatedMinutesFor(opType types.OperationType) int {
	switch opType {
	case types.OperationSnapshotCreation, types.OperationSnapshotRestore:
		return 24 * 60
	case types.OperationStateSync:
		return 120
	case types.OperationPruning:
		return 60
	default:
		return 15
	}
}

// ExecuteAsync implements spec §4.3: open the target's maintenance
// window (failing with ErrLockBusy if one is already open), generate an
// id, resolve the server, persist the started record (closing the
// window again if that fails), spawn the background body, and return
// immediately. Manual operations never alert; scheduled operations
// alert only on failure, with exactly one Critical alert.
func (e *OperationExecutor) ExecuteAsync(ctx context.Context, opType types.OperationType, target string, isScheduled bool, work func(context.Context) error) (string, error) {
	logger := log.WithComponent("executor")

	if err := e.locks.TryStart(target, opType, estimatedMinutesFor(opType), e.serverFor(target)); err != nil {
		metrics.LockBusyTotal.WithLabelValues(target).Inc()
		return "", err
	}

	id := uuid.New().String()
	server := e.serverFor(target)

	op := &types.Operation{
		ID:        id,
		Type:      opType,
		Target:    target,
		Server:    server,
		Status:    types.StatusStarted,
		StartedAt: time.Now(),
	}
	if err := e.store.PutOperation(op); err != nil {
		e.locks.End(target)
		return "", fmt.Errorf("executor: failed to persist operation start: %w", err)
	}

	logger.Info().Str("operation_id", id).Str("type", string(opType)).Str("target", target).Bool("scheduled", isScheduled).Msg("operation started")

	go e.runBackground(id, opType, target, server, isScheduled, work)

	return id, nil
}

func (e *OperationExecutor) serverFor(target string) string {
	if e.resolve == nil {
		return "unknown"
	}
	if server, ok := e.resolve(target); ok {
		return server
	}
	return "unknown"
}

func (e *OperationExecutor) runBackground(id string, opType types.OperationType, target, server string, isScheduled bool, work func(context.Context) error) {
	logger := log.WithOperationID(id)
	timer := metrics.NewTimer()
	defer e.locks.End(target)

	err := work(context.Background())
	timer.ObserveDurationVec(metrics.OperationDuration, string(opType))
	now := time.Now()

	if err == nil {
		metrics.OperationsTotal.WithLabelValues(string(opType), string(types.StatusCompleted)).Inc()
		if updErr := e.store.UpdateOperationStatus(id, types.StatusCompleted, &now, ""); updErr != nil {
			logger.Error().Err(updErr).Msg("failed to persist completed status")
		}
		// No success alerts — operations completing successfully is routine.
		logger.Info().Str("type", string(opType)).Str("target", target).Msg("operation completed")
		return
	}

	metrics.OperationsTotal.WithLabelValues(string(opType), string(types.StatusFailed)).Inc()
	if updErr := e.store.UpdateOperationStatus(id, types.StatusFailed, &now, err.Error()); updErr != nil {
		logger.Error().Err(updErr).Msg("failed to persist failed status")
	}

	logger.Error().Err(err).Str("type", string(opType)).Str("target", target).Msg("operation failed")

	// Only scheduled operations alert on failure; manual calls are
	// user-initiated and their outcome is already visible to the caller.
	if isScheduled {
		details, _ := json.Marshal(map[string]any{
			"operation_id":   id,
			"operation_type": opType,
			"scheduled":      true,
		})
		e.alerts.SendMaintenanceFailure(context.Background(), opType, target, server,
			fmt.Sprintf("Scheduled %s failed for %s: %v", opType, target, err), details)
	}
}

// Cancel releases the target lock and marks the record failed. It
// does not signal the agent: this ambiguity is preserved verbatim per
// spec §9's explicit instruction — the agent's in-flight work
// continues and the two records may diverge.
func (e *OperationExecutor) Cancel(id, target string) error {
	e.locks.End(target)
	now := time.Now()
	return e.store.UpdateOperationStatus(id, types.StatusFailed, &now, "cancelled by operator")
}

// CleanupStuck runs the crash-recovery sweep at process start.
func (e *OperationExecutor) CleanupStuck() (int, error) {
	return e.store.CleanupStuck(e.cleanup)
}
