package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/types"
)

const autoRestoreCooldown = 2 * time.Hour

// AgentCommander is the narrow slice of the manager's AgentClient the
// auto-restore path needs: asking an agent to check for trigger
// words. The restore itself is routed through OperationStarter.
type AgentCommander interface {
	CheckSnapshotTriggers(ctx context.Context, server, logFile string, triggerWords []string) (bool, error)
}

// OperationStarter is the slice of OperationExecutor this package
// depends on, kept narrow to avoid an import cycle with pkg/manager.
type OperationStarter interface {
	ExecuteAsync(ctx context.Context, opType types.OperationType, target string, isScheduled bool, work func(context.Context) error) (string, error)
}

// AutoRestoreNodeConfig is the subset of node configuration the
// auto-restore monitor needs per target.
type AutoRestoreNodeConfig struct {
	Enabled      bool
	Server       string
	LogPath      string
	TriggerWords []string
}

// RestoreFunc performs the actual snapshot-restore sequence against
// target's agent (spec §4.7), run inside OperationExecutor's
// background goroutine.
type RestoreFunc func(ctx context.Context, target, server string) error

// AutoRestoreMonitor owns the two per-node maps from spec §4.6/§9:
// the cooldown (gates how often a restore may actually fire) and the
// checked flag (ensures exactly one trigger evaluation per unhealthy
// episode). Grounded on original_source/manager/src/health/auto_restore.rs,
// with the restore dispatch routed through OperationExecutor per
// spec §4.5 step 3 instead of the original's direct snapshot call.
type AutoRestoreMonitor struct {
	mu        sync.Mutex
	cooldowns map[string]types.AutoRestoreCooldown
	checked   map[string]bool

	agent    AgentCommander
	executor OperationStarter
	alerts   AlertSender
	restore  RestoreFunc
}

// AlertSender is the narrow alert-dispatch surface this package needs.
type AlertSender interface {
	Send(ctx context.Context, a types.Alert)
}

// NewAutoRestoreMonitor constructs an empty AutoRestoreMonitor.
func NewAutoRestoreMonitor(agent AgentCommander, executor OperationStarter, alerts AlertSender, restore RestoreFunc) *AutoRestoreMonitor {
	return &AutoRestoreMonitor{
		cooldowns: make(map[string]types.AutoRestoreCooldown),
		checked:   make(map[string]bool),
		agent:     agent,
		executor:  executor,
		alerts:    alerts,
		restore:   restore,
	}
}

// ClearChecked resets the checked flag for node, called when the
// node returns to healthy (spec §4.6: "cleared on return to healthy").
func (a *AutoRestoreMonitor) ClearChecked(node string) {
	a.mu.Lock()
	delete(a.checked, node)
	a.mu.Unlock()
}

func (a *AutoRestoreMonitor) alreadyChecked(node string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checked[node]
}

func (a *AutoRestoreMonitor) markChecked(node string) {
	a.mu.Lock()
	a.checked[node] = true
	a.mu.Unlock()
}

// allowed reports whether enough time has passed since the last
// restore attempt for node. Absent cooldown state means always allowed.
func (a *AutoRestoreMonitor) allowed(node string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cd, ok := a.cooldowns[node]
	if !ok {
		return true
	}
	return now.Sub(cd.LastRestoreAttempt) >= autoRestoreCooldown
}

func (a *AutoRestoreMonitor) recordAttempt(node string, now time.Time) {
	a.mu.Lock()
	cd := a.cooldowns[node]
	cd.LastRestoreAttempt = now
	cd.RestoreCount++
	a.cooldowns[node] = cd
	a.mu.Unlock()
}

// CheckTriggers evaluates every unhealthy, auto-restore-enabled,
// non-maintenance status in statuses against its node's configuration.
// Grounded precisely on auto_restore.rs's ordering: the checked flag
// is set EVEN WHEN the cooldown blocks the attempt, so a node sitting
// in cooldown through a long unhealthy episode is still evaluated only
// once, not re-attempted every cycle once the cooldown clears.
func (a *AutoRestoreMonitor) CheckTriggers(ctx context.Context, statuses []types.HealthStatus, nodes map[string]AutoRestoreNodeConfig) {
	logger := log.WithComponent("autorestore")
	now := time.Now()

	for _, status := range statuses {
		if status.Healthy || !status.Enabled || status.InMaintenance {
			continue
		}
		if a.alreadyChecked(status.Target) {
			continue
		}

		nodeCfg, ok := nodes[status.Target]
		if !ok || !nodeCfg.Enabled || nodeCfg.LogPath == "" || len(nodeCfg.TriggerWords) == 0 {
			continue
		}

		if !a.allowed(status.Target, now) {
			logger.Debug().Str("target", status.Target).Msg("auto-restore in cooldown, marking checked without attempting")
			a.markChecked(status.Target)
			continue
		}

		logFile := nodeCfg.LogPath + "/out1.log"
		a.markChecked(status.Target)

		found, err := a.agent.CheckSnapshotTriggers(ctx, nodeCfg.Server, logFile, nodeCfg.TriggerWords)
		if err != nil {
			logger.Debug().Err(err).Str("target", status.Target).Msg("trigger check failed, treating as no match")
			continue
		}
		if !found {
			logger.Debug().Str("target", status.Target).Msg("no auto-restore trigger words found")
			continue
		}

		logger.Warn().Str("target", status.Target).Msg("auto-restore trigger words found, launching restore")
		a.fireRestore(ctx, status.Target, nodeCfg.Server, nodeCfg.TriggerWords)
	}
}

// fireRestore sends the "started" alert, then routes the actual
// restore through OperationExecutor; "completed"/"failed" alerts are
// sent from inside the background work closure once restore()
// returns, since ExecuteAsync itself only returns an id, not an
// outcome, per spec §4.3.
func (a *AutoRestoreMonitor) fireRestore(ctx context.Context, target, server string, triggerWords []string) {
	a.recordAttempt(target, time.Now())

	details, _ := json.Marshal(map[string]any{"trigger_words": triggerWords})
	a.alerts.Send(ctx, types.Alert{
		Timestamp:  time.Now(),
		AlarmType:  types.AlertAutoRestore,
		Severity:   types.SeverityWarning,
		NodeName:   target,
		Message:    "Auto-restore triggered: log pattern match",
		ServerHost: server,
		Details:    details,
	})

	_, err := a.executor.ExecuteAsync(ctx, types.OperationSnapshotRestore, target, true, func(workCtx context.Context) error {
		restoreErr := a.restore(workCtx, target, server)

		severity, message := types.SeverityInfo, "Auto-restore completed successfully"
		if restoreErr != nil {
			severity, message = types.SeverityCritical, "Auto-restore failed: "+restoreErr.Error()
		}
		a.alerts.Send(context.Background(), types.Alert{
			Timestamp:  time.Now(),
			AlarmType:  types.AlertAutoRestore,
			Severity:   severity,
			NodeName:   target,
			Message:    message,
			ServerHost: server,
			Details:    details,
		})
		return restoreErr
	})
	if err != nil {
		a.alerts.Send(ctx, types.Alert{
			Timestamp:  time.Now(),
			AlarmType:  types.AlertAutoRestore,
			Severity:   types.SeverityCritical,
			NodeName:   target,
			Message:    "Auto-restore failed to start: " + err.Error(),
			ServerHost: server,
			Details:    details,
		})
	}
}
