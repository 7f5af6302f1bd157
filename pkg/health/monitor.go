package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/metrics"
	"github.com/cuemby/fleetops/pkg/scheduler"
	"github.com/cuemby/fleetops/pkg/storage"
	"github.com/cuemby/fleetops/pkg/types"
)

// NodeTarget is the subset of node configuration the monitor needs to
// probe one node and classify its result.
type NodeTarget struct {
	Network string
	Server  string
	RPCURL  string
	Enabled bool
}

// RelayerTarget is the subset of relayer configuration needed for a
// service-status probe (SPEC_FULL §4.9).
type RelayerTarget struct {
	Server      string
	ServiceName string
}

// relayerAgent is the narrow agent surface relayer health needs,
// satisfied by manager.AgentClient.ServiceState.
type relayerAgent interface {
	ServiceState(ctx context.Context, server, serviceName string) (types.ServiceState, int64, error)
}

// Monitor is the manager's health-monitoring orchestrator: parallel
// per-node RPC probing, block-progression baseline tracking,
// progressive alerting, relayer service-status probing, and the two
// batch passes (log monitoring, auto-restore triggers) that run once
// per cycle over the just-collected statuses. Grounded on
// original_source/manager/src/health/monitor.rs; the three
// independent per-concern maps it documents are BaselineTracker (this
// package), the progressive-alert state below, and AutoRestoreMonitor.
type Monitor struct {
	store       storage.Store
	locks       *scheduler.MaintenanceTracker
	alerts      AlertSender
	baseline    *BaselineTracker
	logMonitor  *LogMonitor
	autoRestore *AutoRestoreMonitor
	relayers    relayerAgent

	rpcTimeout time.Duration

	alertMu    sync.Mutex
	alertState map[string]types.ProgressiveAlertState
}

// NewMonitor constructs a Monitor. autoRestore may be nil to disable
// the auto-restore trigger entirely.
func NewMonitor(store storage.Store, locks *scheduler.MaintenanceTracker, alerts AlertSender, logMonitor *LogMonitor, autoRestore *AutoRestoreMonitor, relayers relayerAgent, rpcTimeout time.Duration) *Monitor {
	return &Monitor{
		store:       store,
		locks:       locks,
		alerts:      alerts,
		baseline:    NewBaselineTracker(),
		logMonitor:  logMonitor,
		autoRestore: autoRestore,
		relayers:    relayers,
		rpcTimeout:  rpcTimeout,
		alertState:  make(map[string]types.ProgressiveAlertState),
	}
}

// CheckAllNodes runs one full probe cycle over nodes, the spec §4.5
// two-phase shape: (1) parallel per-node probe + persist + alert
// fan-out, (2) the log-monitoring and auto-restore-trigger batch
// passes over the collected statuses.
func (m *Monitor) CheckAllNodes(ctx context.Context, nodes map[string]NodeTarget, nodeLogCfg map[string]LogMonitorNodeConfig, nodeRestoreCfg map[string]AutoRestoreNodeConfig) []types.HealthStatus {
	var (
		mu       sync.Mutex
		statuses []types.HealthStatus
		wg       sync.WaitGroup
	)

	for name, node := range nodes {
		if !node.Enabled {
			continue
		}

		if m.locks.IsActive(name) {
			status := types.HealthStatus{
				Target:        name,
				RPCURL:        node.RPCURL,
				Healthy:       false,
				Error:         "node is in maintenance mode - health checks suspended",
				LastCheck:     time.Now(),
				Enabled:       node.Enabled,
				InMaintenance: true,
			}
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string, node NodeTarget) {
			defer wg.Done()
			status := m.probeNode(ctx, name, node)
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
		}(name, node)
	}
	wg.Wait()

	for _, status := range statuses {
		if err := m.store.PutHealthStatus(&status); err != nil {
			log.WithComponent("health").Error().Err(err).Str("target", status.Target).Msg("failed to persist health status")
		}
		m.handleAlerts(ctx, status)
	}

	nonMaintenance := make([]types.HealthStatus, 0, len(statuses))
	for _, s := range statuses {
		if !s.InMaintenance {
			nonMaintenance = append(nonMaintenance, s)
		}
	}

	if len(nonMaintenance) > 0 {
		if m.logMonitor != nil {
			m.logMonitor.Run(ctx, nonMaintenance, nodeLogCfg)
		}
		if m.autoRestore != nil {
			m.autoRestore.CheckTriggers(ctx, nonMaintenance, nodeRestoreCfg)
		}
	}

	return statuses
}

func (m *Monitor) probeNode(ctx context.Context, name string, node NodeTarget) types.HealthStatus {
	timer := metrics.NewTimer()
	client := &http.Client{Timeout: m.rpcTimeout}
	probe := ProbeFor(node.Network)

	result, err := probe(ctx, client, node.RPCURL)
	timer.ObserveDurationVec(metrics.HealthProbeDuration, name)

	now := time.Now()
	if err != nil {
		metrics.HealthProbesTotal.WithLabelValues(name, "false").Inc()
		return types.HealthStatus{
			Target:    name,
			RPCURL:    node.RPCURL,
			Healthy:   false,
			Error:     err.Error(),
			LastCheck: now,
			Enabled:   node.Enabled,
		}
	}

	// A catching-up node counts as healthy even when its height has not moved.
	healthy := m.baseline.Observe(name, result.Height, now) || result.CatchingUp
	metrics.HealthProbesTotal.WithLabelValues(name, boolLabel(healthy)).Inc()

	height := result.Height
	return types.HealthStatus{
		Target:      name,
		RPCURL:      node.RPCURL,
		Healthy:     healthy,
		CatchingUp:  result.CatchingUp,
		BlockHeight: &height,
		LastCheck:   now,
		Enabled:     node.Enabled,
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// handleAlerts applies the progressive-alert schedule (spec §4.5/§4.8)
// and, on recovery, clears the auto-restore checked flag so the next
// unhealthy episode is evaluated fresh.
func (m *Monitor) handleAlerts(ctx context.Context, status types.HealthStatus) {
	if status.InMaintenance {
		return
	}

	if status.Healthy {
		m.clearAlertState(status.Target)
		if m.autoRestore != nil {
			m.autoRestore.ClearChecked(status.Target)
		}
		return
	}

	m.alertMu.Lock()
	state := m.alertState[status.Target]
	state.ConsecutiveFailures++
	send := state.ConsecutiveFailures >= minConsecutiveFailures && ShouldSendAlarm(state, status.LastCheck)
	if send {
		state.AlarmCount++
		state.LastAlarmAt = status.LastCheck
	}
	m.alertState[status.Target] = state
	m.alertMu.Unlock()

	if !send {
		return
	}

	m.alerts.Send(ctx, types.Alert{
		Timestamp:  status.LastCheck,
		AlarmType:  types.AlertHealthDown,
		Severity:   types.SeverityCritical,
		NodeName:   status.Target,
		Message:    "Node health check failing: " + status.Error,
		ServerHost: "",
	})
}

func (m *Monitor) clearAlertState(target string) {
	m.alertMu.Lock()
	state, existed := m.alertState[target]
	delete(m.alertState, target)
	m.alertMu.Unlock()

	if existed && state.AlarmCount > 0 {
		m.alerts.Send(context.Background(), types.Alert{
			Timestamp: time.Now(),
			AlarmType: types.AlertHealthRecovered,
			Severity:  types.SeverityInfo,
			NodeName:  target,
			Message:   "Node health check recovered",
		})
	}
}

// CheckAllRelayers runs one probe cycle over relayers, per SPEC_FULL
// §4.9: service status + uptime stand in for block height.
func (m *Monitor) CheckAllRelayers(ctx context.Context, relayers map[string]RelayerTarget) []types.RelayerHealthStatus {
	var (
		mu       sync.Mutex
		statuses []types.RelayerHealthStatus
		wg       sync.WaitGroup
	)

	for name, relayer := range relayers {
		if m.locks.IsActive(name) {
			mu.Lock()
			statuses = append(statuses, types.RelayerHealthStatus{
				Target:        name,
				Healthy:       false,
				Error:         "relayer is in maintenance mode",
				LastCheck:     time.Now(),
				InMaintenance: true,
			})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string, relayer RelayerTarget) {
			defer wg.Done()
			status := m.probeRelayer(ctx, name, relayer)
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
		}(name, relayer)
	}
	wg.Wait()

	return statuses
}

func (m *Monitor) probeRelayer(ctx context.Context, name string, relayer RelayerTarget) types.RelayerHealthStatus {
	state, uptime, err := m.relayers.ServiceState(ctx, relayer.Server, relayer.ServiceName)
	now := time.Now()
	if err != nil {
		return types.RelayerHealthStatus{Target: name, Status: types.ServiceUnknown, Healthy: false, Error: err.Error(), LastCheck: now}
	}
	return types.RelayerHealthStatus{
		Target:        name,
		Status:        state,
		UptimeSeconds: uptime,
		Healthy:       state == types.ServiceRunning,
		LastCheck:     now,
	}
}
