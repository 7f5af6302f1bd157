package health

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/types"
)

// CommandRunner is the narrow agent surface log monitoring needs.
type CommandRunner interface {
	RunCommand(ctx context.Context, server, command string) (string, error)
}

// LogMonitorNodeConfig is the subset of node configuration the log
// monitor needs per target.
type LogMonitorNodeConfig struct {
	Enabled      bool
	Server       string
	LogPath      string
	Patterns     []string
	ContextLines int
}

// LogMonitor implements spec §4.5's "orthogonal" log-pattern channel:
// every cycle, for each healthy non-maintenance node with log
// monitoring enabled, tail the log and grep for the configured
// pattern union, always on a channel separate from health alerts.
// Grounded on original_source/manager/src/health/log_monitor.rs.
type LogMonitor struct {
	agent  CommandRunner
	alerts AlertSender
}

// NewLogMonitor constructs a LogMonitor.
func NewLogMonitor(agent CommandRunner, alerts AlertSender) *LogMonitor {
	return &LogMonitor{agent: agent, alerts: alerts}
}

// Run scans every healthy, non-maintenance status in statuses against
// its node's log-monitoring configuration.
func (m *LogMonitor) Run(ctx context.Context, statuses []types.HealthStatus, nodes map[string]LogMonitorNodeConfig) {
	logger := log.WithComponent("logmonitor")

	for _, status := range statuses {
		if !status.Healthy || status.InMaintenance {
			continue
		}

		cfg, ok := nodes[status.Target]
		if !ok || !cfg.Enabled || cfg.LogPath == "" || len(cfg.Patterns) == 0 {
			continue
		}

		contextLines := cfg.ContextLines
		if contextLines <= 0 {
			contextLines = 2
		}

		logFile := cfg.LogPath + "/out1.log"
		pattern := strings.Join(cfg.Patterns, "|")
		command := fmt.Sprintf("tail -n 500 '%s' | grep -E -C %d '%s'", logFile, contextLines, pattern)

		output, err := m.agent.RunCommand(ctx, cfg.Server, command)
		if err != nil {
			// A non-zero grep exit (no match) surfaces as a command
			// failure from the agent; that is the expected common case,
			// not something to log loudly.
			logger.Debug().Str("target", status.Target).Err(err).Msg("no log pattern match")
			continue
		}
		if strings.TrimSpace(output) == "" {
			continue
		}

		logger.Warn().Str("target", status.Target).Msg("log pattern match found")
		details, _ := json.Marshal(map[string]any{
			"patterns": cfg.Patterns,
			"match":    output,
		})
		m.alerts.Send(ctx, types.Alert{
			Timestamp:  time.Now(),
			AlarmType:  types.AlertLogPatternMatch,
			Severity:   types.SeverityWarning,
			NodeName:   status.Target,
			Message:    "Log pattern match detected",
			ServerHost: cfg.Server,
			Details:    details,
		})
	}
}
