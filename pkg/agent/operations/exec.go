package operations

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runShell runs command through /bin/sh -c, capturing combined
// stdout+stderr, the way the manager's own log-pattern and
// pruning-list commands are expressed (spec §6: agent endpoints that
// take an arbitrary shell string).
func runShell(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("agent: command failed: %w: %s", err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// RunShellCommand runs an arbitrary operator-supplied command,
// satisfying POST /command/execute (spec §6). It is the same
// primitive the log-pattern monitor drives remotely through
// manager.AgentClient.RunCommand.
func RunShellCommand(ctx context.Context, command string) (string, error) {
	return runShell(ctx, command)
}

// CheckTriggers reports whether any of triggerWords appears in the
// last 500 lines of logFile. It backs /snapshot/check-triggers, which
// the manager's auto-restore check calls. Any failure of the shell
// pipeline (grep's non-zero exit on no match, an unreadable logFile)
// is reported as false with a nil error.
func CheckTriggers(ctx context.Context, logFile string, triggerWords []string) (bool, error) {
	if len(triggerWords) == 0 {
		return false, nil
	}
	pattern := strings.Join(triggerWords, "|")
	command := fmt.Sprintf("tail -n 500 '%s' | grep -E '%s'", logFile, pattern)
	_, err := runShell(ctx, command)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// ServiceState reports a systemd unit's current status. systemctl
// is-active exits non-zero for every state but "active", so the
// command's own error is not informative here — only the printed
// state string is. "active" maps to running, "failed" to failed,
// anything else (inactive, activating, deactivating) to stopped; an
// empty response (unit unknown to systemd) is unknown.
func ServiceState(ctx context.Context, serviceName string) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", fmt.Sprintf("systemctl is-active %s", serviceName))
	var out bytes.Buffer
	cmd.Stdout = &out
	_ = cmd.Run()

	switch strings.TrimSpace(out.String()) {
	case "active":
		return "running", nil
	case "failed":
		return "failed", nil
	case "":
		return "unknown", nil
	default:
		return "stopped", nil
	}
}

// ServiceUptimeSeconds reports how long serviceName has been active,
// via systemctl show's ActiveEnterTimestamp. Returns 0 if the service
// is not currently active.
func ServiceUptimeSeconds(ctx context.Context, serviceName string) (int64, error) {
	out, err := runShell(ctx, fmt.Sprintf(
		"systemctl show %s --property=ActiveEnterTimestamp --property=ActiveState --value", serviceName))
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 || lines[1] != "active" {
		return 0, nil
	}
	epoch, err := runShell(ctx, fmt.Sprintf("date -d '%s' +%%s", strings.TrimSpace(lines[0])))
	if err != nil {
		return 0, nil
	}
	now, err := runShell(ctx, "date +%s")
	if err != nil {
		return 0, nil
	}
	var started, nowSecs int64
	fmt.Sscanf(strings.TrimSpace(epoch), "%d", &started)
	fmt.Sscanf(strings.TrimSpace(now), "%d", &nowSecs)
	if started <= 0 || nowSecs < started {
		return 0, nil
	}
	return nowSecs - started, nil
}

// StartService starts a systemd unit.
func StartService(ctx context.Context, serviceName string) error {
	_, err := runShell(ctx, fmt.Sprintf("systemctl start %s", serviceName))
	return err
}

// StopService stops a systemd unit.
func StopService(ctx context.Context, serviceName string) error {
	_, err := runShell(ctx, fmt.Sprintf("systemctl stop %s", serviceName))
	return err
}
