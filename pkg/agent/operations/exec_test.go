package operations

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunShellCommandSuccess(t *testing.T) {
	out, err := RunShellCommand(context.Background(), "echo hello")
	require.NoError(t, err)
	require.Contains(t, out, "hello")
}

func TestRunShellCommandFailureIncludesOutput(t *testing.T) {
	_, err := RunShellCommand(context.Background(), "echo boom 1>&2; exit 1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestCheckTriggersMatch(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "out1.log")
	require.NoError(t, os.WriteFile(logFile, []byte("line one\npanic: boom\nline three\n"), 0o644))

	found, err := CheckTriggers(context.Background(), logFile, []string{"panic", "fatal"})
	require.NoError(t, err)
	require.True(t, found)
}

func TestCheckTriggersNoMatch(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "out1.log")
	require.NoError(t, os.WriteFile(logFile, []byte("line one\nline two\n"), 0o644))

	found, err := CheckTriggers(context.Background(), logFile, []string{"panic", "fatal"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestCheckTriggersNoWordsIsNoMatch(t *testing.T) {
	found, err := CheckTriggers(context.Background(), "/does/not/matter", nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCheckTriggersMissingFileIsNoMatch(t *testing.T) {
	found, err := CheckTriggers(context.Background(), filepath.Join(t.TempDir(), "missing.log"), []string{"panic"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestServiceStateNeverErrors(t *testing.T) {
	state, err := ServiceState(context.Background(), "definitely-not-a-real-unit-xyz")
	require.NoError(t, err)
	require.Contains(t, []string{"running", "failed", "unknown", "stopped"}, state)
}

func TestServiceUptimeSecondsIsZeroForUnknownUnit(t *testing.T) {
	uptime, _ := ServiceUptimeSeconds(context.Background(), "definitely-not-a-real-unit-xyz")
	require.Equal(t, int64(0), uptime)
}
