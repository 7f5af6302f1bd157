package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// TruncateLog truncates logPath's primary log file (out1.log) to zero
// length without restarting the service, so the running process keeps its
// open file descriptor and continues writing from offset zero.
func TruncateLog(ctx context.Context, logPath string) error {
	f, err := os.OpenFile(filepath.Join(logPath, "out1.log"), os.O_WRONLY, 0)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("agent: open log for truncation: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("agent: truncate log: %w", err)
	}
	return nil
}

// DeleteAllLogs removes every regular file directly under logPath,
// used by the Hermes restart path's optional log cleanup.
func DeleteAllLogs(ctx context.Context, logPath string) error {
	entries, err := os.ReadDir(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("agent: list log directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(logPath, entry.Name())); err != nil {
			return fmt.Errorf("agent: delete log file %s: %w", entry.Name(), err)
		}
	}
	return nil
}
