package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
)

// SnapshotRequest carries everything one snapshot-creation run needs.
type SnapshotRequest struct {
	ServiceName string
	Network     string
	DeployPath  string
	BackupPath  string
	LogPath     string
	Compress    bool
}

// SnapshotResult describes the artifact Create produced, returned as
// the job's output (spec §6's async `output` payload).
type SnapshotResult struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	Compression string `json:"compression"`
}

// snapshotDirName builds the `<network>_<YYYYMMDD>_<HHMMSS>` directory
// name spec §6 requires, anchored to the supplied instant so the call
// site (not time.Now, unavailable during testing/replay here) controls it.
func snapshotDirName(network string, at time.Time) string {
	return fmt.Sprintf("%s_%s", network, at.UTC().Format("20060102_150405"))
}

// Create runs spec §4.7's snapshot-creation sequence: stop the
// service, copy data/+wasm/ into a timestamped backup directory,
// restart, and optionally kick off a background LZ4 compression pass
// whose completion the caller does not wait on.
func Create(ctx context.Context, req SnapshotRequest, at time.Time) (SnapshotResult, error) {
	if err := StopService(ctx, req.ServiceName); err != nil {
		return SnapshotResult{}, fmt.Errorf("operations: stop service: %w", err)
	}

	dirName := snapshotDirName(req.Network, at)
	snapshotPath := filepath.Join(req.BackupPath, dirName)

	copyErr := func() error {
		if err := copyDirRecursive(filepath.Join(req.DeployPath, "data"), filepath.Join(snapshotPath, "data")); err != nil {
			return fmt.Errorf("operations: copy data directory: %w", err)
		}
		if err := copyDirRecursive(filepath.Join(req.DeployPath, "wasm"), filepath.Join(snapshotPath, "wasm")); err != nil {
			return fmt.Errorf("operations: copy wasm directory: %w", err)
		}
		return nil
	}()

	if startErr := StartService(ctx, req.ServiceName); startErr != nil {
		if copyErr != nil {
			return SnapshotResult{}, fmt.Errorf("%w (also failed to restart service: %v)", copyErr, startErr)
		}
		return SnapshotResult{}, fmt.Errorf("operations: start service: %w", startErr)
	}
	if copyErr != nil {
		return SnapshotResult{}, copyErr
	}

	if req.LogPath != "" {
		if err := TruncateLog(ctx, req.LogPath); err != nil {
			return SnapshotResult{}, fmt.Errorf("operations: truncate log: %w", err)
		}
	}

	result := SnapshotResult{Filename: dirName, Path: snapshotPath, Compression: "directory"}

	if req.Compress {
		go compressSnapshotBackground(snapshotPath)
	}

	return result, nil
}

// compressSnapshotBackground runs in its own goroutine, independent
// of the job's lifecycle, and nobody waits for its result. Failures are
// neither logged nor reported: when the tar or the LZ4 close fails, the
// .tmp file is removed and no archive appears.
func compressSnapshotBackground(snapshotPath string) {
	archivePath := snapshotPath + ".tar.lz4"
	tmp := archivePath + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return
	}
	defer out.Close()

	zw := lz4.NewWriter(out)
	defer zw.Close()

	if err := tarInto(zw, snapshotPath); err != nil {
		_ = os.Remove(tmp)
		return
	}
	if err := zw.Close(); err != nil {
		_ = os.Remove(tmp)
		return
	}
	_ = out.Close()
	_ = os.Rename(tmp, archivePath)
}
