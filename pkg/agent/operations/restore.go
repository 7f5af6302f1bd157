// Package operations implements the agent's long-running maintenance
// sequences: snapshot create/restore, pruning, state-sync. Each
// function is a plain sequential series of steps; the caller
// (pkg/agent's HTTP handlers) is responsible for running it in a
// goroutine and reporting the outcome through JobManager.
package operations

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// RestoreRequest carries everything one snapshot-restore needs.
// LogPath is optional; when set, logs are truncated after the service
// restarts.
type RestoreRequest struct {
	ServiceName string
	DeployPath  string
	SnapshotDir string
	LogPath     string
}

const validatorStateFile = "priv_validator_state.json"

// Restore runs the bit-exact snapshot-restore sequence from spec
// §4.7: validate both data/ and wasm/ exist in the snapshot before
// any mutation, stop the service, back up the live validator state
// outside data/, wipe and replace data/+wasm/ from the snapshot,
// restore the backed-up validator state over the snapshot's copy, and
// restart. Steps 3/6 (backup then overwrite) exist so the node's
// signing history never regresses to the snapshot's — a validator
// must never double-sign.
func Restore(ctx context.Context, req RestoreRequest) error {
	if _, err := os.Stat(req.DeployPath); err != nil {
		return fmt.Errorf("operations: deploy path does not exist: %w", err)
	}
	snapshotData := filepath.Join(req.SnapshotDir, "data")
	snapshotWasm := filepath.Join(req.SnapshotDir, "wasm")
	if _, err := os.Stat(snapshotData); err != nil {
		return fmt.Errorf("operations: snapshot missing data directory: %w", err)
	}
	if _, err := os.Stat(snapshotWasm); err != nil {
		return fmt.Errorf("operations: snapshot missing wasm directory: %w", err)
	}

	if err := StopService(ctx, req.ServiceName); err != nil {
		return fmt.Errorf("operations: stop service: %w", err)
	}

	deployData := filepath.Join(req.DeployPath, "data")
	deployWasm := filepath.Join(req.DeployPath, "wasm")
	validatorState := filepath.Join(deployData, validatorStateFile)
	validatorBackup := filepath.Join(req.DeployPath, "priv_validator_state_backup.json")

	haveBackup := true
	if err := copyFile(validatorState, validatorBackup); err != nil {
		if os.IsNotExist(err) {
			// Fresh node with no prior signing state; restore from the
			// snapshot's own validator state instead.
			haveBackup = false
		} else {
			return fmt.Errorf("operations: back up validator state: %w", err)
		}
	}

	if err := os.RemoveAll(deployData); err != nil {
		return fmt.Errorf("operations: remove data directory: %w", err)
	}
	if err := os.RemoveAll(deployWasm); err != nil {
		return fmt.Errorf("operations: remove wasm directory: %w", err)
	}

	if err := copyDirRecursive(snapshotData, deployData); err != nil {
		return fmt.Errorf("operations: copy snapshot data: %w", err)
	}
	if err := copyDirRecursive(snapshotWasm, deployWasm); err != nil {
		return fmt.Errorf("operations: copy snapshot wasm: %w", err)
	}

	if haveBackup {
		if err := copyFile(validatorBackup, validatorState); err != nil {
			return fmt.Errorf("operations: restore validator state: %w", err)
		}
	}

	if err := StartService(ctx, req.ServiceName); err != nil {
		return fmt.Errorf("operations: start service: %w", err)
	}

	if req.LogPath != "" {
		if err := TruncateLog(ctx, req.LogPath); err != nil {
			return fmt.Errorf("operations: truncate log: %w", err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyDirRecursive(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDirRecursive(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}
