package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/fleetops/pkg/alert"
	"github.com/cuemby/fleetops/pkg/errs"
	"github.com/cuemby/fleetops/pkg/scheduler"
	"github.com/cuemby/fleetops/pkg/storage"
	"github.com/cuemby/fleetops/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*OperationExecutor, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	locks := scheduler.NewMaintenanceTracker()
	alerts := alert.NewService("") // silent mode, no webhook
	resolve := func(target string) (string, bool) { return "server-1", true }

	return NewOperationExecutor(store, locks, alerts, resolve), store
}

func waitForTerminal(t *testing.T, store storage.Store, id string) *types.Operation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		op, err := store.GetOperation(id)
		require.NoError(t, err)
		if op.Status == types.StatusCompleted || op.Status == types.StatusFailed {
			return op
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("operation never reached a terminal state")
	return nil
}

func TestExecuteAsyncPersistsStartedThenCompleted(t *testing.T) {
	exec, store := newTestExecutor(t)

	id, err := exec.ExecuteAsync(context.Background(), types.OperationPruning, "nodeA", false, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	op := waitForTerminal(t, store, id)
	require.Equal(t, types.StatusCompleted, op.Status)
	require.Equal(t, "server-1", op.Server)
}

func TestExecuteAsyncPersistsFailure(t *testing.T) {
	exec, store := newTestExecutor(t)

	id, err := exec.ExecuteAsync(context.Background(), types.OperationSnapshotCreation, "nodeA", true, func(ctx context.Context) error {
		return errors.New("disk full")
	})
	require.NoError(t, err)

	op := waitForTerminal(t, store, id)
	require.Equal(t, types.StatusFailed, op.Status)
	require.Equal(t, "disk full", op.Error)
}

func TestExecuteAsyncRejectsWhenTargetLocked(t *testing.T) {
	exec, _ := newTestExecutor(t)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	_, err := exec.ExecuteAsync(context.Background(), types.OperationPruning, "nodeA", false, func(ctx context.Context) error {
		defer wg.Done()
		<-release
		return nil
	})
	require.NoError(t, err)

	_, err = exec.ExecuteAsync(context.Background(), types.OperationSnapshotCreation, "nodeA", false, func(ctx context.Context) error {
		return nil
	})
	require.ErrorIs(t, err, errs.ErrLockBusy)

	close(release)
	wg.Wait()
}

func TestCancelReleasesLockAndMarksFailed(t *testing.T) {
	exec, store := newTestExecutor(t)
	release := make(chan struct{})

	id, err := exec.ExecuteAsync(context.Background(), types.OperationPruning, "nodeA", false, func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, exec.Cancel(id, "nodeA"))

	op, err := store.GetOperation(id)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, op.Status)

	// The target lock is free again even though the background work
	// is still running (spec §9: manager and agent records may diverge).
	_, err = exec.ExecuteAsync(context.Background(), types.OperationSnapshotCreation, "nodeA", false, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	close(release)
}
