package scheduler

import (
	"context"
	"testing"

	"github.com/cuemby/fleetops/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	calls []types.OperationType
}

func (f *fakeExecutor) ExecuteAsync(ctx context.Context, opType types.OperationType, target string, isScheduled bool, work func(context.Context) error) (string, error) {
	f.calls = append(f.calls, opType)
	return "fake-id", nil
}

func TestRegisterRejectsFiveFieldCron(t *testing.T) {
	s := NewScheduler(&fakeExecutor{})
	err := s.Register(JobSpec{Schedule: "0 */5 * * *", Target: "nodeA", Type: types.OperationPruning})
	require.Error(t, err)
}

func TestRegisterAcceptsSixFieldCron(t *testing.T) {
	s := NewScheduler(&fakeExecutor{})
	err := s.Register(JobSpec{Schedule: "0 0 */5 * * *", Target: "nodeA", Type: types.OperationPruning})
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 1)
}

func TestStartDoesNotRunLoopWithNoJobs(t *testing.T) {
	s := NewScheduler(&fakeExecutor{})
	s.Start()
	require.False(t, s.started)
}

func TestStartRunsLoopWhenJobsRegistered(t *testing.T) {
	s := NewScheduler(&fakeExecutor{})
	require.NoError(t, s.Register(JobSpec{Schedule: "0 0 */5 * * *", Target: "nodeA", Type: types.OperationPruning}))
	s.Start()
	defer s.Stop()
	require.True(t, s.started)
}
