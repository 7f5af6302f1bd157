// Package agent implements the per-host control surface: an HTTP API
// behind bearer auth and an in-memory job table for long-running
// operations. The operation sequences themselves (snapshot
// create/restore, pruning, state-sync) live in the operations
// subpackage, which the handlers call.
package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/fleetops/pkg/metrics"
	"github.com/cuemby/fleetops/pkg/types"
	"github.com/google/uuid"
)

// JobManager is the agent's in-memory counterpart to the manager's
// OperationStore: `start` generates an id, records a Running job, and
// returns the id immediately; the caller runs the work in its own
// goroutine and calls Finish when done (spec §4.7).
type JobManager struct {
	mu   sync.Mutex
	jobs map[string]*types.Job
}

// NewJobManager constructs an empty JobManager.
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*types.Job)}
}

// Start records a new Running job and returns its id.
func (m *JobManager) Start() string {
	id := uuid.New().String()
	m.mu.Lock()
	m.jobs[id] = &types.Job{
		ID:        id,
		Status:    types.JobRunning,
		StartedAt: time.Now(),
	}
	metrics.JobsActive.Set(float64(len(m.jobs)))
	m.mu.Unlock()
	return id
}

// Finish records the terminal state for id. Calling Finish on an id
// that was never Started, or twice for the same id, is a no-op aside
// from the missing/overwritten record — JobManager does not validate
// caller discipline, mirroring the original's plain HashMap insert.
func (m *JobManager) Finish(id string, result json.RawMessage, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	if err != nil {
		job.Status = types.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = types.JobCompleted
		job.Result = result
	}
}

// Get is a point-read of a job's current state.
func (m *JobManager) Get(id string) (*types.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// CleanupOld removes finished jobs older than maxAge, returning the
// number removed.
func (m *JobManager) CleanupOld(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, job := range m.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	metrics.JobsActive.Set(float64(len(m.jobs)))
	return removed
}
